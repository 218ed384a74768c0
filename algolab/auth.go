package algolab

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AuthState is the position of the session coordinator in the two-step
// login flow.
type AuthState uint8

const (
	// StateUnauthenticated means no usable session exists.
	StateUnauthenticated AuthState = iota
	// StateChallenged means credentials were accepted and the vendor has
	// sent an SMS code that must be exchanged for a session.
	StateChallenged
	// StateAuthenticated means a session hash is held and attached to
	// every signed request.
	StateAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "UNAUTHENTICATED"
	case StateChallenged:
		return "CHALLENGED"
	case StateAuthenticated:
		return "AUTHENTICATED"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// refreshCoalesceWindow is how recently a refresh must have completed
// for a new refresh request to piggyback on its result instead of
// going to the wire again.
const refreshCoalesceWindow = 2 * time.Second

// Coordinator drives the two-step SMS login and owns the process-wide
// session. It persists every new session before announcing it and
// clears the persisted copy when the vendor stops accepting it.
type Coordinator struct {
	client *Client
	store  *SessionStore

	mu              sync.RWMutex
	state           AuthState
	session         *Session
	challengeToken  string
	pendingUsername string

	// refreshMu serializes refresh flights so concurrent rejections
	// trigger a single wire call.
	refreshMu sync.Mutex
}

func newCoordinator(c *Client, store *SessionStore) *Coordinator {
	co := &Coordinator{
		client: c,
		store:  store,
	}
	s, err := store.Load()
	if err != nil {
		c.opts.Logger.Warnf("algolab: ignoring unreadable session file: %v", err)
	}
	if s != nil {
		co.session = s
		co.state = StateAuthenticated
		c.opts.Logger.Infof("algolab: resumed persisted session, valid until %s", s.ExpiresAt.Format(time.RFC3339))
	}
	return co
}

// State returns the current auth state.
func (co *Coordinator) State() AuthState {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return co.state
}

// Session returns a copy of the current session, or nil.
func (co *Coordinator) Session() *Session {
	co.mu.RLock()
	defer co.mu.RUnlock()
	if co.session == nil {
		return nil
	}
	s := *co.session
	return &s
}

// Hash returns the current session hash, or empty when no session is
// held. Used for the Authorization header and the stream handshake.
func (co *Coordinator) Hash() string {
	co.mu.RLock()
	defer co.mu.RUnlock()
	if co.session == nil {
		return ""
	}
	return co.session.Hash
}

// Store exposes the session store backing this coordinator.
func (co *Coordinator) Store() *SessionStore { return co.store }

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginContent struct {
	Token string `json:"token"`
}

type loginControlRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

type loginControlContent struct {
	Hash string `json:"hash"`
}

// BeginLogin submits the username and password. On success the vendor
// sends an SMS code to the registered phone and the returned challenge
// token must be passed to CompleteLogin together with that code.
//
// The call is never retried automatically: a duplicate would trigger a
// second SMS.
func (co *Coordinator) BeginLogin(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", newError(KindFatal, "username and password required")
	}

	content := &loginContent{}
	err := co.client.call(ctx, pathLoginUser, loginRequest{Username: username, Password: password}, content, flagNoAuth)
	if err != nil {
		return "", asAuthError(err, "credentials rejected")
	}
	if content.Token == "" {
		return "", newError(KindProtocol, "login response carried no challenge token")
	}

	co.mu.Lock()
	co.challengeToken = content.Token
	co.pendingUsername = username
	co.state = StateChallenged
	co.mu.Unlock()

	co.client.opts.Logger.Infof("algolab: login challenge issued, waiting for SMS code")
	return content.Token, nil
}

// CompleteLogin exchanges the challenge token and SMS code for a
// session. An empty challengeToken reuses the one issued by the last
// BeginLogin on this coordinator. The new session is persisted before
// the transition to AUTHENTICATED becomes observable; when persisting
// fails the coordinator stays in CHALLENGED and the error is surfaced.
func (co *Coordinator) CompleteLogin(ctx context.Context, challengeToken, smsCode string) (*Session, error) {
	co.mu.RLock()
	username := co.pendingUsername
	if challengeToken == "" {
		challengeToken = co.challengeToken
	}
	co.mu.RUnlock()

	if challengeToken == "" {
		return nil, newError(KindAuth, "no pending login challenge, call BeginLogin first")
	}
	if smsCode == "" {
		return nil, newError(KindAuth, "sms code required")
	}

	content := &loginControlContent{}
	err := co.client.call(ctx, pathLoginUserControl, loginControlRequest{Token: challengeToken, Code: smsCode}, content, flagNoAuth)
	if err != nil {
		// invalid or expired code: the challenge may still be retried
		return nil, asAuthError(err, "sms code rejected")
	}
	if content.Hash == "" {
		return nil, newError(KindProtocol, "login control response carried no session hash")
	}

	now := time.Now()
	session := &Session{
		Token:         challengeToken,
		Hash:          content.Hash,
		IssuedAt:      now,
		ExpiresAt:     now.Add(co.client.opts.SessionTTL),
		LastRefreshAt: now,
		Metadata: SessionMetadata{
			Username: username,
			Hostname: co.client.opts.Hostname,
		},
	}
	if err := co.store.Save(session); err != nil {
		return nil, err
	}

	co.mu.Lock()
	co.session = session
	co.state = StateAuthenticated
	co.challengeToken = ""
	co.mu.Unlock()

	co.client.opts.Logger.Infof("algolab: session established, valid until %s", session.ExpiresAt.Format(time.RFC3339))
	s := *session
	return &s, nil
}

// Refresh extends the current session server-side. Concurrent callers
// share a single wire call: whoever enters after a flight completed
// within refreshCoalesceWindow returns its result without another
// round trip. When the vendor rejects the refresh the session is
// destroyed and an interactive login is required.
func (co *Coordinator) Refresh(ctx context.Context) error {
	co.refreshMu.Lock()
	defer co.refreshMu.Unlock()

	co.mu.RLock()
	var last time.Time
	hash := ""
	if co.session != nil {
		last = co.session.LastRefreshAt
		hash = co.session.Hash
	}
	co.mu.RUnlock()

	if hash == "" {
		return newError(KindAuth, "no session to refresh, interactive login required")
	}
	if !last.IsZero() && time.Since(last) < refreshCoalesceWindow {
		// another flight refreshed moments ago
		return nil
	}

	err := co.client.call(ctx, pathSessionRefresh, nil, nil, flagIdempotent|flagNoAuthRetry)
	if err != nil {
		if IsUnauthenticated(err) || IsAuth(err) {
			co.invalidate()
			return &Error{Kind: KindAuth, Message: "session refresh rejected, interactive login required", wrapped: err}
		}
		return err
	}

	now := time.Now()
	var refreshed *Session
	co.mu.Lock()
	if co.session != nil {
		co.session.LastRefreshAt = now
		co.session.ExpiresAt = now.Add(co.client.opts.SessionTTL)
		s := *co.session
		refreshed = &s
	}
	co.mu.Unlock()

	if refreshed == nil {
		return newError(KindAuth, "session destroyed during refresh")
	}
	if err := co.store.Save(refreshed); err != nil {
		// the in-memory session stays usable either way
		co.client.opts.Logger.Errorf("algolab: persisting refreshed session failed: %v", err)
	}
	co.client.opts.Logger.Infof("algolab: session refreshed, valid until %s", refreshed.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Logout destroys the session locally and removes the persisted copy.
func (co *Coordinator) Logout() error {
	co.client.opts.Logger.Infof("algolab: logging out")
	return co.invalidate()
}

// MarkStreamConnected records the stream connectivity flag on the
// session.
func (co *Coordinator) MarkStreamConnected(connected bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.session == nil {
		return
	}
	co.session.StreamConnected = connected
	if connected {
		co.session.StreamLastConnectedAt = time.Now()
	}
}

// invalidate drops the session from memory and disk.
func (co *Coordinator) invalidate() error {
	co.mu.Lock()
	co.session = nil
	co.state = StateUnauthenticated
	co.challengeToken = ""
	co.mu.Unlock()
	return co.store.Clear()
}

// asAuthError converts vendor rejections of the login endpoints into
// KindAuth, leaving transport-level failures untouched.
func asAuthError(err error, msg string) error {
	if IsBusiness(err) || IsUnauthenticated(err) {
		return &Error{Kind: KindAuth, Message: msg, wrapped: err}
	}
	return err
}
