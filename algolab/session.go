package algolab

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// sessionSchema is the version tag of the persisted session document.
// Documents with any other value are treated as absent.
const sessionSchema = 1

// DefaultSessionTTL is how long a freshly issued session stays valid.
const DefaultSessionTTL = 24 * time.Hour

const (
	sessionDirName  = ".bist-trading"
	sessionFileName = "session.json"
)

// sessionFileMu serializes all session file access in the process, so
// concurrent stores pointed at the same path never interleave writes.
var sessionFileMu sync.Mutex

// SessionMetadata records who the session belongs to and which vendor
// host issued it.
type SessionMetadata struct {
	Username string `json:"username"`
	Hostname string `json:"hostname"`
}

// Session is an authenticated vendor session. Token is the login
// exchange token, Hash the long-lived credential attached to every
// signed request. Both are secrets and are never logged.
type Session struct {
	Token     string
	Hash      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Metadata  SessionMetadata

	// Runtime state, not persisted.
	LastRefreshAt         time.Time
	StreamConnected       bool
	StreamLastConnectedAt time.Time
}

// Valid reports whether the session can still sign requests at the
// given instant.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Hash != "" && now.Before(s.ExpiresAt)
}

// sessionDocument is the on-disk shape of a session.
type sessionDocument struct {
	Schema    int             `json:"schema"`
	Token     string          `json:"token"`
	Hash      string          `json:"hash"`
	IssuedAt  time.Time       `json:"issuedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Metadata  SessionMetadata `json:"metadata"`
}

// SessionStore persists a single session document to disk. Writes are
// atomic (temp file + rename) and the file is created owner-readable
// only.
type SessionStore struct {
	path string
}

// DefaultSessionPath returns the per-user session file location,
// ~/.bist-trading/session.json.
func DefaultSessionPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, sessionDirName, sessionFileName), nil
}

// NewSessionStore returns a store writing to path. An empty path
// selects DefaultSessionPath.
func NewSessionStore(path string) (*SessionStore, error) {
	if path == "" {
		p, err := DefaultSessionPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &SessionStore{path: path}, nil
}

// Path returns the file the store reads and writes.
func (st *SessionStore) Path() string { return st.path }

// Load reads the persisted session. It returns (nil, nil) when no
// usable session exists: the file is missing, malformed, carries an
// unknown schema, or the session has expired. Expired documents are
// removed from disk.
func (st *SessionStore) Load() (*Session, error) {
	sessionFileMu.Lock()
	defer sessionFileMu.Unlock()

	data, err := os.ReadFile(st.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, wrapError(KindFatal, "read session file", err)
	}

	var doc sessionDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil
	}
	if doc.Schema != sessionSchema || doc.Hash == "" {
		return nil, nil
	}
	if !time.Now().Before(doc.ExpiresAt) {
		// stale credentials are not left on disk
		os.Remove(st.path)
		return nil, nil
	}

	return &Session{
		Token:     doc.Token,
		Hash:      doc.Hash,
		IssuedAt:  doc.IssuedAt,
		ExpiresAt: doc.ExpiresAt,
		Metadata:  doc.Metadata,
	}, nil
}

// Save writes the session document atomically, creating the parent
// directory when needed. The file never transits through a state a
// concurrent reader could see half-written.
func (st *SessionStore) Save(s *Session) error {
	if s == nil || s.Hash == "" {
		return newError(KindFatal, "refusing to persist empty session")
	}

	sessionFileMu.Lock()
	defer sessionFileMu.Unlock()

	doc := sessionDocument{
		Schema:    sessionSchema,
		Token:     s.Token,
		Hash:      s.Hash,
		IssuedAt:  s.IssuedAt,
		ExpiresAt: s.ExpiresAt,
		Metadata:  s.Metadata,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return wrapError(KindFatal, "encode session", err)
	}

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return wrapError(KindFatal, "create session directory", err)
	}

	tmp, err := os.CreateTemp(dir, sessionFileName+".tmp-*")
	if err != nil {
		return wrapError(KindFatal, "create session temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return wrapError(KindFatal, "chmod session file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return wrapError(KindFatal, "write session file", err)
	}
	if err := tmp.Close(); err != nil {
		return wrapError(KindFatal, "close session file", err)
	}
	if err := os.Rename(tmpName, st.path); err != nil {
		return wrapError(KindFatal, "replace session file", err)
	}
	return nil
}

// Clear removes the persisted session. Removing an absent file is not
// an error.
func (st *SessionStore) Clear() error {
	sessionFileMu.Lock()
	defer sessionFileMu.Unlock()

	if err := os.Remove(st.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrapError(KindFatal, "remove session file", err)
	}
	return nil
}
