package algolab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/erdoganonur/bist-trading-platform-sub003/internal/backoff"
)

// Vendor endpoint paths. The Checker header is computed over these
// exact strings.
const (
	pathLoginUser             = "/api/LoginUser"
	pathLoginUserControl      = "/api/LoginUserControl"
	pathSessionRefresh        = "/api/SessionRefresh"
	pathSendOrder             = "/api/SendOrder"
	pathModifyOrder           = "/api/ModifyOrder"
	pathDeleteOrder           = "/api/DeleteOrder"
	pathDeleteOrderViop       = "/api/DeleteOrderViop"
	pathGetEquityInfo         = "/api/GetEquityInfo"
	pathGetCandleData         = "/api/GetCandleData"
	pathInstantPosition       = "/api/InstantPosition"
	pathTodaysTransaction     = "/api/TodaysTransaction"
	pathCashFlow              = "/api/CashFlow"
	pathAccountExtre          = "/api/AccountExtre"
	pathGetEquityOrderHistory = "/api/GetEquityOrderHistory"
	pathGetViopOrderHistory   = "/api/GetViopOrderHistory"
	pathRiskSimulation        = "/api/RiskSimulation"
)

// ClientOpts contains options for the AlgoLab client.
type ClientOpts struct {
	// APIKey is the vendor-issued API key. Falls back to ALGOLAB_API_KEY.
	APIKey string
	// Hostname is hashed verbatim into the Checker header. Falls back to
	// ALGOLAB_HOSTNAME, then to BaseURL.
	Hostname string
	// BaseURL is the REST endpoint root. Falls back to ALGOLAB_BASE_URL.
	BaseURL string
	// SessionPath overrides where the session document is persisted.
	// Falls back to ALGOLAB_SESSION_PATH, then to the per-user default.
	SessionPath string
	// SessionTTL bounds how long a new session stays valid.
	SessionTTL time.Duration
	// Timeout is the wall clock budget of a single call, retries
	// included, when the caller's context carries no deadline.
	Timeout time.Duration
	// RetryLimit is the number of additional attempts after a transient
	// failure of a retryable call.
	RetryLimit int
	// RetryDelay is the backoff before the first retry. Subsequent
	// retries double it, with jitter.
	RetryDelay time.Duration
	Logger     Logger
}

// Client is the AlgoLab REST client. Every request it sends carries the
// APIKEY, Authorization and Checker headers described in the vendor
// integration guide.
type Client struct {
	opts ClientOpts
	auth *Coordinator

	do func(c *Client, req *http.Request) (*http.Response, error)
}

// NewClient creates a new AlgoLab client using the given opts. A
// session persisted by an earlier process is resumed when still valid.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.APIKey == "" {
		opts.APIKey = os.Getenv("ALGOLAB_API_KEY")
	}
	if opts.BaseURL == "" {
		if s := os.Getenv("ALGOLAB_BASE_URL"); s != "" {
			opts.BaseURL = s
		} else {
			opts.BaseURL = "https://www.algolab.com.tr"
		}
	}
	if opts.Hostname == "" {
		if s := os.Getenv("ALGOLAB_HOSTNAME"); s != "" {
			opts.Hostname = s
		} else {
			opts.Hostname = opts.BaseURL
		}
	}
	if opts.SessionPath == "" {
		opts.SessionPath = os.Getenv("ALGOLAB_SESSION_PATH")
	}
	if opts.SessionTTL == 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryLimit == 0 {
		opts.RetryLimit = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}

	store, err := NewSessionStore(opts.SessionPath)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts: opts,

		do: defaultDo,
	}
	c.auth = newCoordinator(c, store)
	return c, nil
}

// Auth exposes the session coordinator bound to this client.
func (c *Client) Auth() *Coordinator { return c.auth }

func defaultDo(c *Client, req *http.Request) (*http.Response, error) {
	client := &http.Client{
		Timeout: c.opts.Timeout,
	}
	return client.Do(req)
}

// callFlags adjust how call treats a single endpoint.
type callFlags uint8

const (
	// flagIdempotent marks calls safe to retry on transient failures:
	// reads, and mutations keyed by a stable identifier.
	flagIdempotent callFlags = 1 << iota
	// flagNoAuth skips the Authorization header and the
	// refresh-and-retry path. Used by the login exchange itself.
	flagNoAuth
	// flagNoAuthRetry sends the Authorization header but surfaces a
	// rejection instead of refreshing, so the refresh call itself can
	// never recurse.
	flagNoAuthRetry
)

// responseEnvelope is the wrapper every REST response arrives in.
type responseEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Content json.RawMessage `json:"content"`
}

const retryMaxDelay = 2 * time.Second

// call performs one logical API call: sign, send, classify, retry where
// allowed, and decode the response envelope into out.
func (c *Client) call(ctx context.Context, path string, body, out interface{}, flags callFlags) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return wrapError(KindFatal, "encode request body", err)
		}
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	retries := 0
	authRetried := false
	for {
		apiErr := c.once(ctx, path, payload, out, flags)
		if apiErr == nil {
			return nil
		}

		switch {
		case apiErr.Kind == KindUnauthenticated && flags&(flagNoAuth|flagNoAuthRetry) == 0:
			if authRetried {
				// second rejection in a row: the refreshed session is no
				// good either
				c.auth.invalidate()
				return &Error{Kind: KindAuth, Message: "session rejected after refresh, interactive login required", wrapped: apiErr}
			}
			authRetried = true
			if err := c.auth.Refresh(ctx); err != nil {
				return err
			}
		case apiErr.Kind == KindTransient && flags&flagIdempotent != 0 && retries < c.opts.RetryLimit:
			d := backoff.Delay(retries, c.opts.RetryDelay, 2, retryMaxDelay, 0.2)
			retries++
			if err := backoff.Sleep(ctx, d); err != nil {
				return apiErr
			}
		default:
			return apiErr
		}
	}
}

// once performs a single signed attempt against path.
func (c *Client) once(ctx context.Context, path string, payload []byte, out interface{}, flags callFlags) *Error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+path, body)
	if err != nil {
		return wrapError(KindFatal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	hash := ""
	if flags&flagNoAuth == 0 {
		hash = c.auth.Hash()
	}
	signRequest(req, c.opts.APIKey, c.opts.Hostname, path, hash)

	resp, err := c.do(c, req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return wrapError(KindFatal, "request canceled", err)
		}
		return wrapError(KindTransient, "send request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapError(KindTransient, "read response", err)
	}

	if apiErr := classifyStatus(resp, raw); apiErr != nil {
		return apiErr
	}

	var env responseEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &Error{Kind: KindProtocol, Message: "response is not a valid envelope", StatusCode: resp.StatusCode, Body: string(raw), wrapped: err}
	}
	if !env.Success {
		if isSessionExpiredMessage(env.Message) {
			return &Error{Kind: KindUnauthenticated, Message: env.Message, StatusCode: resp.StatusCode}
		}
		return &Error{Kind: KindBusiness, Message: env.Message, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out != nil {
		if len(env.Content) == 0 {
			return &Error{Kind: KindProtocol, Message: "envelope content missing", StatusCode: resp.StatusCode, Body: string(raw)}
		}
		if err := json.Unmarshal(env.Content, out); err != nil {
			return &Error{Kind: KindProtocol, Message: "decode envelope content", StatusCode: resp.StatusCode, Body: string(raw), wrapped: err}
		}
	}
	return nil
}

// classifyStatus maps a failing response status onto the error
// taxonomy.
func classifyStatus(resp *http.Response, body []byte) *Error {
	status := resp.StatusCode
	switch {
	case status < http.StatusMultipleChoices:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: KindUnauthenticated, Message: "session hash rejected", StatusCode: status, Body: string(body)}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: "rate limited", StatusCode: status, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")), Body: string(body)}
	case status == http.StatusRequestTimeout || status >= 500:
		return &Error{Kind: KindTransient, Message: http.StatusText(status), StatusCode: status, Body: string(body)}
	default:
		e := &Error{Kind: KindBusiness, StatusCode: status, Body: string(body)}
		var env responseEnvelope
		if err := json.Unmarshal(body, &env); err == nil && env.Message != "" {
			e.Message = env.Message
		} else {
			e.Message = http.StatusText(status)
		}
		return e
	}
}

const defaultRetryAfter = 5 * time.Second

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}

func isSessionExpiredMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "session expired")
}

// SendOrderRequest is the order entry payload.
type SendOrderRequest struct {
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Type     OrderType       `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	// Price must be nil for market orders.
	Price       *decimal.Decimal `json:"price,omitempty"`
	TimeInForce TimeInForce      `json:"timeInForce,omitempty"`
	// ClientOrderID is the caller-assigned idempotency key echoed back
	// on the order status stream.
	ClientOrderID     string `json:"clientOrderId,omitempty"`
	SMSNotification   bool   `json:"sms"`
	EmailNotification bool   `json:"email"`
	SubAccount        string `json:"subAccount,omitempty"`
}

// ModifyOrderRequest updates price and/or quantity of a resting order.
type ModifyOrderRequest struct {
	BrokerOrderID string           `json:"brokerOrderId"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	Viop          bool             `json:"viop,omitempty"`
	SubAccount    string           `json:"subAccount,omitempty"`
}

// DeleteOrderRequest cancels a resting order by its broker identifier.
type DeleteOrderRequest struct {
	BrokerOrderID string `json:"brokerOrderId"`
	SubAccount    string `json:"subAccount,omitempty"`
}

// SendOrder submits a new order. It is not retried on transient
// failures: without an acknowledgement the order state is unknown.
func (c *Client) SendOrder(ctx context.Context, req SendOrderRequest) (*OrderResult, error) {
	result := &OrderResult{}
	if err := c.call(ctx, pathSendOrder, req, result, 0); err != nil {
		return nil, err
	}
	return result, nil
}

// ModifyOrder updates a resting order. Like SendOrder it is never
// retried automatically.
func (c *Client) ModifyOrder(ctx context.Context, req ModifyOrderRequest) (*OrderResult, error) {
	result := &OrderResult{}
	if err := c.call(ctx, pathModifyOrder, req, result, 0); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteOrder cancels a resting equity order. Cancels are keyed by the
// broker order id and are retried on transient failures.
func (c *Client) DeleteOrder(ctx context.Context, req DeleteOrderRequest) (*OrderResult, error) {
	result := &OrderResult{}
	if err := c.call(ctx, pathDeleteOrder, req, result, flagIdempotent); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteOrderViop cancels a resting derivatives order.
func (c *Client) DeleteOrderViop(ctx context.Context, req DeleteOrderRequest) (*OrderResult, error) {
	result := &OrderResult{}
	if err := c.call(ctx, pathDeleteOrderViop, req, result, flagIdempotent); err != nil {
		return nil, err
	}
	return result, nil
}

type symbolRequest struct {
	Symbol string `json:"symbol"`
}

// GetEquityInfo returns the current quote for one instrument.
func (c *Client) GetEquityInfo(ctx context.Context, symbol string) (*EquityInfo, error) {
	info := &EquityInfo{}
	if err := c.call(ctx, pathGetEquityInfo, symbolRequest{Symbol: symbol}, info, flagIdempotent); err != nil {
		return nil, err
	}
	return info, nil
}

type candleRequest struct {
	Symbol string       `json:"symbol"`
	Period CandlePeriod `json:"period"`
}

// GetCandleData returns OHLCV bars for the instrument at the given
// resolution, oldest first.
func (c *Client) GetCandleData(ctx context.Context, symbol string, period CandlePeriod) ([]Candle, error) {
	var candles candleSlice
	if err := c.call(ctx, pathGetCandleData, candleRequest{Symbol: symbol, Period: period}, &candles, flagIdempotent); err != nil {
		return nil, err
	}
	return candles, nil
}

type subAccountRequest struct {
	SubAccount string `json:"subAccount,omitempty"`
}

// InstantPosition returns the current portfolio rows.
func (c *Client) InstantPosition(ctx context.Context, subAccount string) ([]Position, error) {
	var positions positionSlice
	if err := c.call(ctx, pathInstantPosition, subAccountRequest{SubAccount: subAccount}, &positions, flagIdempotent); err != nil {
		return nil, err
	}
	return positions, nil
}

// TodaysTransactions returns today's orders with their current states.
func (c *Client) TodaysTransactions(ctx context.Context, subAccount string) ([]Transaction, error) {
	var transactions transactionSlice
	if err := c.call(ctx, pathTodaysTransaction, subAccountRequest{SubAccount: subAccount}, &transactions, flagIdempotent); err != nil {
		return nil, err
	}
	return transactions, nil
}

type cashFlowRequest struct {
	Date civil.Date `json:"date"`
}

// CashFlow returns settled and settling cash for the given value date.
// The zero date means today.
func (c *Client) CashFlow(ctx context.Context, date civil.Date) (*CashFlow, error) {
	flow := &CashFlow{}
	if err := c.call(ctx, pathCashFlow, cashFlowRequest{Date: date}, flow, flagIdempotent); err != nil {
		return nil, err
	}
	return flow, nil
}

type accountExtreRequest struct {
	Start      civil.Date `json:"start"`
	End        civil.Date `json:"end"`
	SubAccount string     `json:"subAccount,omitempty"`
}

// AccountExtre returns the account statement rows between start and end
// inclusive.
func (c *Client) AccountExtre(ctx context.Context, start, end civil.Date, subAccount string) ([]StatementEntry, error) {
	if end.Before(start) {
		return nil, newError(KindFatal, "statement range end precedes start")
	}
	var entries statementSlice
	if err := c.call(ctx, pathAccountExtre, accountExtreRequest{Start: start, End: end, SubAccount: subAccount}, &entries, flagIdempotent); err != nil {
		return nil, err
	}
	return entries, nil
}

type orderHistoryRequest struct {
	Ref        string `json:"ref"`
	Symbol     string `json:"symbol,omitempty"`
	SubAccount string `json:"subAccount,omitempty"`
}

// GetEquityOrderHistory returns the state transitions of one equity
// order, oldest first.
func (c *Client) GetEquityOrderHistory(ctx context.Context, ref, symbol string) ([]OrderHistoryEntry, error) {
	var entries orderHistorySlice
	if err := c.call(ctx, pathGetEquityOrderHistory, orderHistoryRequest{Ref: ref, Symbol: symbol}, &entries, flagIdempotent); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetViopOrderHistory returns the state transitions of one derivatives
// order, oldest first.
func (c *Client) GetViopOrderHistory(ctx context.Context, ref, subAccount string) ([]OrderHistoryEntry, error) {
	var entries orderHistorySlice
	if err := c.call(ctx, pathGetViopOrderHistory, orderHistoryRequest{Ref: ref, SubAccount: subAccount}, &entries, flagIdempotent); err != nil {
		return nil, err
	}
	return entries, nil
}

// RiskSimulation returns the account-level margin and risk picture.
func (c *Client) RiskSimulation(ctx context.Context) (*RiskSimulation, error) {
	risk := &RiskSimulation{}
	if err := c.call(ctx, pathRiskSimulation, nil, risk, flagIdempotent); err != nil {
		return nil, err
	}
	return risk, nil
}
