package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erdoganonur/bist-trading-platform-sub003/algolab"
	"github.com/erdoganonur/bist-trading-platform-sub003/algolab/stream"
)

type noopSession struct{}

func (noopSession) Hash() string               { return "hash-1" }
func (noopSession) MarkStreamConnected(_ bool) {}

func testFacade(t *testing.T, handler http.Handler) *Facade {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	rest, err := algolab.NewClient(algolab.ClientOpts{
		APIKey:      "AK",
		Hostname:    "h",
		BaseURL:     ts.URL,
		SessionPath: filepath.Join(t.TempDir(), "session.json"),
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)

	sc := stream.NewClient(noopSession{}, stream.WithLogger(stream.ErrorOnlyLogger()))
	return New(rest, sc, stream.ErrorOnlyLogger())
}

func envelope(t *testing.T, content interface{}) string {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	return fmt.Sprintf(`{"success":true,"message":"","content":%s}`, raw)
}

func TestSendOrderAssignsClientOrderID(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/SendOrder", r.URL.Path)
		var req algolab.SendOrderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.ClientOrderID)
		fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-1", Status: algolab.OrderSubmitted}))
	}))

	ack, err := f.SendOrder(context.Background(), Order{
		Symbol:   "AKBNK",
		Side:     algolab.Buy,
		Type:     algolab.Limit,
		Quantity: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.ClientOrderID)
	assert.Equal(t, "b-1", ack.BrokerOrderID)
	assert.Equal(t, algolab.OrderSubmitted, ack.Status)
}

func TestSendOrderKeepsCallerID(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-2", Status: algolab.OrderSubmitted}))
	}))

	ack, err := f.SendOrder(context.Background(), Order{
		ClientOrderID: "mine-1",
		Symbol:        "AKBNK",
		Side:          algolab.Sell,
		Type:          algolab.Market,
		Quantity:      decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "mine-1", ack.ClientOrderID)
}

func TestCancelOrderDedup(t *testing.T) {
	var cancels atomic.Int32
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/SendOrder":
			fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-1", Status: algolab.OrderSubmitted}))
		case "/api/DeleteOrder":
			cancels.Add(1)
			var req algolab.DeleteOrderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "b-1", req.BrokerOrderID)
			fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-1", Status: algolab.OrderCancelled}))
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
		}
	}))

	ack, err := f.SendOrder(context.Background(), Order{
		ClientOrderID: "o1",
		Symbol:        "AKBNK",
		Side:          algolab.Buy,
		Type:          algolab.Limit,
		Quantity:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	status, err := f.CancelOrder(context.Background(), ack.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, algolab.OrderCancelled, status)

	// second cancel of a cancelled order succeeds locally
	status, err = f.CancelOrder(context.Background(), ack.ClientOrderID)
	require.NoError(t, err)
	assert.Equal(t, algolab.OrderCancelled, status)

	assert.Equal(t, int32(1), cancels.Load())
}

func TestCancelOrderRetriesAfterWireFailure(t *testing.T) {
	var unavailable atomic.Bool
	unavailable.Store(true)
	var cancels atomic.Int32
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/SendOrder":
			fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-1", Status: algolab.OrderSubmitted}))
		case "/api/DeleteOrder":
			if unavailable.Load() {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			cancels.Add(1)
			fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-1", Status: algolab.OrderCancelled}))
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
		}
	}))

	_, err := f.SendOrder(context.Background(), Order{
		ClientOrderID: "o1",
		Symbol:        "AKBNK",
		Side:          algolab.Buy,
		Type:          algolab.Limit,
		Quantity:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	_, err = f.CancelOrder(context.Background(), "o1")
	require.Error(t, err)

	// the failed attempt must not swallow later cancels
	unavailable.Store(false)
	status, err := f.CancelOrder(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, algolab.OrderCancelled, status)
	assert.Equal(t, int32(1), cancels.Load())
}

func TestCancelUnknownOrder(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call to %s", r.URL.Path)
	}))

	_, err := f.CancelOrder(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, algolab.IsBusiness(err))
}

func TestCancelFilledOrderFails(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/SendOrder" {
			t.Errorf("unexpected call to %s", r.URL.Path)
		}
		fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-1", Status: algolab.OrderSubmitted}))
	}))

	_, err := f.SendOrder(context.Background(), Order{
		ClientOrderID: "o1",
		Symbol:        "AKBNK",
		Side:          algolab.Buy,
		Type:          algolab.Limit,
		Quantity:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	_, err = f.tracker.observe(&stream.OrderUpdate{
		ClientOrderID: "o1",
		Symbol:        "AKBNK",
		Status:        algolab.OrderFilled,
		Quantity:      decimal.NewFromInt(100),
		FilledQty:     decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	_, err = f.CancelOrder(context.Background(), "o1")
	require.Error(t, err)
	assert.True(t, algolab.IsBusiness(err))
}

func TestModifyOrder(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/SendOrder":
			fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-1", Status: algolab.OrderSubmitted}))
		case "/api/ModifyOrder":
			var req algolab.ModifyOrderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "b-1", req.BrokerOrderID)
			require.NotNil(t, req.Price)
			assert.Equal(t, "46.1", req.Price.String())
			fmt.Fprint(w, envelope(t, algolab.OrderResult{BrokerOrderID: "b-1", Status: algolab.OrderSubmitted}))
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
		}
	}))

	_, err := f.SendOrder(context.Background(), Order{
		ClientOrderID: "o1",
		Symbol:        "AKBNK",
		Side:          algolab.Buy,
		Type:          algolab.Limit,
		Quantity:      decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	price := decimal.RequireFromString("46.1")
	ack, err := f.ModifyOrder(context.Background(), ModifyRequest{ClientOrderID: "o1", Price: &price})
	require.NoError(t, err)
	assert.Equal(t, "b-1", ack.BrokerOrderID)
}

func TestSnapshotFallsBackToREST(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/GetEquityInfo", r.URL.Path)
		fmt.Fprint(w, `{"success":true,"message":"","content":{
			"symbol":"AKBNK","lastPrice":"45.52","bidPrice":"45.5","askPrice":"45.54","totalVolume":"1250000"}}`)
	}))

	snap, err := f.GetMarketDataSnapshot(context.Background(), "AKBNK")
	require.NoError(t, err)
	assert.Equal(t, "AKBNK", snap.Symbol)
	assert.Equal(t, "45.52", snap.Last.String())
	assert.False(t, snap.Live)
}

func TestGetPositions(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/InstantPosition", r.URL.Path)
		fmt.Fprint(w, `{"success":true,"message":"","content":[
			{"symbol":"AKBNK","quantity":"100","avgCost":"44.2","marketValue":"4552"}]}`)
	}))

	positions, err := f.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AKBNK", positions[0].Symbol)
	assert.Equal(t, "4552", positions[0].MarketValue.String())
}

func TestAuthenticateResumesPersistedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	store, err := algolab.NewSessionStore(path)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, store.Save(&algolab.Session{
		Token:     "tok",
		Hash:      "hash-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
	}))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call to %s", r.URL.Path)
	}))
	t.Cleanup(ts.Close)

	rest, err := algolab.NewClient(algolab.ClientOpts{
		APIKey: "AK", Hostname: "h", BaseURL: ts.URL, SessionPath: path,
	})
	require.NoError(t, err)
	f := New(rest, stream.NewClient(noopSession{}, stream.WithLogger(stream.ErrorOnlyLogger())), stream.ErrorOnlyLogger())

	s, err := f.Authenticate(context.Background(), Credentials{Username: "u1", Password: "p1"})
	require.NoError(t, err)
	assert.Equal(t, "hash-1", s.Hash)
}

func TestAuthenticateRequiresSMSCallback(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call to %s", r.URL.Path)
	}))

	_, err := f.Authenticate(context.Background(), Credentials{Username: "u1", Password: "p1"})
	require.Error(t, err)
	assert.True(t, algolab.IsFatal(err))
}

func TestAuthenticateTwoStepLogin(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/LoginUser":
			fmt.Fprint(w, `{"success":true,"message":"","content":{"token":"challenge-1"}}`)
		case "/api/LoginUserControl":
			var req struct {
				Token string `json:"token"`
				Code  string `json:"code"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "challenge-1", req.Token)
			assert.Equal(t, "123456", req.Code)
			fmt.Fprint(w, `{"success":true,"message":"","content":{"hash":"hash-9"}}`)
		default:
			t.Errorf("unexpected call to %s", r.URL.Path)
		}
	}))

	s, err := f.Authenticate(context.Background(), Credentials{
		Username: "u1",
		Password: "p1",
		SMSCode:  func(context.Context) (string, error) { return "123456", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "hash-9", s.Hash)
}

func TestClosedFacadeRefusesWork(t *testing.T) {
	f := testFacade(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call to %s", r.URL.Path)
	}))

	require.NoError(t, f.Close(context.Background()))
	require.NoError(t, f.Close(context.Background()))

	_, err := f.SendOrder(context.Background(), Order{Symbol: "AKBNK"})
	assert.True(t, algolab.IsFatal(err))
	_, err = f.GetPositions(context.Background())
	assert.True(t, algolab.IsFatal(err))
	_, err = f.GetMarketDataSnapshot(context.Background(), "AKBNK")
	assert.True(t, algolab.IsFatal(err))
}
