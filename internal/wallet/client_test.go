package wallet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wallet-server/common/logger"
	"wallet-server/internal/breaker"
	"wallet-server/internal/retry"
)

func TestMain(m *testing.M) {
	logger.InitLogger()
	m.Run()
}

func newTestClient(baseURL string) (*Client, *breaker.Registry) {
	reg := breaker.NewRegistry(breaker.Options{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	exec := retry.New(retry.Options{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2.0})
	c := NewClient(Options{
		BaseURL:  baseURL,
		Username: "agent",
		Password: "secret",
		Timeout:  2 * time.Second,
	}, exec, reg)
	return c, reg
}

func TestCreditSuccess(t *testing.T) {
	var gotAction, gotPlayer, gotAmount, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotAction = r.PostFormValue("action")
		gotPlayer = r.PostFormValue("playerName")
		gotAmount = r.PostFormValue("amount")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"transactionId": "ext-123"})
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	resp, err := c.Credit(context.Background(), "player7", decimal.NewFromFloat(25.5))
	require.NoError(t, err)
	assert.Equal(t, "ext-123", resp.Str("transactionId"))
	assert.Equal(t, "deposit", gotAction)
	assert.Equal(t, "player7", gotPlayer)
	assert.Equal(t, "25.50", gotAmount)
	assert.Contains(t, gotAuth, "Basic ")
}

func TestRemoteErrorFlagIsLogicalFailure(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"hasError": "yes", "msg": "player balance too low"})
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	_, err := c.Debit(context.Background(), "player7", decimal.NewFromInt(100))
	require.Error(t, err)

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindRemote, ae.Kind)
	assert.True(t, IsLogicalFailure(err))
	assert.False(t, IsRetryable(err))
	// 逻辑失败不可重试：远端只应收到一次
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestHTTPStatusErrorIsRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	_, err := c.Credit(context.Background(), "p", decimal.NewFromInt(1))
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindRemote, ae.Kind)
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	_, err := c.Credit(context.Background(), "p", decimal.NewFromInt(1))
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindMalformed, ae.Kind)
	assert.False(t, IsRetryable(err))
}

func TestConnectionFailureRetriesAndReportsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 端口立即失效

	reg := breaker.NewRegistry(breaker.Options{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	exec := retry.New(retry.Options{MaxRetries: 2, InitialDelay: time.Millisecond, Multiplier: 2.0})
	c := NewClient(Options{BaseURL: srv.URL, Username: "a", Password: "b", Timeout: time.Second}, exec, reg)

	_, err := c.Credit(context.Background(), "p", decimal.NewFromInt(1))
	require.Error(t, err)
	// 首次 + 2 次重试全部失败，熔断器计满阈值
	assert.Equal(t, breaker.StateOpen, reg.Get(BreakerName).State())
}

func TestBreakerOpenShortCircuits(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	c, reg := newTestClient(srv.URL)
	br := reg.Get(BreakerName)
	for i := 0; i < 5; i++ {
		br.RecordFailure()
	}
	require.Equal(t, breaker.StateOpen, br.State())

	err := c.CheckStatus(context.Background())
	require.Error(t, err)
	var eo *breaker.ErrOpen
	require.ErrorAs(t, err, &eo)
	assert.EqualValues(t, 0, atomic.LoadInt64(&calls), "open breaker must prevent the call")
}

func TestPlayerBalanceParsing(t *testing.T) {
	bal := "1234.56"
	asNumber := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if asNumber {
			_, _ = w.Write([]byte(`{"balance": 1234.561}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"balance": bal})
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)

	d, err := c.PlayerBalance(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "1234.56", d.StringFixed(2))

	asNumber = true
	d, err = c.PlayerBalance(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "1234.56", d.StringFixed(2))
}

func TestPlayerBalanceMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL)
	_, err := c.PlayerBalance(context.Background(), "p")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, KindMalformed, ae.Kind)
}
