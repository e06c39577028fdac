package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gasramp-hq/gasramp/pkg/logger"
	"github.com/gasramp-hq/gasramp/pkg/models"
	"github.com/gasramp-hq/gasramp/pkg/processor"
	"github.com/gasramp-hq/gasramp/pkg/registry"
	"github.com/gasramp-hq/gasramp/pkg/store"
	"github.com/gasramp-hq/gasramp/pkg/webhook"
)

const (
	testWallet    = "0x1111111111111111111111111111111111111111"
	webhookSecret = "whsec_test"
)

// stubChain serves balance reads with a fixed amount
type stubChain struct{}

func (stubChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	wei, _ := new(big.Int).SetString("2500000000000000000", 10) // 2.5 MATIC
	return wei, nil
}

// stubEngine stands in for the disbursement engine: it claims the intent the
// way the real submit loop does and settles it immediately. busy simulates a
// full submission queue.
type stubEngine struct {
	registry *registry.Registry
	claims   int64
	triggers int64
	busy     bool
}

func (e *stubEngine) Disburse(intentID string) bool {
	if e.busy {
		return false
	}
	atomic.AddInt64(&e.triggers, 1)
	ctx := context.Background()
	_, applied, err := e.registry.Transition(ctx, intentID, models.Event{Type: models.EventDisbursementStarted})
	if err != nil || !applied {
		return true
	}
	atomic.AddInt64(&e.claims, 1)
	_, _, _ = e.registry.Transition(ctx, intentID, models.Event{
		Type:   models.EventDisbursementConfirmed,
		TxHash: "0xdeadbeef",
	})
	return true
}

func testServerConfig() Config {
	return Config{
		Port:        "0",
		Network:     "testnet",
		USDPerMatic: 0.5,
		CreateRate:  RateLimit{Window: time.Minute, MaxRequests: 100},
		ReadRate:    RateLimit{Window: time.Minute, MaxRequests: 100},
	}
}

func newTestServer(t *testing.T, cfg Config, processorURL, processorKey string) (*Server, *registry.Registry, *stubEngine) {
	t.Helper()
	log := &logger.EmptyLogger{}
	reg := registry.New(store.NewMemoryStore(), cfg.Network, 0.01, 10, log)
	engine := &stubEngine{registry: reg}
	proc := processor.New(processorURL, processorKey, log)
	gw := webhook.New([]byte(webhookSecret), reg, engine, log)
	return NewServer(cfg, reg, proc, gw, stubChain{}, log), reg, engine
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func deliverWebhook(t *testing.T, s *Server, eventType, paymentID, reason string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]string{"payment_id": paymentID, "reason": reason},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/provider", bytes.NewReader(body))
	req.Header.Set("Webhook-Signature", webhook.Sign(body, []byte(webhookSecret), time.Now()))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func TestCreateIntent(t *testing.T) {
	s, _, _ := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
		WalletAddress: testWallet,
		AmountMatic:   "2",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp createIntentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Contains(t, resp.IntentID, "pi_")
	assert.Empty(t, resp.ClientSecret)
	assert.Equal(t, "2", resp.AmountMatic)
	assert.Equal(t, 1.0, resp.AmountUSD)
	assert.Equal(t, "testnet", resp.Network)

	// Status reflects the fresh record
	status := doJSON(t, s, http.MethodGet, "/api/payment/status/"+resp.IntentID, nil)
	require.Equal(t, http.StatusOK, status.Code)

	var rec models.PaymentIntent
	require.NoError(t, json.Unmarshal(status.Body.Bytes(), &rec))
	assert.Equal(t, models.StatePending, rec.State)
	assert.Equal(t, testWallet, rec.WalletAddress)
}

func TestCreateIntentValidation(t *testing.T) {
	s, _, _ := newTestServer(t, testServerConfig(), "", "")

	tests := []struct {
		name    string
		wallet  string
		amount  string
		rawBody string
	}{
		{name: "invalid address", wallet: "0xnothex", amount: "1"},
		{name: "below minimum", wallet: testWallet, amount: "0.005"},
		{name: "above maximum", wallet: testWallet, amount: "15"},
		{name: "non-numeric amount", wallet: testWallet, amount: "ten"},
		{name: "malformed body", rawBody: "{not json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rr *httptest.ResponseRecorder
			if tt.rawBody != "" {
				req := httptest.NewRequest(http.MethodPost, "/api/payment/create-intent", bytes.NewBufferString(tt.rawBody))
				rr = httptest.NewRecorder()
				s.Handler().ServeHTTP(rr, req)
			} else {
				rr = doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
					WalletAddress: tt.wallet,
					AmountMatic:   tt.amount,
				})
			}
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestCreateIntentWithProcessor(t *testing.T) {
	var sawAuth string
	processorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(processor.Payment{
			ID:           "pi_proc_1",
			ClientSecret: "cs_123",
			Status:       "requires_payment_method",
		})
	}))
	defer processorSrv.Close()

	s, reg, _ := newTestServer(t, testServerConfig(), processorSrv.URL, "sk_test")

	rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
		WalletAddress: testWallet,
		AmountMatic:   "1",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp createIntentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "pi_proc_1", resp.IntentID)
	assert.Equal(t, "cs_123", resp.ClientSecret)
	assert.Equal(t, "Bearer sk_test", sawAuth)

	// The record carries the processor-issued reference
	rec, err := reg.Get(context.Background(), "pi_proc_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, rec.State)
}

func TestCreateIntentProcessorDown(t *testing.T) {
	processorSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer processorSrv.Close()

	s, _, _ := newTestServer(t, testServerConfig(), processorSrv.URL, "sk_test")

	rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
		WalletAddress: testWallet,
		AmountMatic:   "1",
	})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestPaymentToDisbursementFlow(t *testing.T) {
	s, reg, engine := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
		WalletAddress: testWallet,
		AmountMatic:   "0.5",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp createIntentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	whr := deliverWebhook(t, s, webhook.EventPaymentSucceeded, resp.IntentID, "")
	require.Equal(t, http.StatusOK, whr.Code)

	rec, err := reg.Get(context.Background(), resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDisbursed, rec.State)
	assert.Equal(t, "0xdeadbeef", rec.TxHash)
	assert.Equal(t, int64(1), atomic.LoadInt64(&engine.claims))
}

func TestWebhookReplaySafety(t *testing.T) {
	s, reg, engine := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
		WalletAddress: testWallet,
		AmountMatic:   "0.5",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp createIntentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	// The processor redelivers the same event several times; every delivery
	// is acknowledged but exactly one disbursement claim happens
	for i := 0; i < 5; i++ {
		whr := deliverWebhook(t, s, webhook.EventPaymentSucceeded, resp.IntentID, "")
		require.Equal(t, http.StatusOK, whr.Code)
	}

	rec, err := reg.Get(context.Background(), resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDisbursed, rec.State)
	assert.Equal(t, int64(5), atomic.LoadInt64(&engine.triggers))
	assert.Equal(t, int64(1), atomic.LoadInt64(&engine.claims))
}

func TestWebhookEngineBusyNotAcked(t *testing.T) {
	s, reg, engine := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
		WalletAddress: testWallet,
		AmountMatic:   "0.5",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp createIntentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	// A full submission queue must not be acknowledged with a 2xx, or the
	// processor would never redeliver and the payout would be lost
	engine.busy = true
	whr := deliverWebhook(t, s, webhook.EventPaymentSucceeded, resp.IntentID, "")
	require.Equal(t, http.StatusServiceUnavailable, whr.Code)

	rec, err := reg.Get(context.Background(), resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StateConfirmed, rec.State)

	// The redelivery completes the disbursement once the queue has room
	engine.busy = false
	whr = deliverWebhook(t, s, webhook.EventPaymentSucceeded, resp.IntentID, "")
	require.Equal(t, http.StatusOK, whr.Code)

	rec, err = reg.Get(context.Background(), resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDisbursed, rec.State)
	assert.Equal(t, int64(1), atomic.LoadInt64(&engine.claims))
}

func TestWebhookPaymentFailed(t *testing.T) {
	s, reg, _ := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
		WalletAddress: testWallet,
		AmountMatic:   "0.5",
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var resp createIntentResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	whr := deliverWebhook(t, s, webhook.EventPaymentFailed, resp.IntentID, "card declined")
	require.Equal(t, http.StatusOK, whr.Code)

	rec, err := reg.Get(context.Background(), resp.IntentID)
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, rec.State)
	assert.Equal(t, "card declined", rec.FailureReason)
}

func TestWebhookBadSignature(t *testing.T) {
	s, reg, _ := newTestServer(t, testServerConfig(), "", "")

	_, err := reg.Create(context.Background(), "pi_1", testWallet, "0.5")
	require.NoError(t, err)

	body, _ := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": webhook.EventPaymentSucceeded,
		"data": map[string]string{"payment_id": "pi_1"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhook/provider", bytes.NewReader(body))
	req.Header.Set("Webhook-Signature", webhook.Sign(body, []byte("wrong secret"), time.Now()))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec, err := reg.Get(context.Background(), "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, rec.State)
}

func TestWebhookUnknownIntent(t *testing.T) {
	s, _, _ := newTestServer(t, testServerConfig(), "", "")

	rr := deliverWebhook(t, s, webhook.EventPaymentSucceeded, "pi_never_created", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusUnknownIntent(t *testing.T) {
	s, _, _ := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodGet, "/api/payment/status/pi_missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestWalletBalance(t *testing.T) {
	s, _, _ := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodGet, "/api/wallet/balance/"+testWallet, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp balanceResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, testWallet, resp.Address)
	assert.Equal(t, "2500000000000000000", resp.BalanceWei)
	assert.Equal(t, "2.500000", resp.BalanceMatic)
}

func TestWalletBalanceInvalidAddress(t *testing.T) {
	s, _, _ := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodGet, "/api/wallet/balance/0xnothex", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateIntentRateLimited(t *testing.T) {
	cfg := testServerConfig()
	cfg.CreateRate = RateLimit{Window: time.Minute, MaxRequests: 2}
	s, _, _ := newTestServer(t, cfg, "", "")

	var codes []int
	for i := 0; i < 3; i++ {
		rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
			WalletAddress: testWallet,
			AmountMatic:   "0.5",
		})
		codes = append(codes, rr.Code)
	}

	assert.Equal(t, http.StatusCreated, codes[0])
	assert.Equal(t, http.StatusCreated, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestRateLimitIsPerClient(t *testing.T) {
	cfg := testServerConfig()
	cfg.CreateRate = RateLimit{Window: time.Minute, MaxRequests: 1}
	cfg.TrustProxyHeaders = true
	s, _, _ := newTestServer(t, cfg, "", "")

	send := func(forwardedFor, amount string) int {
		body, _ := json.Marshal(createIntentRequest{WalletAddress: testWallet, AmountMatic: amount})
		req := httptest.NewRequest(http.MethodPost, "/api/payment/create-intent", bytes.NewReader(body))
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusCreated, send("10.0.0.1", "0.5"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1", "0.5"))

	// A different client keeps its own budget
	assert.Equal(t, http.StatusCreated, send("10.0.0.2", "0.5"))
}

func TestRateLimitIgnoresForwardingWithoutTrustedProxy(t *testing.T) {
	cfg := testServerConfig()
	cfg.CreateRate = RateLimit{Window: time.Minute, MaxRequests: 1}
	s, _, _ := newTestServer(t, cfg, "", "")

	send := func(forwardedFor string) int {
		body, _ := json.Marshal(createIntentRequest{WalletAddress: testWallet, AmountMatic: "0.5"})
		req := httptest.NewRequest(http.MethodPost, "/api/payment/create-intent", bytes.NewReader(body))
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, req)
		return rr.Code
	}

	// Without a trusted proxy the header is caller-controlled; rotating it
	// must not mint fresh budgets. Both requests resolve to the peer address.
	assert.Equal(t, http.StatusCreated, send("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.2"))
}

func TestMetricsAuth(t *testing.T) {
	cfg := testServerConfig()
	cfg.MetricsAPIKey = "metrics-key"
	s, _, _ := newTestServer(t, cfg, "", "")

	rr := doJSON(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer metrics-key")
	authed := httptest.NewRecorder()
	s.Handler().ServeHTTP(authed, req)
	assert.Equal(t, http.StatusOK, authed.Code)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "testnet", resp["network"])
	assert.NotEmpty(t, resp["timestamp"])
}

func TestCreateIntentNetworkMismatch(t *testing.T) {
	s, _, _ := newTestServer(t, testServerConfig(), "", "")

	rr := doJSON(t, s, http.MethodPost, "/api/payment/create-intent", createIntentRequest{
		WalletAddress: testWallet,
		AmountMatic:   "1",
		Network:       "mainnet",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORSHeaders(t *testing.T) {
	cfg := testServerConfig()
	cfg.AllowedOrigins = []string{"https://app.example.com"}
	s, _, _ := newTestServer(t, cfg, "", "")

	req := httptest.NewRequest(http.MethodOptions, "/api/payment/create-intent", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))

	// Unlisted origins get no CORS grant
	req = httptest.NewRequest(http.MethodOptions, "/api/payment/create-intent", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
