// Package api exposes the HTTP surface of the service: intent creation,
// webhook ingestion, status reads, and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gasramp-hq/gasramp/pkg/address"
	"github.com/gasramp-hq/gasramp/pkg/logger"
	"github.com/gasramp-hq/gasramp/pkg/metrics"
	"github.com/gasramp-hq/gasramp/pkg/models"
	"github.com/gasramp-hq/gasramp/pkg/processor"
	"github.com/gasramp-hq/gasramp/pkg/registry"
	"github.com/gasramp-hq/gasramp/pkg/webhook"
)

// maxWebhookBody caps processor webhook payload size
const maxWebhookBody = 64 * 1024

// ChainReader is the read-only chain access the API needs
type ChainReader interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

// RateLimit bounds request volume per client
type RateLimit struct {
	Window      time.Duration
	MaxRequests int
}

// Config holds the HTTP server settings
type Config struct {
	Port              string
	Network           string
	USDPerMatic       float64
	AllowedOrigins    []string
	MetricsAPIKey     string
	CreateRate        RateLimit
	ReadRate          RateLimit
	TrustProxyHeaders bool
}

// Server is the HTTP API server
type Server struct {
	cfg       Config
	registry  *registry.Registry
	processor *processor.Client
	gateway   *webhook.Gateway
	chain     ChainReader
	logger    logger.Logger

	router     *mux.Router
	httpServer *http.Server
}

// NewServer creates the API server and wires its routes
func NewServer(cfg Config, reg *registry.Registry, proc *processor.Client, gw *webhook.Gateway, chain ChainReader, log logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		registry:  reg,
		processor: proc,
		gateway:   gw,
		chain:     chain,
		logger:    log,
		router:    mux.NewRouter(),
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.corsMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	createGuard := NewAdmissionGuard("create_intent", s.cfg.CreateRate.Window, s.cfg.CreateRate.MaxRequests, s.cfg.TrustProxyHeaders)
	readGuard := NewAdmissionGuard("read", s.cfg.ReadRate.Window, s.cfg.ReadRate.MaxRequests, s.cfg.TrustProxyHeaders)

	s.router.HandleFunc("/api/payment/create-intent", createGuard.Wrap(s.handleCreateIntent)).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/payment/status/{intentId}", readGuard.Wrap(s.handleStatus)).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/wallet/balance/{address}", readGuard.Wrap(s.handleBalance)).Methods(http.MethodGet, http.MethodOptions)

	// Webhook deliveries authenticate by signature, not by rate budget
	s.router.HandleFunc("/api/webhook/provider", s.handleWebhook).Methods(http.MethodPost)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler())).Methods(http.MethodGet)
}

// Start runs the HTTP server until it is shut down
func (s *Server) Start() error {
	s.logger.NoticeWithNetwork(s.cfg.Network, "Starting API server on port %s", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.router)
}

type createIntentRequest struct {
	WalletAddress string `json:"walletAddress"`
	AmountMatic   string `json:"amountMatic"`
	Network       string `json:"network,omitempty"`
}

type createIntentResponse struct {
	IntentID     string  `json:"intentId"`
	ClientSecret string  `json:"clientSecret,omitempty"`
	AmountMatic  string  `json:"amountMatic"`
	AmountUSD    float64 `json:"amountUsd"`
	Network      string  `json:"network"`
}

func (s *Server) handleCreateIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// A client built against the wrong environment must not buy gas here
	if req.Network != "" && req.Network != s.cfg.Network {
		metrics.IntentCreateRejected.WithLabelValues("network_mismatch").Inc()
		writeError(w, http.StatusBadRequest, "service is running on "+s.cfg.Network)
		return
	}

	// Validate before touching the processor; an admitted invalid request
	// must not cost an upstream payment object
	amount, err := s.registry.Validate(req.WalletAddress, req.AmountMatic)
	if err != nil {
		s.rejectCreate(w, err)
		return
	}

	amountUSD := amount * s.cfg.USDPerMatic
	amountCents := int64(math.Round(amountUSD * 100))

	var intentID, clientSecret string
	if s.processor.Enabled() {
		payment, err := s.processor.CreatePayment(r.Context(), amountCents, map[string]string{
			"wallet_address": req.WalletAddress,
			"amount_matic":   req.AmountMatic,
			"network":        s.cfg.Network,
		})
		if err != nil {
			s.logger.Error("Processor payment creation failed: %v", err)
			metrics.IntentCreateRejected.WithLabelValues("processor_error").Inc()
			writeError(w, http.StatusBadGateway, "payment processor unavailable")
			return
		}
		intentID = payment.ID
		clientSecret = payment.ClientSecret
	}

	rec, err := s.registry.Create(r.Context(), intentID, req.WalletAddress, req.AmountMatic)
	if err != nil {
		s.rejectCreate(w, err)
		return
	}

	metrics.IntentsCreated.WithLabelValues(s.cfg.Network).Inc()
	writeJSON(w, http.StatusCreated, createIntentResponse{
		IntentID:     rec.ID,
		ClientSecret: clientSecret,
		AmountMatic:  rec.AmountMatic,
		AmountUSD:    amountUSD,
		Network:      rec.Network,
	})
}

func (s *Server) rejectCreate(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidAddress):
		metrics.IntentCreateRejected.WithLabelValues("invalid_address").Inc()
		writeError(w, http.StatusBadRequest, "invalid wallet address")
	case errors.Is(err, registry.ErrAmountOutOfBounds):
		metrics.IntentCreateRejected.WithLabelValues("amount_out_of_bounds").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Intent creation failed: %v", err)
		metrics.IntentCreateRejected.WithLabelValues("internal").Inc()
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	err = s.gateway.Handle(r.Context(), body, r.Header.Get("Webhook-Signature"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, webhook.ErrBadSignature):
		writeError(w, http.StatusBadRequest, "invalid signature")
	case errors.Is(err, webhook.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, "malformed event")
	case errors.Is(err, registry.ErrUnknownIntent):
		// Non-2xx so the processor redelivers once the record exists
		writeError(w, http.StatusNotFound, "unknown payment intent")
	case errors.Is(err, webhook.ErrEngineBusy):
		// Non-2xx so the processor redelivers once the queue drains
		writeError(w, http.StatusServiceUnavailable, "disbursement queue full")
	default:
		s.logger.Error("Webhook handling failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	intentID := mux.Vars(r)["intentId"]

	rec, err := s.registry.Get(r.Context(), intentID)
	if err != nil {
		if errors.Is(err, registry.ErrUnknownIntent) {
			writeError(w, http.StatusNotFound, "unknown payment intent")
			return
		}
		s.logger.Error("Status lookup for intent %s failed: %v", intentID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// A record still pending while the processor already settled the card
	// payment means webhook delivery is lagging; worth an operator's eye
	if rec.State == models.StatePending && s.processor.Enabled() {
		if payment, err := s.processor.GetPayment(r.Context(), intentID); err == nil && payment.Status == "succeeded" {
			s.logger.Notice("Intent %s pending locally but settled at processor, webhook delivery lagging", intentID)
		}
	}

	writeJSON(w, http.StatusOK, rec)
}

type balanceResponse struct {
	Address      string `json:"address"`
	BalanceWei   string `json:"balanceWei"`
	BalanceMatic string `json:"balanceMatic"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := mux.Vars(r)["address"]
	if !address.Validate(addr) {
		writeError(w, http.StatusBadRequest, "invalid wallet address")
		return
	}

	balance, err := s.chain.BalanceAt(r.Context(), common.HexToAddress(addr))
	if err != nil {
		s.logger.Error("Balance lookup for %s failed: %v", addr, err)
		writeError(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}

	matic := new(big.Float).Quo(new(big.Float).SetInt(balance), big.NewFloat(1e18))
	writeJSON(w, http.StatusOK, balanceResponse{
		Address:      addr,
		BalanceWei:   balance.String(),
		BalanceMatic: matic.Text('f', 6),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"network":   s.cfg.Network,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
