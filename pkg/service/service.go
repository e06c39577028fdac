// Package service assembles the components of the gas disbursement
// pipeline and runs them as one unit.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gasramp-hq/gasramp/pkg/api"
	"github.com/gasramp-hq/gasramp/pkg/chainclient"
	"github.com/gasramp-hq/gasramp/pkg/circuitbreaker"
	"github.com/gasramp-hq/gasramp/pkg/config"
	"github.com/gasramp-hq/gasramp/pkg/disburser"
	"github.com/gasramp-hq/gasramp/pkg/logger"
	"github.com/gasramp-hq/gasramp/pkg/processor"
	"github.com/gasramp-hq/gasramp/pkg/registry"
	"github.com/gasramp-hq/gasramp/pkg/store"
	"github.com/gasramp-hq/gasramp/pkg/webhook"
)

// Service owns the wired pipeline: intent store and registry, chain client,
// disbursement engine, webhook gateway and the HTTP API server
type Service struct {
	config *config.Config
	logger logger.Logger

	store  store.Store
	chain  *chainclient.Client
	engine *disburser.Engine
	server *api.Server
}

// NewService builds the pipeline from configuration
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	log := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Postgres when configured, in-memory otherwise
	var st store.Store
	var err error
	if cfg.DatabaseURL != "" {
		st, err = store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %v", err)
		}
		log.Notice("Using Postgres intent store")
	} else {
		st = store.NewMemoryStore()
		log.Notice("DATABASE_URL not set, using in-memory intent store")
	}

	chain, err := chainclient.New(ctx, cfg.Network, cfg.RPCURL, cfg.PrivateKey, cfg.GasMultiplier, cfg.MaxGasPrice, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain: %v", err)
	}
	log.NoticeWithNetwork(cfg.Network, "Funding account %s", chain.FundingAddress().Hex())

	// A mismatched key means disbursements would drain the wrong account
	if cfg.FundingAddress != "" && !strings.EqualFold(cfg.FundingAddress, chain.FundingAddress().Hex()) {
		return nil, fmt.Errorf("FUNDING_ADDRESS %s does not match key-derived address %s",
			cfg.FundingAddress, chain.FundingAddress().Hex())
	}

	breaker := circuitbreaker.NewCircuitBreaker(
		cfg.CircuitBreaker.Enabled,
		cfg.CircuitBreaker.Threshold,
		cfg.CircuitBreaker.WindowDuration,
		cfg.CircuitBreaker.ResetTimeout,
		log,
	)

	reg := registry.New(st, cfg.Network, cfg.MinPurchaseMatic, cfg.MaxPurchaseMatic, log)
	proc := processor.New(cfg.ProcessorAPIEndpoint, cfg.ProcessorSecretKey, log)

	engine := disburser.New(reg, chain, breaker, disburser.Config{
		Network:        cfg.Network,
		ConfirmTimeout: cfg.ConfirmTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}, log)

	gateway := webhook.New([]byte(cfg.WebhookSigningSecret), reg, engine, log)

	server := api.NewServer(api.Config{
		Port:              cfg.Port,
		Network:           cfg.Network,
		USDPerMatic:       cfg.USDPerMatic,
		AllowedOrigins:    cfg.AllowedOrigins,
		MetricsAPIKey:     cfg.MetricsAPIKey,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		CreateRate: api.RateLimit{
			Window:      cfg.CreateRate.Window,
			MaxRequests: cfg.CreateRate.MaxRequests,
		},
		ReadRate: api.RateLimit{
			Window:      cfg.ReadRate.Window,
			MaxRequests: cfg.ReadRate.MaxRequests,
		},
	}, reg, proc, gateway, chain, log)

	return &Service{
		config: cfg,
		logger: log,
		store:  st,
		chain:  chain,
		engine: engine,
		server: server,
	}, nil
}

// Start runs the engine and the API server until the context is canceled
func (s *Service) Start(ctx context.Context) error {
	s.engine.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Drain in-flight HTTP requests before releasing resources
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("API server shutdown failed: %v", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("Store close failed: %v", err)
	}
	s.chain.Close()

	s.logger.Notice("Service stopped")
	return nil
}
