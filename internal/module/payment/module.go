package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/uniedit/paygate/internal/module/payment/domain"
	"github.com/uniedit/paygate/internal/module/payment/provider"
	"github.com/uniedit/paygate/internal/shared/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Metrics is the union of the recorders the payment module reports to.
type Metrics interface {
	Recorder
	provider.CallRecorder
}

// ModuleConfig carries what the payment module is built from.
type ModuleConfig struct {
	Config     *config.Config
	DB         *gorm.DB
	HTTPClient *http.Client
	// Tokens caches provider access tokens. Nil keeps them in process.
	Tokens  provider.TokenStore
	Metrics Metrics
	Logger  *zap.Logger
}

// Module wires the payment core and its HTTP handlers.
type Module struct {
	cfg *config.Config

	registry     *Registry
	orchestrator *Orchestrator
	ledger       *Ledger
	processor    *WebhookProcessor
	recoverer    *Recoverer
	sweeper      *Sweeper
	service      *Service

	handler        *Handler
	webhookHandler *WebhookHandler
	logger         *zap.Logger
}

// NewModule creates the payment module. Providers with missing credentials are
// left unconfigured; it fails when none can be built.
func NewModule(mc *ModuleConfig) (*Module, error) {
	if mc.DB == nil {
		return nil, errors.New("payment: database connection required")
	}
	log := mc.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var recorder Recorder = nopRecorder{}
	opts := provider.Options{
		HTTPClient: mc.HTTPClient,
		Client:     clientConfig(mc.Config.HTTPClient),
		Logger:     log,
	}
	if mc.Metrics != nil {
		recorder = mc.Metrics
		opts.Recorder = mc.Metrics
	}

	gateways, err := buildGateways(mc.Config, mc.Tokens, opts, log)
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry(gateways...)
	if err != nil {
		return nil, fmt.Errorf("payment: %w", err)
	}

	m := &Module{cfg: mc.Config, registry: registry, logger: log}
	txRepo := NewTransactionRepository(mc.DB)
	taskRepo := NewRecoveryRepository(mc.DB)

	m.orchestrator = NewOrchestrator(registry, log.Named("orchestrator"))
	m.ledger = NewLedger(txRepo, recorder, log.Named("ledger"))
	m.processor = NewWebhookProcessor(registry, m.ledger, taskRepo, recorder, log.Named("webhook"))
	m.recoverer = NewRecoverer(taskRepo, m.ledger, registry, RecoveryConfig{
		Interval:    mc.Config.Recovery.Interval,
		BatchSize:   mc.Config.Recovery.BatchSize,
		MaxAttempts: mc.Config.Recovery.MaxAttempts,
		BaseDelay:   mc.Config.Recovery.BaseDelay,
		MaxDelay:    mc.Config.Recovery.MaxDelay,
	}, recorder, log.Named("recovery"))
	m.sweeper = NewSweeper(m.ledger, m.orchestrator, SweeperConfig{
		Interval:    mc.Config.Sweeper.Interval,
		StaleAfter:  mc.Config.Sweeper.StaleAfter,
		BatchSize:   mc.Config.Sweeper.BatchSize,
		Concurrency: mc.Config.Sweeper.Concurrency,
	}, recorder, log.Named("sweeper"))
	m.service = NewService(m.orchestrator, m.ledger, m.recoverer, log.Named("service"))

	m.handler = NewHandler(m.service)
	m.webhookHandler = NewWebhookHandler(m.processor, log.Named("webhook"))

	log.Info("payment module ready", zap.Any("gateways", registry.Configured()))
	return m, nil
}

func buildGateways(cfg *config.Config, tokens provider.TokenStore, opts provider.Options, log *zap.Logger) ([]provider.Gateway, error) {
	var gateways []provider.Gateway

	paystack, err := provider.NewPaystack(provider.PaystackConfig{
		SecretKey:     cfg.Paystack.SecretKey,
		WebhookSecret: cfg.Paystack.WebhookSecret,
		BaseURL:       cfg.Paystack.BaseURL,
		CallbackURL:   cfg.Paystack.CallbackURL,
	}, opts)
	switch {
	case err == nil:
		gateways = append(gateways, paystack)
	case errors.Is(err, domain.ErrMissingCredentials):
		log.Info("gateway not configured", zap.String("gateway", string(domain.GatewayPaystack)))
	default:
		return nil, err
	}

	monnify, err := provider.NewMonnify(provider.MonnifyConfig{
		APIKey:        cfg.Monnify.APIKey,
		SecretKey:     cfg.Monnify.SecretKey,
		ContractCode:  cfg.Monnify.ContractCode,
		WebhookSecret: cfg.Monnify.WebhookSecret,
		BaseURL:       cfg.Monnify.BaseURL,
		RedirectURL:   cfg.Monnify.RedirectURL,
	}, tokens, opts)
	switch {
	case err == nil:
		gateways = append(gateways, monnify)
	case errors.Is(err, domain.ErrMissingCredentials):
		log.Info("gateway not configured", zap.String("gateway", string(domain.GatewayMonnify)))
	default:
		return nil, err
	}

	return gateways, nil
}

func clientConfig(c config.HTTPClientConfig) provider.ClientConfig {
	out := provider.DefaultClientConfig()
	if c.Timeout > 0 {
		out.Timeout = c.Timeout
	}
	if c.MaxAttempts > 0 {
		out.MaxAttempts = c.MaxAttempts
	}
	if c.BaseBackoff > 0 {
		out.BaseBackoff = c.BaseBackoff
	}
	if c.MaxBackoff > 0 {
		out.MaxBackoff = c.MaxBackoff
	}
	if c.FailureThreshold > 0 {
		out.FailureThreshold = c.FailureThreshold
	}
	if c.OpenTimeout > 0 {
		out.OpenTimeout = c.OpenTimeout
	}
	return out
}

// RegisterRoutes mounts the API and webhook routes.
func (m *Module) RegisterRoutes(api *gin.RouterGroup, webhooks *gin.RouterGroup, opts RouteOptions) {
	m.handler.RegisterRoutes(api, opts)
	m.webhookHandler.RegisterRoutes(webhooks)
}

// Workers returns the background loops enabled by configuration. Each returns
// when ctx is canceled.
func (m *Module) Workers() map[string]func(context.Context) error {
	workers := make(map[string]func(context.Context) error)
	if m.cfg.Recovery.Enabled {
		workers["recovery"] = m.recoverer.Run
	}
	if m.cfg.Sweeper.Enabled {
		workers["sweeper"] = m.sweeper.Run
	}
	return workers
}

// Service returns the payment use-case layer.
func (m *Module) Service() *Service {
	return m.service
}

// Registry returns the gateway registry.
func (m *Module) Registry() *Registry {
	return m.registry
}
