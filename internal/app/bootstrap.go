package app

import (
	"log/slog"
	"time"

	"auction_go/internal/engine"
	"auction_go/internal/infra"
	"auction_go/internal/infra/clearing"
	"auction_go/internal/infra/ledger"
	"auction_go/internal/infra/notify"
	"auction_go/internal/infra/payment"
	"auction_go/internal/infra/storage"
	"auction_go/internal/service"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config   *infra.Config
	Metrics  *infra.Metrics
	Storage  *storage.Storage
	Clearing *clearing.Client
	Engine   *engine.Engine

	Orders     *service.OrderService
	Settlement *service.SettlementService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB,
// signer, engine, services).
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping auction broker...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	b.Metrics = &infra.Metrics{}

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Clearing identity and session client
	identity, err := clearing.SignerFromHex(cfg.Clearing.PrivateKey)
	if err != nil {
		return err
	}
	b.Clearing = clearing.NewClient(clearing.Options{
		URL:            cfg.Clearing.WSURL,
		AppName:        cfg.Clearing.AppName,
		Scope:          cfg.Clearing.Scope,
		Identity:       identity,
		AuthTimeout:    time.Duration(cfg.Clearing.AuthTimeoutSec) * time.Second,
		RequestTimeout: time.Duration(cfg.Clearing.RequestTimeoutSec) * time.Second,
		MaxReconnects:  cfg.Clearing.MaxReconnects,
	}, b.Metrics)
	slog.Info("✅ Clearing client ready", slog.String("identity", identity.Address().Hex()))

	// 5. Auction engine and order state machine
	tick := time.Duration(cfg.Auction.TickMS) * time.Millisecond
	b.Engine = engine.NewEngine(tick, b.Metrics)

	ledgerClient := ledger.NewClient(cfg.Ledger.URL, time.Duration(cfg.Ledger.TimeoutSec)*time.Second)
	paymentClient := payment.NewClient(cfg.Payment.URL, time.Duration(cfg.Payment.TimeoutSec)*time.Second)

	b.Orders = service.NewOrderService(
		b.Engine,
		ledgerClient,
		paymentClient,
		b.Storage,
		notify.NewWebhook(),
		b.Metrics,
		time.Duration(cfg.Auction.MaxDurationSec)*time.Second,
	)
	b.Settlement = service.NewSettlementService(b.Clearing, identity.Address().Hex())

	return nil
}
