package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction_go/internal/app"
	"auction_go/internal/event"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Warm the tick event pool before auctions start publishing.
	event.Warmup()

	// 4. Order lifecycle loop (consumes auction engine events)
	go bootstrap.Orders.Run(ctx)
	slog.InfoContext(ctx, "✅ Order state machine started")

	// 5. Clearing session client (persistent, authenticated)
	if err := bootstrap.Clearing.Connect(ctx); err != nil {
		slog.Error("❌ Clearing connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := bootstrap.Clearing.WaitReady(waitCtx); err != nil {
		slog.Warn("Clearing authentication not ready, continuing in background",
			slog.Any("error", err))
	}
	cancel()

	// Periodic health + metrics report
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				health := bootstrap.Clearing.HealthCheck(ctx)
				snap := bootstrap.Metrics.Snapshot()
				slog.Info("📊 Status",
					slog.Bool("clearing_ok", health.Authenticated),
					slog.Duration("clearing_latency", health.Latency),
					slog.Int("active_auctions", bootstrap.Engine.ActiveCount()),
					slog.Uint64("auctions_accepted", snap.AuctionsAccepted),
					slog.Uint64("orders_fulfilled", snap.OrdersFulfilled),
					slog.Uint64("rpc_timeouts", snap.RPCTimeouts))
			}
		}
	}()

	slog.InfoContext(ctx, "✨ Auction broker fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal or a fatal clearing failure
	select {
	case <-ctx.Done():
	case <-bootstrap.Clearing.Done():
		slog.Error("Clearing connection permanently lost", slog.Any("error", bootstrap.Clearing.Err()))
	}

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
	bootstrap.Clearing.Close()
	bootstrap.Engine.Close()
}
