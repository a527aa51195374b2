package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/herrald/beacon/internal/adapters/httpapi"
	"github.com/herrald/beacon/internal/adapters/id"
	"github.com/herrald/beacon/internal/adapters/tracing"
	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/events"
	"github.com/herrald/beacon/internal/runtime"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tool-server runtime and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			shutdownTracer, err := tracing.InitTracer("beacon")
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer shutdownTracer(context.Background())

			bus := events.NewBus()
			defer bus.Close()

			manager := runtime.NewManager(cfg, bus, id.New(), runtime.Options{})
			if err := manager.LoadFromStore(); err != nil {
				return fmt.Errorf("load tool servers: %w", err)
			}
			startEnabledServers(ctx, manager)

			api := httpapi.NewServer(cfg.Server.Addr(), manager, bus)
			errCh := make(chan error, 1)
			go func() { errCh <- api.Start() }()

			slog.Info("beacon serving", "addr", cfg.Server.Addr())

			select {
			case <-ctx.Done():
				slog.Info("shutting down")
			case err := <-errCh:
				if err != nil {
					return err
				}
			}

			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancelShutdown()
			if err := api.Shutdown(shutdownCtx); err != nil {
				slog.Warn("api shutdown", "error", err)
			}
			manager.Shutdown(shutdownCtx)
			return nil
		},
	}
}

// startEnabledServers brings up every enabled server, logging failures
// instead of aborting: one broken server must not keep the rest down.
func startEnabledServers(ctx context.Context, manager *runtime.Manager) {
	for _, tsCfg := range cfg.ToolServers() {
		if !tsCfg.Enabled {
			continue
		}
		status, err := manager.Start(ctx, tsCfg.ID)
		if err != nil {
			if errors.Is(err, domain.ErrServerDisabled) {
				continue
			}
			slog.Error("server failed to start", "server_id", tsCfg.ID, "error", err)
			continue
		}
		slog.Info("server started", "server_id", status.ID, "tools", status.ToolCount)
	}
}
