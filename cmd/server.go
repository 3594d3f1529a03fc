package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/offer-sniper/internal/cache"
	"github.com/example/offer-sniper/internal/config"
	"github.com/example/offer-sniper/internal/crypto"
	"github.com/example/offer-sniper/internal/db"
	"github.com/example/offer-sniper/internal/domain/offer"
	"github.com/example/offer-sniper/internal/migrate"
	"github.com/example/offer-sniper/internal/notify"
	"github.com/example/offer-sniper/internal/platform"
	"github.com/example/offer-sniper/internal/platform/driverapp"
	"github.com/example/offer-sniper/internal/platform/portal"
	"github.com/example/offer-sniper/internal/poller"
	"github.com/example/offer-sniper/internal/store"
	"github.com/example/offer-sniper/internal/token"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the offer poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}

			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			aead, err := crypto.New(cfg.CredEncKey)
			if err != nil {
				return err
			}
			st := store.New(d, aead)

			newClients := func() poller.Clients {
				return poller.Clients{
					DriverApp: driverapp.New(cfg.DriverAppBaseURL, cfg.DriverAppAuthURL, cfg.PollTimeout),
					Portal:    portal.New(cfg.PortalBaseURL, cfg.PortalAuthURL, cfg.PollTimeout),
				}
			}

			// Refresh calls go through a dedicated client pair so the
			// identity endpoints never contend with worker transports.
			refreshSet := newClients()
			tokens := token.NewManager(st, map[offer.Platform]platform.Refresher{
				offer.PlatformDriverApp: refreshSet.DriverApp.(*driverapp.Client),
				offer.PlatformPortal:    refreshSet.Portal.(*portal.Client),
			})

			pool := notify.NewPool(notify.SlogSender{}, cfg.NotifyWorkers, 64)
			defer pool.Close()

			p := poller.New(st, tokens, cache.New(), pool, newClients, poller.Options{
				Interval:       cfg.PollInterval,
				PollTimeout:    cfg.PollTimeout,
				ReserveTimeout: cfg.ReserveTimeout,
				Workers:        cfg.WorkerPoolSize,
				FastMode:       cfg.FastMode,
			})

			slog.Info("poller starting",
				"interval", cfg.PollInterval,
				"workers", cfg.WorkerPoolSize,
				"fast_mode", cfg.FastMode)

			if err := p.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}
