package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-ledger-sync/internal/config"
	"github.com/tbourn/go-ledger-sync/internal/feed"
	httpapi "github.com/tbourn/go-ledger-sync/internal/http"
	"github.com/tbourn/go-ledger-sync/internal/observability"
	"github.com/tbourn/go-ledger-sync/internal/persist"
	"github.com/tbourn/go-ledger-sync/internal/reconcile"
	"github.com/tbourn/go-ledger-sync/internal/repo"
	"github.com/tbourn/go-ledger-sync/internal/services"
	"github.com/tbourn/go-ledger-sync/internal/store"
	"github.com/tbourn/go-ledger-sync/internal/sysutil"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation loop and the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, sysutil.FirstNonEmpty(addr, ":"+cfg.Port))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, addr string) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Info{
		Version: version,
		Groups:  cfg.Sync.Groups,
		Backend: cfg.Storage.Backend,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	kv, err := openKV(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Warn().Err(err).Msg("close storage")
		}
	}()

	snap := persist.New(kv, persist.Options{
		Limit:  cfg.Storage.SnapshotLimit,
		Expiry: cfg.Sync.PendingExpiry,
	})
	client := feed.New(cfg.Feed.BaseURL, cfg.Feed.Token, feed.Options{RPS: cfg.Feed.RPS})

	loop := reconcile.New(store.New(), client, client, reconcile.Options{
		Groups:        cfg.Sync.Groups,
		FastInterval:  cfg.Sync.FastInterval,
		SlowInterval:  cfg.Sync.SlowInterval,
		FetchTimeout:  cfg.Sync.FetchTimeout,
		PendingExpiry: cfg.Sync.PendingExpiry,
		MaxConcurrent: cfg.Sync.MaxConcurrent,
		Persist:       snap,
	})

	svc := services.NewSyncService(loop)
	svc.AllowNewGroups = cfg.Sync.AllowNewGroups

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, svc, cfg)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var ret *reconcile.Retention
	if cfg.Retention.Cron != "" {
		if ret, err = reconcile.NewRetention(loop, cfg.Retention.Cron, cfg.Retention.Keep); err != nil {
			return err
		}
	}

	if err := loop.Start(ctx); err != nil {
		return err
	}
	defer loop.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", addr).Strs("groups", loop.Groups()).Str("storage", cfg.Storage.Backend).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if ret != nil {
		g.Go(func() error {
			ret.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Request contexts derive from ctx, so open streams are already
		// ending; Close drops whatever outlives the deadline.
		if err := srv.Shutdown(sctx); err != nil {
			_ = srv.Close()
		}
		return nil
	})

	return g.Wait()
}

func openKV(cfg config.Config) (repo.KV, error) {
	return repo.Open(repo.OpenOptions{
		Backend:   cfg.Storage.Backend,
		DBPath:    cfg.Storage.DBPath,
		RedisURL:  cfg.Storage.RedisURL,
		PebbleDir: cfg.Storage.PebbleDir,
	})
}
