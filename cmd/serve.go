package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/clickprop/internal/proxy"
	"github.com/sells-group/clickprop/internal/store"
)

var (
	servePort     int
	serveUpstream string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rewriting reverse proxy",
	Long:  "Proxies an upstream site and rewrites its HTML so tracked click identifiers follow each visitor across pages.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveUpstream != "" {
			cfg.Server.Upstream = serveUpstream
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		upstream, err := url.Parse(cfg.Server.Upstream)
		if err != nil {
			return eris.Wrap(err, "parse upstream url")
		}

		eng, backend, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer backend.Close()

		p, err := proxy.New(eng, proxy.Options{
			Upstream:       upstream,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RateLimit:      cfg.Server.RateLimit,
			Burst:          cfg.Server.Burst,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			CookieName:     cfg.Server.CookieName,
			CookieMaxAge:   storeTTL(cfg.Store),
		})
		if err != nil {
			return err
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           p.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		pruner := store.NewParamStore(backend, storeTTL(cfg.Store))
		interval := time.Duration(cfg.Server.PruneIntervalMins) * time.Minute

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting server",
				zap.Int("port", cfg.Server.Port),
				zap.String("upstream", upstream.String()),
			)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			runPruner(gctx, pruner, interval)
			return nil
		})

		return g.Wait()
	},
}

// runPruner removes expired records every interval until ctx is done. A
// non-positive interval disables pruning.
func runPruner(ctx context.Context, ps *store.ParamStore, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := ps.Prune(ctx)
			if err != nil {
				zap.L().Warn("prune expired records failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Info("pruned expired records", zap.Int("count", n))
			}
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().StringVar(&serveUpstream, "upstream", "", "upstream site URL (default from config)")
	rootCmd.AddCommand(serveCmd)
}
