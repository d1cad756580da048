package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/martinemde/rlm/internal/server"
	"github.com/martinemde/rlm/rlm"
)

const sweepInterval = time.Minute

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the OpenAI-compatible HTTP API",
		Long: `Serves POST /v1/chat/completions, GET /v1/models, GET and DELETE
/v1/sessions/{id}, and GET /health.

Point any OpenAI client at http://HOST:PORT/v1. The model name may be a
"model:recursive_model" pair.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			if !a.cfg.Logging.Verbose {
				gin.SetMode(gin.ReleaseMode)
			}

			registry, err := a.registry()
			if err != nil {
				return err
			}
			store := rlm.NewSessionStore(a.cfg.Server.SessionTTL, a.cfg.Server.MaxSessions)
			defer store.CloseAll()

			srv := server.New(registry, store, a.cfg.Server, a.logger)
			a.logger.Info("starting rlm server",
				zap.String("addr", a.cfg.Server.Addr()),
				zap.String("model", registry.Base().Model),
				zap.String("recursive_model", registry.Base().RecursiveModel),
				zap.Int("max_iterations", registry.Base().MaxIterations))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Run(gctx)
			})
			g.Go(func() error {
				sweepSessions(gctx, store, a.logger)
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config, HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (default from config, PORT)")
	return cmd
}

// sweepSessions expires idle sessions until ctx is done.
func sweepSessions(ctx context.Context, store *rlm.SessionStore, logger *zap.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := store.Sweep(); n > 0 {
				logger.Debug("expired sessions", zap.Int("count", n), zap.Int("remaining", store.Len()))
			}
		}
	}
}
