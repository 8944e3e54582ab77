package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/placescout/internal/api"
	"github.com/sells-group/placescout/internal/config"
	"github.com/sells-group/placescout/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Cache, env.Engine.Breaker()),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           newAPIHandler(env, cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func newAPIHandler(env *engineEnv, cfg *config.Config) http.Handler {
	return api.NewServer(env.Engine, env.Cache, env.Engine.Breaker(), api.Options{
		DefaultCredential: cfg.Google.APIKey,
		DefaultLimit:      cfg.Discovery.DefaultLimit,
		CORSOrigins:       cfg.Server.CORSOrigins,
		RateLimitPerMin:   cfg.Server.RateLimitPerMin,
		RequestTimeout:    cfg.Server.RequestTimeout(),
	}).Handler()
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
