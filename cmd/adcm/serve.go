package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ADCM daemon",
	Long: `Run the ADCM daemon in the foreground.

The daemon pushes events and the service map to the status server,
recovers tasks whose runner died and serves /metrics, /health, /ready
and /live on metrics.addr. SIGINT or SIGTERM aborts running tasks and
stops the daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, m, err := openManager(cmd)
		if err != nil {
			return err
		}
		logger := log.WithComponent("serve")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var srv *http.Server
		if cfg.Metrics.Addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/health", metrics.HealthHandler())
			mux.HandleFunc("/ready", metrics.ReadyHandler())
			mux.HandleFunc("/live", metrics.LivenessHandler())
			srv = &http.Server{
				Addr:              cfg.Metrics.Addr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error().Err(err).Msg("metrics endpoint failed")
				}
			}()
		}

		fmt.Printf("ADCM %s serving %s\n", Version, cfg.BaseDir)
		err = m.Serve(ctx)

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Println("✓ ADCM stopped")
		return nil
	},
}
