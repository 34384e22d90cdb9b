package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/warp/lodger-engine/api"
)

// serveCmd starts the HTTP API and the daily scheduler.
//
// GRACEFUL SHUTDOWN:
//
//	On SIGINT/SIGTERM the scheduler stops, the server stops accepting new
//	connections and waits up to 30s for active requests, then the store closes.
func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the daily scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.shutdown()

			handler := api.NewHandler(a.engine, a.sweeper, a.store, a.log)
			router := api.NewRouter(handler, api.RouterOptions{
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				Logger:         a.log,
			})

			scheduler := api.NewDailyScheduler(a.engine, a.sweeper, a.log)
			scheduler.Interval = a.cfg.Scheduler.Interval
			scheduler.Enabled = a.cfg.Scheduler.Enabled

			server := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
				Handler:      router,
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				a.log.Infow("server starting", "addr", server.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
				close(serverErr)
			}()
			scheduler.Start()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			select {
			case <-quit:
			case err := <-serverErr:
				if err != nil {
					scheduler.Stop()
					return errors.Wrap(err, "server failed")
				}
			}

			a.log.Info("shutting down server")
			scheduler.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return errors.Wrap(err, "server forced to shutdown")
			}
			a.log.Info("server stopped")
			return nil
		},
	}
}
