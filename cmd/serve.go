package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/app"
	httpSrv "github.com/aureeaubert/hull-closeio/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification intake HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		a, err := app.Open(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		server := httpSrv.NewServer(cfg.HTTP, cfg.Log.Level, httpSrv.Deps{
			Syncer: a.Agent,
			Events: a.Events,
			Redis:  a.Redis,
			Log:    log,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
