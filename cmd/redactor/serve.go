package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-redactor/internal/config"
	"github.com/raaihank/pii-redactor/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload server and dashboard",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the configured HTTP port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.current()
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	log := a.log

	log.Info("Starting PII redactor",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port))

	js, err := a.openJobs()
	if err != nil {
		log.Error("Failed to open job history", zap.Error(err))
		return err
	}
	defer js.Close()

	dir, err := server.UploadDir(cfg)
	if err != nil {
		return err
	}
	runner := a.newRunner(js, dir, 0)

	srv, err := server.New(cfg, log, server.Deps{
		Runner:   runner,
		Jobs:     js,
		Engines:  a.engines(),
		Gatherer: a.registry,
		Version:  version,
	})
	if err != nil {
		log.Error("Failed to create server", zap.Error(err))
		return err
	}

	config.Watch(log.Logger, func(next *config.Config) {
		a.reload(next, runner, dir, srv.ResetEngines)
	})

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
		return err
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	}

	// Give running jobs and requests 30 seconds to finish
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		log.Error("Failed to shutdown server gracefully", zap.Error(err))
		return err
	}
	log.Info("Server shutdown complete")
	return nil
}
