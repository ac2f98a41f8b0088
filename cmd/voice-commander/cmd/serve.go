package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yegors/voice-commander/internal/api"
	"github.com/yegors/voice-commander/internal/history"
	"github.com/yegors/voice-commander/internal/settings"
	"github.com/yegors/voice-commander/internal/storage/sqlite"
	"github.com/yegors/voice-commander/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the command pipeline behind an HTTP API.

Capture clients POST recorded PCM or WAV to /api/v1/commands and follow
progress on the /api/v1/events websocket. Finished commands are stored
in the sqlite history unless storage is disabled.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		printError("failed to load config", err)
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := settings.Open(cfg.Settings.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}

	controller, err := newController(context.Background(), cfg, store, log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	var historyStore api.HistoryStore
	if cfg.Storage.Enabled {
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()

		commands, err := sqlite.NewCommandStorage(db, log)
		if err != nil {
			return err
		}

		recorder := history.NewRecorder(context.Background(), controller, commands, log)
		if err := recorder.Start(); err != nil {
			return err
		}
		defer func() { _ = recorder.Stop() }()

		historyStore = commands
	}

	handler := api.NewHandler(controller, store, historyStore, cfg, log)
	router := api.NewRouter(handler, cfg, log)
	server := api.NewServer(cfg.Server, router.Routes(), log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	log.Info("voice-commander started",
		logger.String("listen_addr", cfg.Server.ListenAddr),
		logger.String("translation", cfg.Translation.Provider),
		logger.Bool("send_commands", store.Snapshot().DeliveryEnabled))

	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = controller.Close(context.Background())
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("API server shutdown incomplete", logger.Error(err))
	}
	// Closing the controller ends the event streams and lets the recorder
	// store the last terminal event before it stops.
	if err := controller.Close(shutdownCtx); err != nil {
		log.Warn("Pipeline shutdown incomplete", logger.Error(err))
	}

	log.Info("voice-commander stopped")
	return nil
}
