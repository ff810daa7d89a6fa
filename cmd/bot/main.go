// Command bot runs the PMCC trading bot: it starts the lifecycle
// controller for the configured bot instance and, when enabled, the
// dashboard API alongside it.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/kelly_kapoor/internal/broker"
	"github.com/eddiefleurent/kelly_kapoor/internal/config"
	"github.com/eddiefleurent/kelly_kapoor/internal/controller"
	"github.com/eddiefleurent/kelly_kapoor/internal/dashboard"
	"github.com/eddiefleurent/kelly_kapoor/internal/storage"
)

func main() {
	var configPath string
	var botInstanceID int64
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Int64Var(&botInstanceID, "bot-id", 1, "Bot instance id to run")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[BOT] ", log.LstdFlags|log.Lshortfile)

	logger.Printf("Starting PMCC bot in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("🏳️ PAPER TRADING MODE - No real money at risk")
	} else {
		logger.Println("💰 LIVE TRADING MODE - Real money at risk!")
		logger.Println("Waiting 10 seconds to confirm...")
		time.Sleep(10 * time.Second)
	}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("Error closing storage: %v", err)
		}
	}()

	newBroker := func() (broker.Broker, error) {
		client := broker.NewTradierClient(
			cfg.Broker.APIKey,
			cfg.Broker.AccountID,
			cfg.IsPaperTrading(),
		)
		return broker.NewCircuitBreakerBroker(client), nil
	}

	ctrl := controller.New(cfg, store, logger, newBroker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		result, err := ctrl.StartBot(botInstanceID)
		if err != nil {
			return err
		}
		logger.Printf("Bot %d: %s", botInstanceID, result.Message)
		<-gctx.Done()
		return nil
	})

	var dash *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashLogger := logrus.New()
		dashLogger.SetLevel(logrusLevel(cfg.Environment.LogLevel))
		dash = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, store, ctrl, dashLogger)

		g.Go(func() error {
			if err := dash.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-sigChan:
			logger.Println("Shutdown signal received, stopping bot...")
			cancel()
		case <-gctx.Done():
		}

		ctrl.StopAll()
		if dash != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := dash.Shutdown(shutdownCtx); err != nil {
				logger.Printf("Dashboard shutdown error: %v", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Fatalf("Bot error: %v", err)
	}

	logger.Println("Bot stopped successfully")
}

func logrusLevel(level string) logrus.Level {
	switch level {
	case "debug":
		return logrus.DebugLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
