package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"

	"github.com/transmote/transmote/internal/api"
	"github.com/transmote/transmote/internal/bot"
	"github.com/transmote/transmote/internal/bot/monitor"
	"github.com/transmote/transmote/internal/bot/refresh"
	"github.com/transmote/transmote/internal/config"
	"github.com/transmote/transmote/internal/logger"
	"github.com/transmote/transmote/internal/scheduler"
	"github.com/transmote/transmote/internal/torrents/transmission"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	// Optional .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Path:   cfg.Logging.Path,
	})
	defer log.Close()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Fatal error")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Only the first configured daemon is driven for now; the rest are
	// surfaced in the log so a misconfiguration is visible.
	daemon := cfg.Daemons[0]
	for _, extra := range cfg.Daemons[1:] {
		log.Warn().Str("daemon", extra.Name).Msg("Ignoring additional daemon, multi-daemon control is not supported")
	}

	client := transmission.New(&transmission.Config{
		Host:     daemon.Host,
		Port:     daemon.Port,
		Username: daemon.Username,
		Password: daemon.Password,
		UseSSL:   daemon.UseSSL,
	})

	if err := client.Test(ctx); err != nil {
		log.Warn().Err(err).
			Str("host", daemon.Host).
			Int("port", daemon.Port).
			Msg("Transmission daemon not reachable at startup, continuing anyway")
	} else {
		log.Info().Str("host", daemon.Host).Int("port", daemon.Port).Msg("Connected to Transmission daemon")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	log.Info().Str("username", botAPI.Self.UserName).Msg("Authorized on Telegram")

	allowed, err := cfg.WhitelistIDs()
	if err != nil {
		return err
	}

	refreshScheduler := refresh.New(
		client,
		time.Duration(cfg.Refresh.IntervalSec)*time.Second,
		time.Duration(cfg.Refresh.DurationSec)*time.Second,
		log.Logger,
	)

	var completionMonitor *monitor.Monitor
	sched, err := scheduler.New(log.Logger)
	if err != nil {
		return err
	}

	if cfg.Notifications.Enabled {
		completionMonitor = monitor.New(client, log.Logger)
		err := sched.RegisterTask(scheduler.TaskConfig{
			ID:          "completion-monitor",
			Name:        "Completion Monitor",
			Description: "Polls the daemon and notifies users when their torrents finish",
			Interval:    time.Duration(cfg.Notifications.IntervalSec) * time.Second,
			Func:        completionMonitor.Tick,
			RunOnStart:  true,
		})
		if err != nil {
			return err
		}
	}

	b := bot.New(botAPI, client, refreshScheduler, completionMonitor, allowed, log.Logger)

	if err := sched.Start(); err != nil {
		return err
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			log.Warn().Err(err).Msg("Scheduler shutdown failed")
		}
	}()

	if cfg.Server.Enabled {
		server := api.NewServer(client, sched, log.Logger)
		go func() {
			if err := server.Start(cfg.Server.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("HTTP server shutdown failed")
			}
		}()
	}

	return b.Run(ctx)
}
