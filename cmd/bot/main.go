package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"acgn_relay/internal/bot"
	"acgn_relay/internal/config"
	"acgn_relay/internal/fetcher"
	"acgn_relay/internal/filter"
	"acgn_relay/internal/metrics"
	"acgn_relay/internal/rules"
	"acgn_relay/internal/scheduler"
	"acgn_relay/internal/server"
	"acgn_relay/internal/storage"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	kv, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = kv.Close() }()

	store := rules.NewStore(kv)
	watermark := rules.NewWatermark(kv)

	matcher, err := filter.NewMatcher(log)
	if err != nil {
		log.Error("create matcher", "error", err)
		os.Exit(1)
	}
	defer matcher.Close()

	feed := fetcher.New(
		&http.Client{Timeout: 30 * time.Second},
		fetcher.WithBaseURL(cfg.FeedURL),
		fetcher.WithChannelID(cfg.FeedChannelID),
	)

	met := metrics.New()

	b, err := bot.New(cfg.TelegramBotToken, store, feed, matcher, met, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	// Dispatch and /fetch_now draw from one budget against the Bot API.
	limiter := bot.NewSendLimiter(cfg.SendRate)
	b.SetLimiter(limiter)

	job := scheduler.NewJob(store, watermark, feed, matcher, b, met, log)
	job.SetLimiter(limiter)
	job.SetAdminChat(cfg.AdminChatID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "mode", cfg.Mode, "schedule", cfg.DispatchSchedule)

	if cfg.ScheduleEnabled() {
		sched := scheduler.New(job, cfg.DispatchSchedule, log)
		go func() {
			if err := sched.Run(ctx); err != nil {
				log.Error("scheduler stopped", "error", err)
				cancel()
			}
		}()
	}

	if cfg.Mode == config.ModePolling {
		go b.Run(ctx)
	}

	srv := server.New(b, job, met.Handler(), cfg.BotSecret, cfg.PublicURL, log)
	if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
		log.Error("http server", "error", err)
		os.Exit(1)
	}

	log.Info("bot stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
