// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Bot update delivery modes.
const (
	ModeWebhook = "webhook"
	ModePolling = "polling"
)

// ScheduleOff disables the in-process dispatch schedule.
const ScheduleOff = "off"

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string
	BotSecret        string
	DatabasePath     string
	LogLevel         string
	ListenAddr       string
	PublicURL        string
	Mode             string
	FeedURL          string
	FeedChannelID    string
	DispatchSchedule string
	AdminChatID      string
	SendRate         float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}

	secret := os.Getenv("BOT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("BOT_SECRET is required")
	}

	mode := strings.ToLower(envOrDefault("BOT_MODE", ModeWebhook))
	if mode != ModeWebhook && mode != ModePolling {
		return nil, fmt.Errorf("invalid BOT_MODE %q: want %q or %q", mode, ModeWebhook, ModePolling)
	}

	sendRate := 20.0
	if raw := os.Getenv("SEND_RATE"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_RATE %q: %w", raw, err)
		}
		sendRate = r
	}

	publicURL := strings.TrimRight(os.Getenv("PUBLIC_URL"), "/")

	return &Config{
		TelegramBotToken: token,
		BotSecret:        secret,
		DatabasePath:     envOrDefault("DATABASE_PATH", "./data/bot.db"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		ListenAddr:       envOrDefault("LISTEN_ADDR", ":8080"),
		PublicURL:        publicURL,
		Mode:             mode,
		FeedURL:          envOrDefault("FEED_URL", "https://search.acgn.es/api/"),
		FeedChannelID:    envOrDefault("FEED_CHANNEL_ID", "1"),
		DispatchSchedule: envOrDefault("DISPATCH_SCHEDULE", "*/10 * * * *"),
		AdminChatID:      os.Getenv("ADMIN_CHAT_ID"),
		SendRate:         sendRate,
	}, nil
}

// ScheduleEnabled reports whether dispatch runs on an in-process schedule.
func (c *Config) ScheduleEnabled() bool {
	return !strings.EqualFold(c.DispatchSchedule, ScheduleOff)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
