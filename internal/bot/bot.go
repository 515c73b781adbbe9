// Package bot implements the Telegram transport and the subscriber command
// processor.
package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"acgn_relay/internal/fetcher"
	"acgn_relay/internal/filter"
	"acgn_relay/internal/metrics"
	"acgn_relay/internal/rules"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is the Telegram bot that handles subscriber commands and sends notifications.
type Bot struct {
	api      telegramAPI
	store    *rules.Store
	fetcher  *fetcher.Fetcher
	matcher  *filter.Matcher
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	log      *slog.Logger
	now      func() time.Time
	commands map[string]commandHandler
}

// New creates a Bot with the given Telegram token and collaborators.
func New(
	token string,
	store *rules.Store,
	f *fetcher.Fetcher,
	m *filter.Matcher,
	met *metrics.Metrics,
	log *slog.Logger,
) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return newBot(api, store, f, m, met, log), nil
}

func newBot(
	api telegramAPI,
	store *rules.Store,
	f *fetcher.Fetcher,
	m *filter.Matcher,
	met *metrics.Metrics,
	log *slog.Logger,
) *Bot {
	b := &Bot{
		api:     api,
		store:   store,
		fetcher: f,
		matcher: m,
		metrics: met,
		limiter: NewSendLimiter(DefaultSendRate),
		log:     log,
		now:     time.Now,
	}
	b.commands = b.commandTable()
	return b
}

// DefaultSendRate is the notification rate in messages per second, below
// Telegram's global bot limit.
const DefaultSendRate = 20

// NewSendLimiter returns a limiter for notification sends. A non-positive
// rate disables throttling.
func NewSendLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// SetLimiter replaces the limiter applied to bulk notification sends. Share
// one limiter with the dispatch job so both stay under the same budget.
func (b *Bot) SetLimiter(l *rate.Limiter) {
	b.limiter = l
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
// It is used instead of the webhook when no public URL is available.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if !b.HandleUpdate(ctx, update) {
				b.log.Debug("ignored update", "update_id", update.UpdateID)
			}
		}
	}
}

// HandleUpdate routes one inbound update. It reports false if the update
// carries neither a text message nor a callback query.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) bool {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil && update.CallbackQuery.Message.Chat != nil:
		b.handleCallback(ctx, update.CallbackQuery)
		return true
	case update.Message != nil && update.Message.Chat != nil && update.Message.Text != "":
		b.HandleText(ctx, chatKey(update.Message.Chat.ID), update.Message.Text)
		return true
	}
	return false
}

// SendMessage sends a text message to the given chat. Numeric IDs address
// chats directly; anything else is treated as a channel username.
func (b *Bot) SendMessage(chatID, text string) error {
	if _, err := b.api.Send(newMessage(chatID, text)); err != nil {
		return fmt.Errorf("send message to %s: %w", chatID, err)
	}
	return nil
}

// SetWebhook registers url as the webhook endpoint; Telegram will echo
// secret in the X-Telegram-Bot-Api-Secret-Token header. An empty url
// removes the webhook. The raw API response is returned as JSON.
func (b *Bot) SetWebhook(url, secret string) (string, error) {
	resp, err := b.api.MakeRequest("setWebhook", tgbotapi.Params{
		"url":          url,
		"secret_token": secret,
	})
	var body string
	if resp != nil {
		if data, merr := json.Marshal(resp); merr == nil {
			body = string(data)
		}
	}
	if err != nil {
		return body, fmt.Errorf("set webhook: %w", err)
	}
	return body, nil
}

func (b *Bot) reply(chatID, text string) {
	if err := b.SendMessage(chatID, text); err != nil {
		b.log.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func newMessage(chatID, text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	username := chatID
	if !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	return tgbotapi.NewMessageToChannel(username, text)
}

func chatKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
