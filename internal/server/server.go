// Package server exposes the bot's HTTP surface: the Telegram webhook, webhook
// registration, the manual dispatch trigger and metrics.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"

	"acgn_relay/internal/scheduler"
)

// SecretHeader carries the webhook secret on inbound Telegram updates.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

const maxUpdateSize = 1 << 20

// Request-triggered work runs detached from the caller's connection and is
// bounded by these timeouts instead.
const (
	dispatchTimeout = 10 * time.Minute
	updateTimeout   = 5 * time.Minute
)

// UpdateHandler processes inbound bot updates and manages the webhook.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) bool
	SetWebhook(url, secret string) (string, error)
}

// Dispatcher runs one dispatch pass.
type Dispatcher interface {
	Run(ctx context.Context) scheduler.Report
}

// Server is the HTTP front of the bot.
type Server struct {
	bot       UpdateHandler
	job       Dispatcher
	metrics   http.Handler
	secret    string
	publicURL string
	log       *slog.Logger
}

// New creates a Server. publicURL is the externally reachable base URL used
// when registering the webhook; when empty the request host is used.
func New(bot UpdateHandler, job Dispatcher, metrics http.Handler, secret, publicURL string, log *slog.Logger) *Server {
	return &Server{
		bot:       bot,
		job:       job,
		metrics:   metrics,
		secret:    secret,
		publicURL: publicURL,
		log:       log,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/setWebhook", s.handleSetWebhook).Methods(http.MethodGet)
	r.HandleFunc("/unsetWebhook", s.handleUnsetWebhook).Methods(http.MethodGet)
	r.HandleFunc("/fowardJob", s.handleDispatch).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(notFound)
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.validSecret(r.Header.Get(SecretHeader)) {
		http.Error(w, "invalid secret", http.StatusForbidden)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateSize))
	if err != nil {
		s.log.Warn("read webhook body", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var update tgbotapi.Update
	if err := json.Unmarshal(body, &update); err != nil {
		s.log.Debug("unrecognized webhook body", "error", err)
		http.Error(w, "not implemented", http.StatusNotImplemented)
		return
	}

	ctx, cancel := detached(r.Context(), updateTimeout)
	defer cancel()
	if !s.bot.HandleUpdate(ctx, update) {
		s.log.Debug("unhandled update", "update_id", update.UpdateID)
		http.Error(w, "not implemented", http.StatusNotImplemented)
		return
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleSetWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.validSecret(r.URL.Query().Get("secret")) {
		http.Error(w, "invalid secret", http.StatusForbidden)
		return
	}
	s.registerWebhook(w, s.webhookURL(r))
}

func (s *Server) handleUnsetWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.validSecret(r.URL.Query().Get("secret")) {
		http.Error(w, "invalid secret", http.StatusForbidden)
		return
	}
	s.registerWebhook(w, "")
}

func (s *Server) registerWebhook(w http.ResponseWriter, url string) {
	body, err := s.bot.SetWebhook(url, s.secret)
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		s.log.Error("set webhook", "url", url, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
	} else {
		s.log.Info("webhook updated", "url", url)
		w.WriteHeader(http.StatusOK)
	}
	_, _ = io.WriteString(w, body)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := detached(r.Context(), dispatchTimeout)
	defer cancel()
	rep := s.job.Run(ctx)
	writeText(w, http.StatusOK, rep.String())
}

func (s *Server) webhookURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL + "/webhook"
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return "https://" + host + "/webhook"
}

func (s *Server) validSecret(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

// detached keeps the request's values but not its cancellation, bounded by
// timeout instead.
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, "not found", http.StatusNotFound)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, text)
}
