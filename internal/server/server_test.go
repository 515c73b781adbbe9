package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"acgn_relay/internal/scheduler"
)

const testSecret = "s3cret"

type webhookCall struct {
	URL    string
	Secret string
}

type mockBot struct {
	mu       sync.Mutex
	updates  []tgbotapi.Update
	webhooks []webhookCall
	setErr   error
}

func (m *mockBot) HandleUpdate(_ context.Context, u tgbotapi.Update) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, u)
	return u.Message != nil && u.Message.Text != ""
}

func (m *mockBot) SetWebhook(url, secret string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooks = append(m.webhooks, webhookCall{URL: url, Secret: secret})
	if m.setErr != nil {
		return `{"ok":false}`, m.setErr
	}
	return `{"ok":true}`, nil
}

type mockJob struct {
	runs int
	rep  scheduler.Report
}

func (m *mockJob) Run(context.Context) scheduler.Report {
	m.runs++
	return m.rep
}

func newTestServer(publicURL string) (*Server, *mockBot, *mockJob) {
	b := &mockBot{}
	j := &mockJob{}
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics")
	})
	s := New(b, j, metrics, testSecret, publicURL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return s, b, j
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhook(t *testing.T) {
	textUpdate := `{"update_id":1,"message":{"message_id":5,"date":1700000000,"chat":{"id":42,"type":"private"},"text":"/help"}}`

	tests := []struct {
		name        string
		secret      string
		body        string
		wantStatus  int
		wantBody    string
		wantUpdates int
	}{
		{
			name:        "handled text message",
			secret:      testSecret,
			body:        textUpdate,
			wantStatus:  http.StatusOK,
			wantBody:    "ok",
			wantUpdates: 1,
		},
		{
			name:       "wrong secret",
			secret:     "nope",
			body:       textUpdate,
			wantStatus: http.StatusForbidden,
			wantBody:   "invalid secret\n",
		},
		{
			name:       "missing secret",
			body:       textUpdate,
			wantStatus: http.StatusForbidden,
			wantBody:   "invalid secret\n",
		},
		{
			name:        "envelope without message",
			secret:      testSecret,
			body:        `{"update_id":2,"edited_message":{"message_id":5,"chat":{"id":42},"text":"x"}}`,
			wantStatus:  http.StatusNotImplemented,
			wantBody:    "not implemented\n",
			wantUpdates: 1,
		},
		{
			name:       "not json",
			secret:     testSecret,
			body:       "hello",
			wantStatus: http.StatusNotImplemented,
			wantBody:   "not implemented\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b, _ := newTestServer("")
			header := http.Header{}
			if tt.secret != "" {
				header.Set(SecretHeader, tt.secret)
			}

			rec := do(t, s.Handler(), http.MethodPost, "/webhook", header, tt.body)

			if diff := cmp.Diff(tt.wantStatus, rec.Code); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantBody, rec.Body.String()); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantUpdates, len(b.updates)); diff != "" {
				t.Errorf("update count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWebhookDecodesMessage(t *testing.T) {
	s, b, _ := newTestServer("")
	header := http.Header{}
	header.Set(SecretHeader, testSecret)
	body := `{"update_id":9,"message":{"message_id":5,"date":1700000000,"chat":{"id":-1001,"type":"supergroup"},"text":"/list_rules@acgn_relay_bot"}}`

	do(t, s.Handler(), http.MethodPost, "/webhook", header, body)

	if len(b.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(b.updates))
	}
	msg := b.updates[0].Message
	if diff := cmp.Diff(int64(-1001), msg.Chat.ID); diff != "" {
		t.Errorf("chat id mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("/list_rules@acgn_relay_bot", msg.Text); diff != "" {
		t.Errorf("text mismatch (-want +got):\n%s", diff)
	}
}

func TestSetWebhook(t *testing.T) {
	tests := []struct {
		name       string
		publicURL  string
		target     string
		setErr     error
		wantStatus int
		wantCalls  []webhookCall
	}{
		{
			name:       "uses request host",
			target:     "http://relay.example.com:8080/setWebhook?secret=" + testSecret,
			wantStatus: http.StatusOK,
			wantCalls:  []webhookCall{{URL: "https://relay.example.com/webhook", Secret: testSecret}},
		},
		{
			name:       "uses public url",
			publicURL:  "https://bot.example.org/relay",
			target:     "/setWebhook?secret=" + testSecret,
			wantStatus: http.StatusOK,
			wantCalls:  []webhookCall{{URL: "https://bot.example.org/relay/webhook", Secret: testSecret}},
		},
		{
			name:       "unset clears the url",
			target:     "/unsetWebhook?secret=" + testSecret,
			wantStatus: http.StatusOK,
			wantCalls:  []webhookCall{{URL: "", Secret: testSecret}},
		},
		{
			name:       "transport failure",
			target:     "/setWebhook?secret=" + testSecret,
			setErr:     errors.New("Bad Request: bad webhook"),
			wantStatus: http.StatusInternalServerError,
			wantCalls:  []webhookCall{{URL: "https://example.com/webhook", Secret: testSecret}},
		},
		{
			name:       "unset with wrong secret",
			target:     "/unsetWebhook?secret=nope",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "set without secret",
			target:     "/setWebhook",
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, b, _ := newTestServer(tt.publicURL)
			b.setErr = tt.setErr

			rec := do(t, s.Handler(), http.MethodGet, tt.target, nil, "")

			if diff := cmp.Diff(tt.wantStatus, rec.Code); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCalls, b.webhooks); diff != "" {
				t.Errorf("webhook calls mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDispatchTrigger(t *testing.T) {
	s, _, j := newTestServer("")
	j.rep = scheduler.Report{Posts: 3, Sent: 2, Failed: 1}

	rec := do(t, s.Handler(), http.MethodGet, "/fowardJob", nil, "")

	if diff := cmp.Diff(http.StatusOK, rec.Code); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("posts: 3, sent: 2, failed: 1", rec.Body.String()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, j.runs); diff != "" {
		t.Errorf("run count mismatch (-want +got):\n%s", diff)
	}
}

func TestNotFound(t *testing.T) {
	tests := []struct {
		method string
		target string
	}{
		{method: http.MethodGet, target: "/"},
		{method: http.MethodGet, target: "/forwardJob"},
		{method: http.MethodGet, target: "/webhook"},
		{method: http.MethodPost, target: "/fowardJob"},
		{method: http.MethodGet, target: "/set"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			s, b, j := newTestServer("")
			rec := do(t, s.Handler(), tt.method, tt.target, nil, "")

			if diff := cmp.Diff(http.StatusNotFound, rec.Code); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff("not found\n", rec.Body.String()); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
			if len(b.updates) != 0 || len(b.webhooks) != 0 || j.runs != 0 {
				t.Error("unexpected side effects")
			}
		})
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _, _ := newTestServer("")
	rec := do(t, s.Handler(), http.MethodGet, "/metrics", nil, "")
	if diff := cmp.Diff("# metrics", rec.Body.String()); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}
