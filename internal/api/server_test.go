package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/seanmck/mailcorr/internal/cache"
	"github.com/seanmck/mailcorr/internal/config"
	"github.com/seanmck/mailcorr/internal/mailbox"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockScheduler implements RefreshScheduler for tests.
type mockScheduler struct {
	running   bool
	status    SchedulerStatus
	triggerFn func() error
}

func newMockScheduler() *mockScheduler {
	return &mockScheduler{running: true}
}

func (m *mockScheduler) TriggerRefresh() error {
	if m.triggerFn != nil {
		return m.triggerFn()
	}
	return nil
}

func (m *mockScheduler) Status() SchedulerStatus {
	return m.status
}

func (m *mockScheduler) IsRunning() bool {
	return m.running
}

// mockMailService implements MailService for tests.
type mockMailService struct {
	messages   []mailbox.MessageRecord
	messageErr error
	result     cache.Result
	refreshErr error
	info       cache.CacheInfo
	infoErr    error

	lastDaysBack int
}

func (m *mockMailService) Messages(ctx context.Context, daysBack int) ([]mailbox.MessageRecord, error) {
	m.lastDaysBack = daysBack
	if m.messageErr != nil {
		return nil, m.messageErr
	}
	return m.messages, nil
}

func (m *mockMailService) Refresh(ctx context.Context) (cache.Result, error) {
	if m.refreshErr != nil {
		return cache.Result{}, m.refreshErr
	}
	return m.result, nil
}

func (m *mockMailService) Info() (cache.CacheInfo, error) {
	if m.infoErr != nil {
		return cache.CacheInfo{}, m.infoErr
	}
	return m.info, nil
}

func testMessages() []mailbox.MessageRecord {
	return []mailbox.MessageRecord{
		{
			Subject:       "Re: Renewal discussion",
			SenderName:    "Jane Doe",
			SenderAddress: "jane.doe@customer.com",
			Recipients:    []string{"sam.smith@vendor.com"},
			ReceivedAt:    time.Date(2025, 5, 14, 9, 0, 0, 0, time.UTC),
			Body:          "Sounds good, let's talk Thursday.",
			Kind:          mailbox.KindMail,
		},
		{
			Subject:       "Quarterly check-in",
			SenderName:    "Sam Smith",
			SenderAddress: "sam.smith@vendor.com",
			Recipients:    []string{"jane.doe@customer.com"},
			ReceivedAt:    time.Date(2025, 5, 12, 15, 30, 0, 0, time.UTC),
			Body:          "Hi Jane, checking in ahead of the QBR.",
			Kind:          mailbox.KindMail,
		},
	}
}

func newTestServer(t *testing.T, mail MailService) *Server {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{APIPort: 8080},
	}
	return NewServer(cfg, mail, newMockScheduler(), testLogger())
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, &mockMailService{})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareNoKeyConfigured(t *testing.T) {
	srv := newTestServer(t, &mockMailService{messages: testMessages()})

	// No API key configured: requests pass without credentials
	req := httptest.NewRequest("GET", "/api/v1/inbox", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddlewareWithKey(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{APIPort: 8080, APIKey: "secret-key"},
	}
	srv := NewServer(cfg, &mockMailService{messages: testMessages()}, newMockScheduler(), testLogger())

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"no credentials", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "wrong", http.StatusUnauthorized},
		{"x-api-key header", "X-API-Key", "secret-key", http.StatusOK},
		{"bearer token", "Authorization", "Bearer secret-key", http.StatusOK},
		{"raw authorization", "Authorization", "secret-key", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/inbox", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			srv.Router().ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{APIPort: 8080, APIKey: "secret-key"},
	}
	srv := NewServer(cfg, &mockMailService{}, newMockScheduler(), testLogger())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health with no credentials: status = %d, want %d", w.Code, http.StatusOK)
	}
}
