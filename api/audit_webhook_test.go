package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWebhook(t *testing.T, url, authHeader string) *auditWebhook {
	t.Helper()
	wh := newAuditWebhook(url, authHeader, slog.New(slog.NewTextHandler(io.Discard, nil)))
	wh.retryDelay = time.Millisecond
	return wh
}

func TestWebhook_Delivery(t *testing.T) {
	var (
		mu       sync.Mutex
		received webhookEvent
		header   http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		header = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, srv.URL, "Authorization: Bearer collector-token")
	wh.enqueue(webhookEvent{
		Event:      string(AuditPasswordRejected),
		Host:       "staging.example.com",
		RemoteAddr: "10.0.0.1:5555",
		Timestamp:  "2025-06-15T12:00:00Z",
		Attrs:      map[string]string{"reason": "wrong password"},
	})
	wh.close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "password_rejected", received.Event)
	assert.Equal(t, "staging.example.com", received.Host)
	assert.Equal(t, "10.0.0.1:5555", received.RemoteAddr)
	assert.Equal(t, "wrong password", received.Attrs["reason"])
	assert.Equal(t, "Bearer collector-token", header.Get("Authorization"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, webhookUserAgent, header.Get("User-Agent"))
}

func TestWebhook_RetryPolicy(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		want     int32
	}{
		{"success", []int{200}, 1},
		{"retry once on 5xx", []int{500, 200}, 2},
		{"gives up after second 5xx", []int{503, 503, 200}, 2},
		{"no retry on 4xx", []int{400, 200}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := attempts.Add(1)
				w.WriteHeader(tt.statuses[int(n)-1])
			}))
			defer srv.Close()

			wh := newTestWebhook(t, srv.URL, "")
			wh.enqueue(webhookEvent{Event: "test_event", Timestamp: "2025-01-01T00:00:00Z"})
			wh.close()
			assert.Equal(t, tt.want, attempts.Load())
		})
	}
}

func TestWebhook_MalformedAuthHeaderIgnored(t *testing.T) {
	wh := newTestWebhook(t, "http://127.0.0.1:1", "no-colon-here")
	defer wh.close()
	assert.Empty(t, wh.headerName)
}

func TestWebhook_QueueFullNonBlocking(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	wh := &auditWebhook{
		url:        srv.URL,
		client:     &http.Client{Timeout: 50 * time.Millisecond},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		retryDelay: time.Millisecond,
		events:     make(chan webhookEvent, 2),
	}
	wh.wg.Add(1)
	go wh.loop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			wh.enqueue(webhookEvent{Event: "flood", Timestamp: "2025-01-01T00:00:00Z"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	close(wh.events)
}

func TestWebhook_CloseDrainsQueue(t *testing.T) {
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := newTestWebhook(t, srv.URL, "")
	for i := 0; i < 5; i++ {
		wh.enqueue(webhookEvent{Event: "drain_test", Timestamp: "2025-01-01T00:00:00Z"})
	}
	wh.close()
	assert.Equal(t, int32(5), count.Load())
}

func TestWebhookEventFrom(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "https://staging.example.com/checkout/", nil)
	r.RemoteAddr = "192.0.2.7:4000"
	ts := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	evt := webhookEventFrom(AuditSettingsSaved, r, ts, []slog.Attr{
		slog.Int("hosts", 2),
		slog.Bool("password_changed", true),
	})
	assert.Equal(t, "settings_saved", evt.Event)
	assert.Equal(t, "staging.example.com", evt.Host)
	assert.Equal(t, "192.0.2.7:4000", evt.RemoteAddr)
	assert.Equal(t, "2025-06-15T12:00:00Z", evt.Timestamp)
	assert.Equal(t, map[string]string{"hosts": "2", "password_changed": "true"}, evt.Attrs)

	evt = webhookEventFrom(AuditAdminUnauthorized, r, ts, nil)
	assert.Nil(t, evt.Attrs)
}

func TestAuditLoggerForwardsToWebhook(t *testing.T) {
	events := make(chan webhookEvent, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			events <- evt
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	al := newAuditLogger(logger)
	al.webhook = newTestWebhook(t, srv.URL, "")

	r := httptest.NewRequest(http.MethodPost, "/checkout/", nil)
	r.Host = "dev.example.com"
	al.logFailure(AuditPasswordRejected, r, "wrong password")
	al.webhook.close()

	require.Len(t, events, 1)
	evt := <-events
	assert.Equal(t, "password_rejected", evt.Event)
	assert.Equal(t, "dev.example.com", evt.Host)
	assert.Equal(t, "wrong password", evt.Attrs["reason"])
}
