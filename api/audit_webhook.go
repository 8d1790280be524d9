package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	webhookQueueSize  = 1024
	webhookUserAgent  = "checkoutgate-audit-webhook/1.0"
	webhookRetryDelay = time.Second
)

// webhookEvent is the JSON document POSTed for each forwarded audit event.
type webhookEvent struct {
	Event      string            `json:"event"`
	Host       string            `json:"host,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards gate audit events to an external collector. Events
// are queued without blocking the request path; a full queue drops them.
type auditWebhook struct {
	url        string
	headerName string
	headerVal  string
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	events     chan webhookEvent
	wg         sync.WaitGroup
}

// newAuditWebhook starts the dispatch loop. authHeader takes the form
// "Name: value" and is ignored when it has no colon.
func newAuditWebhook(url, authHeader string, logger *slog.Logger) *auditWebhook {
	if logger == nil {
		logger = slog.Default()
	}
	w := &auditWebhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "audit_webhook"),
		retryDelay: webhookRetryDelay,
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	if name, val, ok := strings.Cut(authHeader, ":"); ok {
		w.headerName = strings.TrimSpace(name)
		w.headerVal = strings.TrimSpace(val)
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("queue full, dropping event", "event", evt.Event)
	}
}

// close stops accepting events and waits for the queue to drain.
func (w *auditWebhook) close() {
	close(w.events)
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.send(evt)
	}
}

// send delivers one event, retrying once on a transport error or a 5xx.
func (w *auditWebhook) send(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}

	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		status, err := w.post(body)
		switch {
		case err != nil:
			w.logger.Warn("delivery failed", "error", err, "attempt", attempt)
		case status >= 200 && status < 300:
			return
		case status >= 500:
			w.logger.Warn("collector error", "status", status, "attempt", attempt)
		default:
			w.logger.Warn("collector rejected event", "status", status, "event", evt.Event)
			return
		}
	}
}

func (w *auditWebhook) post(body []byte) (int, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	if w.headerName != "" {
		req.Header.Set(w.headerName, w.headerVal)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// webhookEventFrom flattens an audit record into the forwarded payload.
func webhookEventFrom(event AuditEvent, r *http.Request, ts time.Time, attrs []slog.Attr) webhookEvent {
	evt := webhookEvent{
		Event:      string(event),
		Host:       r.Host,
		RemoteAddr: r.RemoteAddr,
		Timestamp:  ts.Format(time.RFC3339),
	}
	if len(attrs) > 0 {
		evt.Attrs = make(map[string]string, len(attrs))
		for _, a := range attrs {
			evt.Attrs[a.Key] = a.Value.String()
		}
	}
	return evt
}
