package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertRejectedSpike AlertType = "rejected_password_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks a sliding window of rejected submissions across
// all clients, catching guessing spread over many addresses that the per-IP
// limiter does not see.
type metricsCollector struct {
	mu sync.Mutex

	rejections        []time.Time
	rejectedWindow    time.Duration
	rejectedThreshold int

	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultRejectedWindow    = 1 * time.Minute
	defaultRejectedThreshold = 50
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		rejectedWindow:    defaultRejectedWindow,
		rejectedThreshold: defaultRejectedThreshold,
		alertFn:           alertFn,
		now:               time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	if event == AuditPasswordRejected {
		m.recordRejection()
	}
}

func (m *metricsCollector) recordRejection() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.rejections = append(m.rejections, now)
	m.rejections = trimWindow(m.rejections, now, m.rejectedWindow)

	if len(m.rejections) >= m.rejectedThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertRejectedSpike,
			Message:   "rejected password rate exceeds threshold",
			Count:     len(m.rejections),
			Threshold: m.rejectedThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.rejections = m.rejections[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
