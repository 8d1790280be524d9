package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditPasswordAccepted     AuditEvent = "password_accepted"
	AuditPasswordRejected     AuditEvent = "password_rejected"
	AuditSubmissionLimited    AuditEvent = "submission_rate_limited"
	AuditSettingsUnavailable  AuditEvent = "settings_unavailable"
	AuditSettingsSaved        AuditEvent = "settings_saved"
	AuditSettingsCleared      AuditEvent = "settings_cleared"
	AuditAdminUnauthorized    AuditEvent = "admin_unauthorized"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. Submitted secrets are never
// passed here.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := time.Now().UTC()
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("host", r.Host),
		slog.String("timestamp", now.Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
	if al.webhook != nil {
		al.webhook.enqueue(webhookEventFrom(event, r, now, attrs))
	}
}

// logFailure logs a failed or refused submission.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
