package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the protocol action being logged.
type AuditEvent string

const (
	EventInit             AuditEvent = "init"
	EventLinkRedirect     AuditEvent = "link_redirect"
	EventLinkRejected     AuditEvent = "link_rejected"
	EventReferrerMismatch AuditEvent = "referrer_mismatch"
	EventSessionRejected  AuditEvent = "session_rejected"
	EventDwellRejected    AuditEvent = "dwell_rejected"
	EventRateLimited      AuditEvent = "rate_limited"
	EventVerifyFailed     AuditEvent = "verify_failed"
	EventValidateSuccess  AuditEvent = "validate_success"
	EventCredentialError  AuditEvent = "credential_error"
	EventIdleTimeout      AuditEvent = "idle_timeout"
)

// auditLogger wraps slog.Logger for structured protocol event logging.
type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "gate"),
	}
}

// log writes a structured audit entry. r may be nil for events not tied to
// a request (e.g. the idle timeout firing).
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if r != nil {
		baseAttrs = append(baseAttrs, slog.String("remote_addr", r.RemoteAddr))
	}
	baseAttrs = append(baseAttrs, attrs...)

	ctx := contextOf(r)
	al.logger.LogAttrs(ctx, slog.LevelInfo, "gate", baseAttrs...)
}
