// Package observability provides audit logging helpers for the admission module.
package observability

import (
	"context"
	"log/slog"

	"imgconvert/pkg/attrs"
	"imgconvert/pkg/platform/audit"
	"imgconvert/pkg/requestcontext"
)

// AuditPublisher emits audit events. *publisher.Publisher satisfies it.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs an audit event and forwards it to the publisher when one is set.
// Subject and reason are lifted from attrList; everything else is kept as
// string attributes on the event.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event string, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)

	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	if logger != nil {
		args := append(attrList, "event", event, "log_type", "audit")
		logger.InfoContext(ctx, event, args...)
	}

	if publisher == nil {
		return
	}

	err := publisher.Emit(ctx, audit.Event{
		Action:     event,
		Subject:    extractSubject(attrList),
		RequestID:  requestID,
		Reason:     attrs.ExtractString(attrList, "reason"),
		Attributes: attrs.ToMap(attrList, "client_id", "reason", "request_id"),
	})
	if err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event, "error", err)
	}
}

func extractSubject(attrList []any) string {
	for _, key := range []string{"client_id", "ip_prefix"} {
		if val := attrs.ExtractString(attrList, key); val != "" {
			return val
		}
	}
	return ""
}
