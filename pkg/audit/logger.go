package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NoOpLogger discards every event
type NoOpLogger struct{}

func (NoOpLogger) Log(context.Context, *AuditEvent) error { return nil }

func (NoOpLogger) Close() error { return nil }

// NewEvent creates an event populated with the actor and request details
// found in ctx and r. r may be nil for events outside a request.
func NewEvent(ctx context.Context, r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}

	if authCtx, ok := ctx.Value(contextkeys.AuthKey).(*auth.AuthContext); ok {
		if event.UserID == "" {
			event.UserID = authCtx.UserID()
		}
		event.RoleID = authCtx.RoleID()
	}

	if r != nil {
		event.IPAddress = getClientIP(r)
		event.UserAgent = r.UserAgent()
		event.Method = r.Method
		event.Path = r.URL.Path
	}

	return event
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// LogLogger writes audit events to the structured application log. It is
// the default sink when no audit database is configured.
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates an audit logger backed by logger
func NewLogLogger(logger *observability.Logger) *LogLogger {
	return &LogLogger{logger: logger.WithField("audit", true)}
}

// Log writes the event as one log line
func (l *LogLogger) Log(_ context.Context, event *AuditEvent) error {
	entry := l.logger.WithFields(map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
		"user_id":    event.UserID,
		"role_id":    event.RoleID,
		"request_id": event.RequestID,
	})
	if event.ResourceType != "" {
		entry = entry.WithField("resource_type", string(event.ResourceType)).
			WithField("resource_id", event.ResourceID)
	}
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}
	entry.Info(event.Message)
	return nil
}

// Close is a no-op
func (l *LogLogger) Close() error {
	return nil
}
