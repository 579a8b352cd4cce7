package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// ErrLoggerClosed is returned by Log after Close
var ErrLoggerClosed = errors.New("audit logger is closed")

// MultiLogger fans every event out to a set of sinks in the background so
// that requests never wait on audit storage. A sink that fails is reported
// on the service log and in the audit event metric; the other sinks still
// receive the event.
type MultiLogger struct {
	sinks   []Logger
	logger  *observability.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewMultiLogger creates a logger that writes to every sink
func NewMultiLogger(logger *observability.Logger, sinks ...Logger) *MultiLogger {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &MultiLogger{
		sinks:  sinks,
		logger: logger.WithField("component", "audit"),
	}
}

// SetMetrics enables audit metrics
func (m *MultiLogger) SetMetrics(metrics *observability.Metrics) {
	m.metrics = metrics
}

// Log hands event to every sink and returns without waiting for them
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrLoggerClosed
	}
	if len(m.sinks) == 0 {
		return nil
	}

	// The request context is cancelled once the response is written
	ctx = context.WithoutCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.write(ctx, event)
	}()
	return nil
}

func (m *MultiLogger) write(ctx context.Context, event *AuditEvent) {
	var failed error
	for _, sink := range m.sinks {
		if err := sink.Log(ctx, event); err != nil {
			failed = err
			m.logger.WithError(err).
				WithField("sink", fmt.Sprintf("%T", sink)).
				WithField("event_type", string(event.EventType)).
				WithField("request_id", event.RequestID).
				Error("audit sink write failed")
		}
	}

	if m.metrics != nil {
		m.metrics.RecordAuditEvent(string(event.EventType), failed)
	}
}

// Close waits for pending writes and closes every sink. Later calls to Log
// return ErrLoggerClosed.
func (m *MultiLogger) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()

	var firstErr error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close audit sink: %w", err)
		}
	}
	return firstErr
}
