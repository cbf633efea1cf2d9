package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/learnhub/auth/pkg/logger"
)

// Audit fan-out is an external collaborator. This service only queues events
// and hands them to a sink; step-up authentication never blocks on it and
// keeps working when the sink is degraded.

type AuditEntry struct {
	AccountID    *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
	RequestID    string
	CreatedAt    time.Time
}

type AuditSink interface {
	Emit(ctx context.Context, entry AuditEntry) error
}

type AuditService struct {
	sink  AuditSink
	queue chan AuditEntry
}

func NewAuditService(sink AuditSink) *AuditService {
	if sink == nil {
		sink = logSink{}
	}
	s := &AuditService{
		sink:  sink,
		queue: make(chan AuditEntry, 1000),
	}
	go s.processQueue()
	return s
}

// LogAsync enqueues without blocking; events are dropped with a warning when
// the queue is full rather than stalling an authentication request.
func (s *AuditService) LogAsync(entry AuditEntry) {
	entry.CreatedAt = time.Now().UTC()

	select {
	case s.queue <- entry:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	for entry := range s.queue {
		if err := s.sink.Emit(context.Background(), entry); err != nil {
			logger.Error("audit_emit_failed", err, map[string]interface{}{
				"action": entry.Action,
			})
		}
	}
}

// logSink is the default sink: structured log lines the platform's collector
// picks up.
type logSink struct{}

func (logSink) Emit(_ context.Context, entry AuditEntry) error {
	details := map[string]interface{}{
		"resource_type": entry.ResourceType,
		"ip":            entry.IPAddress,
		"request_id":    entry.RequestID,
	}
	if entry.ResourceID != nil {
		details["resource_id"] = entry.ResourceID.String()
	}
	for k, v := range entry.Details {
		details[k] = v
	}

	if entry.AccountID != nil {
		logger.InfoWithAccount(entry.AccountID.String(), "audit."+entry.Action, details)
	} else {
		logger.Info("audit."+entry.Action, details)
	}
	return nil
}
