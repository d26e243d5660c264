package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"edu-auth-service/internal/event"
	"edu-auth-service/internal/model"
)

type AuditStore interface {
	Insert(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

// AuditService turns auth events from the bus into a durable trail.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Run consumes bus events until ctx is cancelled. Meant to be started as a
// goroutine at application boot.
func (s *AuditService) Run(ctx context.Context, bus event.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.record(e)
		}
	}
}

func (s *AuditService) record(e event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := model.AuditEntry{
		Action:     string(e.Type),
		OccurredAt: e.OccurredAt,
		Actor:      e.Actor,
		Status:     statusFor(e.Type),
		Detail:     e.Detail,
	}

	if err := s.store.Insert(ctx, entry); err != nil {
		slog.Warn("write audit entry", "action", entry.Action, "error", err)
	}
}

func statusFor(t event.Type) string {
	if strings.HasSuffix(string(t), ".failed") {
		return "failure"
	}
	return "success"
}

func (s *AuditService) List(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	return s.store.Query(ctx, query)
}
