package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

type AuditMemoryStorage struct {
	mu      sync.RWMutex
	entries []storage.AuditEntry
}

func NewAuditMemoryStorage() *AuditMemoryStorage {
	return &AuditMemoryStorage{}
}

func (s *AuditMemoryStorage) AppendAudit(ctx context.Context, entry *storage.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	c := *entry
	c.Details = append(json.RawMessage(nil), entry.Details...)
	s.entries = append(s.entries, c)
	return nil
}

// ListAudit returns matching entries newest first.
func (s *AuditMemoryStorage) ListAudit(ctx context.Context, f storage.AuditFilter) ([]storage.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.AuditEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if f.EntityType != "" && e.EntityType != f.EntityType {
			continue
		}
		if f.EntityID != "" && e.EntityID != f.EntityID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		e.Details = append(json.RawMessage(nil), e.Details...)
		out = append(out, e)
	}
	return paginate(out, f.Limit, f.Offset), nil
}
