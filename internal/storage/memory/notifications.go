package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

type NotificationsMemoryStorage struct {
	mu            sync.RWMutex
	notifications map[uuid.UUID]*storage.Notification // id -> notification
	byUser        map[string][]uuid.UUID              // user_id -> notification ids
}

func NewNotificationsMemoryStorage() *NotificationsMemoryStorage {
	return &NotificationsMemoryStorage{
		notifications: make(map[uuid.UUID]*storage.Notification),
		byUser:        make(map[string][]uuid.UUID),
	}
}

func (s *NotificationsMemoryStorage) CreateNotification(ctx context.Context, n *storage.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	c := *n
	c.Data = append(json.RawMessage(nil), n.Data...)
	c.ReadAt = copyTime(n.ReadAt)

	s.notifications[n.ID] = &c
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n.ID)
	return nil
}

func (s *NotificationsMemoryStorage) ListNotifications(ctx context.Context, userID string, onlyUnread bool, limit, offset int) ([]storage.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.Notification{}
	for _, id := range s.byUser[userID] {
		n := s.notifications[id]
		if onlyUnread && n.ReadAt != nil {
			continue
		}
		c := *n
		c.ReadAt = copyTime(n.ReadAt)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}

func (s *NotificationsMemoryStorage) UnreadCount(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, id := range s.byUser[userID] {
		if s.notifications[id].ReadAt == nil {
			count++
		}
	}
	return count, nil
}

// MarkRead marks the given ids read. Ids owned by other users are ignored.
func (s *NotificationsMemoryStorage) MarkRead(ctx context.Context, userID string, ids []uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	updated := 0
	for _, id := range ids {
		n, ok := s.notifications[id]
		if !ok || n.UserID != userID || n.ReadAt != nil {
			continue
		}
		n.ReadAt = &now
		updated++
	}
	return updated, nil
}

func (s *NotificationsMemoryStorage) MarkAllRead(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	updated := 0
	for _, id := range s.byUser[userID] {
		n := s.notifications[id]
		if n.ReadAt == nil {
			n.ReadAt = &now
			updated++
		}
	}
	return updated, nil
}
