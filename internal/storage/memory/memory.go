package memory

import (
	"time"

	"github.com/carelink/agent-portal/internal/storage"
)

// MemoryStorage is the in-memory implementation of storage.Store.
type MemoryStorage struct {
	reports       *ReportsMemoryStorage
	schedules     *SchedulesMemoryStorage
	templates     *TemplatesMemoryStorage
	exports       *ExportsMemoryStorage
	audit         *AuditMemoryStorage
	notifications *NotificationsMemoryStorage
	directory     *DirectoryMemoryStorage
}

// New creates an empty MemoryStorage.
func New() *MemoryStorage {
	return &MemoryStorage{
		reports:       NewReportsMemoryStorage(),
		schedules:     NewSchedulesMemoryStorage(),
		templates:     NewTemplatesMemoryStorage(),
		exports:       NewExportsMemoryStorage(),
		audit:         NewAuditMemoryStorage(),
		notifications: NewNotificationsMemoryStorage(),
		directory:     NewDirectoryMemoryStorage(),
	}
}

func (m *MemoryStorage) GetReportsStorage() storage.ReportsStorage { return m.reports }

func (m *MemoryStorage) GetSchedulesStorage() storage.SchedulesStorage { return m.schedules }

func (m *MemoryStorage) GetTemplatesStorage() storage.TemplatesStorage { return m.templates }

func (m *MemoryStorage) GetExportsStorage() storage.ExportsStorage { return m.exports }

func (m *MemoryStorage) GetAuditStorage() storage.AuditStorage { return m.audit }

func (m *MemoryStorage) GetNotificationsStorage() storage.NotificationsStorage {
	return m.notifications
}

func (m *MemoryStorage) GetDataStore() storage.DataStore { return m.directory }

// Directory exposes the seedable collaborator data.
func (m *MemoryStorage) Directory() *DirectoryMemoryStorage { return m.directory }

func (m *MemoryStorage) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
