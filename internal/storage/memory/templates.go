package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

type TemplatesMemoryStorage struct {
	mu        sync.RWMutex
	templates map[uuid.UUID]*storage.Template
}

func NewTemplatesMemoryStorage() *TemplatesMemoryStorage {
	return &TemplatesMemoryStorage{
		templates: make(map[uuid.UUID]*storage.Template),
	}
}

func (s *TemplatesMemoryStorage) CreateTemplate(ctx context.Context, t *storage.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	clone, err := cloneTemplate(t)
	if err != nil {
		return err
	}
	s.templates[t.ID] = clone
	return nil
}

func (s *TemplatesMemoryStorage) GetTemplate(ctx context.Context, id uuid.UUID) (*storage.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.templates[id]
	if !ok {
		return nil, apperr.NotFound("template")
	}
	return cloneTemplate(t)
}

func (s *TemplatesMemoryStorage) UpdateTemplate(ctx context.Context, t *storage.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.templates[t.ID]
	if !ok {
		return apperr.NotFound("template")
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	clone, err := cloneTemplate(t)
	if err != nil {
		return err
	}
	s.templates[t.ID] = clone
	return nil
}

func (s *TemplatesMemoryStorage) ListTemplates(ctx context.Context, f storage.TemplateFilter) ([]storage.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(f.Search))
	out := []storage.Template{}
	for _, t := range s.templates {
		if !f.IncludeInactive && !t.IsActive {
			continue
		}
		if f.ReportType != "" && t.ReportType != f.ReportType {
			continue
		}
		if f.Category != "" && t.Category != f.Category {
			continue
		}
		if f.Tag != "" && !containsString(t.Metadata.Tags, f.Tag) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(t.Name), search) &&
			!strings.Contains(strings.ToLower(t.Description), search) {
			continue
		}
		clone, err := cloneTemplate(t)
		if err != nil {
			return nil, err
		}
		out = append(out, *clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// cloneTemplate deep-copies the free-form maps through JSON.
func cloneTemplate(t *storage.Template) (*storage.Template, error) {
	c := *t
	c.DeletedAt = copyTime(t.DeletedAt)

	raw, err := json.Marshal(struct {
		Layout      storage.TemplateLayout      `json:"layout"`
		Structure   storage.TemplateStructure   `json:"structure"`
		Styling     map[string]any              `json:"styling"`
		Permissions storage.TemplatePermissions `json:"permissions"`
		Metadata    storage.TemplateMetadata    `json:"metadata"`
	}{t.Layout, t.Structure, t.Styling, t.Permissions, t.Metadata})
	if err != nil {
		return nil, err
	}

	var doc struct {
		Layout      storage.TemplateLayout      `json:"layout"`
		Structure   storage.TemplateStructure   `json:"structure"`
		Styling     map[string]any              `json:"styling"`
		Permissions storage.TemplatePermissions `json:"permissions"`
		Metadata    storage.TemplateMetadata    `json:"metadata"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	c.Layout = doc.Layout
	c.Structure = doc.Structure
	c.Styling = doc.Styling
	c.Permissions = doc.Permissions
	c.Metadata = doc.Metadata
	return &c, nil
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
