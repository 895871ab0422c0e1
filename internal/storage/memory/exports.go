package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
	"github.com/google/uuid"
)

type ExportsMemoryStorage struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*storage.ExportJob
}

func NewExportsMemoryStorage() *ExportsMemoryStorage {
	return &ExportsMemoryStorage{
		jobs: make(map[uuid.UUID]*storage.ExportJob),
	}
}

func (s *ExportsMemoryStorage) CreateExportJob(ctx context.Context, job *storage.ExportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = storage.ExportProcessing
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	clone := cloneExportJob(job)
	s.jobs[job.ID] = &clone
	return nil
}

func (s *ExportsMemoryStorage) GetExportJob(ctx context.Context, id uuid.UUID) (*storage.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperr.NotFound("export job")
	}
	clone := cloneExportJob(job)
	return &clone, nil
}

func (s *ExportsMemoryStorage) ListExportJobs(ctx context.Context, requestedBy string, limit, offset int) ([]storage.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []storage.ExportJob
	for _, job := range s.jobs {
		if requestedBy != "" && job.RequestedBy != requestedBy {
			continue
		}
		clone := cloneExportJob(job)
		clone.Data = nil
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, limit, offset), nil
}

func (s *ExportsMemoryStorage) FinishExportJob(ctx context.Context, id uuid.UUID, to storage.ExportStatus, patch storage.ExportPatch) (*storage.ExportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperr.NotFound("export job")
	}
	if err := storage.CheckExportTransition(job.Status, to); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = to
	job.CompletedAt = &now
	job.UpdatedAt = now
	if patch.FileName != "" {
		job.FileName = patch.FileName
	}
	if patch.FilePath != nil {
		v := *patch.FilePath
		job.FilePath = &v
	}
	job.FileSize = patch.FileSize
	if patch.ContentType != "" {
		job.ContentType = patch.ContentType
	}
	job.TotalRecords = patch.TotalRecords
	if patch.ErrorMessage != nil {
		v := *patch.ErrorMessage
		job.ErrorMessage = &v
	}
	if patch.Data != nil {
		job.Data = append([]byte(nil), patch.Data...)
	}

	clone := cloneExportJob(job)
	return &clone, nil
}

func cloneExportJob(job *storage.ExportJob) storage.ExportJob {
	c := *job
	c.Columns = append([]string(nil), job.Columns...)
	c.EmailRecipients = append([]string(nil), job.EmailRecipients...)
	if job.Filters != nil {
		c.Filters = make(map[string]string, len(job.Filters))
		for k, v := range job.Filters {
			c.Filters[k] = v
		}
	}
	if job.FilePath != nil {
		v := *job.FilePath
		c.FilePath = &v
	}
	if job.ErrorMessage != nil {
		v := *job.ErrorMessage
		c.ErrorMessage = &v
	}
	c.CompletedAt = copyTime(job.CompletedAt)
	if job.Data != nil {
		c.Data = append([]byte(nil), job.Data...)
	}
	return c
}
