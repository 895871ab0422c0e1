package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carelink/agent-portal/internal/apperr"
	"github.com/carelink/agent-portal/internal/storage"
)

// DirectoryMemoryStorage holds the booking platform's records in memory.
// Tests and local runs fill it through the Seed* methods.
type DirectoryMemoryStorage struct {
	mu           sync.RWMutex
	appointments []storage.Appointment
	payments     []storage.Payment
	doctors      map[string]storage.Doctor
	hospitals    map[string]storage.Hospital
	users        map[string]storage.User
}

func NewDirectoryMemoryStorage() *DirectoryMemoryStorage {
	return &DirectoryMemoryStorage{
		doctors:   make(map[string]storage.Doctor),
		hospitals: make(map[string]storage.Hospital),
		users:     make(map[string]storage.User),
	}
}

func (s *DirectoryMemoryStorage) SeedAppointments(items ...storage.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appointments = append(s.appointments, items...)
}

func (s *DirectoryMemoryStorage) SeedPayments(items ...storage.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = append(s.payments, items...)
}

func (s *DirectoryMemoryStorage) SeedDoctors(items ...storage.Doctor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range items {
		s.doctors[d.ID] = d
	}
}

func (s *DirectoryMemoryStorage) SeedHospitals(items ...storage.Hospital) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range items {
		s.hospitals[h.ID] = h
	}
}

func (s *DirectoryMemoryStorage) SeedUsers(items ...storage.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range items {
		s.users[u.ID] = u
	}
}

func (s *DirectoryMemoryStorage) ListAppointments(ctx context.Context, q storage.AppointmentQuery) ([]storage.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.Appointment{}
	for _, a := range s.appointments {
		if !inRange(a.ScheduledAt, q.From, q.To) {
			continue
		}
		if !matchAny(q.AgentIDs, a.AgentID) || !matchAny(q.DoctorIDs, a.DoctorID) ||
			!matchAny(q.HospitalIDs, a.HospitalID) || !matchAny(q.Statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, q.Limit, q.Offset), nil
}

func (s *DirectoryMemoryStorage) ListPayments(ctx context.Context, q storage.PaymentQuery) ([]storage.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.Payment{}
	for _, p := range s.payments {
		if !inRange(p.CreatedAt, q.From, q.To) {
			continue
		}
		if !matchAny(q.AgentIDs, p.AgentID) || !matchAny(q.DoctorIDs, p.DoctorID) ||
			!matchAny(q.HospitalIDs, p.HospitalID) || !matchAny(q.Statuses, p.Status) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, q.Limit, q.Offset), nil
}

func (s *DirectoryMemoryStorage) ListDoctors(ctx context.Context, q storage.DirectoryQuery) ([]storage.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.Doctor{}
	for _, d := range s.doctors {
		if !matchAny(q.IDs, d.ID) {
			continue
		}
		if q.HospitalID != "" && d.HospitalID != q.HospitalID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, q.Limit, q.Offset), nil
}

func (s *DirectoryMemoryStorage) ListHospitals(ctx context.Context, q storage.DirectoryQuery) ([]storage.Hospital, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []storage.Hospital{}
	for _, h := range s.hospitals {
		if !matchAny(q.IDs, h.ID) {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, q.Limit, q.Offset), nil
}

func (s *DirectoryMemoryStorage) GetUser(ctx context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return &u, nil
}

func (s *DirectoryMemoryStorage) MissingIDs(ctx context.Context, kind storage.EntityKind, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, id := range ids {
		var ok bool
		switch kind {
		case storage.EntityAgent:
			var u storage.User
			u, ok = s.users[id]
			ok = ok && u.Role == "agent"
		case storage.EntityDoctor:
			_, ok = s.doctors[id]
		case storage.EntityHospital:
			_, ok = s.hospitals[id]
		default:
			return nil, apperr.Newf(apperr.KindValidation, "unknown entity kind %q", kind)
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// inRange reports whether t lies in [from, to). Zero bounds are open.
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func matchAny(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
