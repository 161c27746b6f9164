package appointment

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo keeps appointments in process memory. It backs STORE=memory and
// the demo seed; everything it hands out is a copy.
type MemoryRepo struct {
	mu    sync.RWMutex
	appts map[uuid.UUID]*Appointment
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{appts: make(map[uuid.UUID]*Appointment), now: time.Now}
}

func (m *MemoryRepo) Create(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.VersionID = 1
	a.CreatedAt = m.now()
	a.UpdatedAt = a.CreatedAt
	m.appts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryRepo) Update(_ context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appts[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.VersionID != a.VersionID {
		return ErrVersionConflict
	}
	a.VersionID++
	a.UpdatedAt = m.now()
	m.appts[a.ID] = a.Clone()
	return nil
}

func (m *MemoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.appts, id)
	return nil
}

func (m *MemoryRepo) Search(_ context.Context, clinicID string, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	m.mu.RLock()
	var matched []*Appointment
	for _, a := range m.appts {
		if a.ClinicID != clinicID {
			continue
		}
		if s, ok := params["status"]; ok && string(a.Status) != s {
			continue
		}
		if d, ok := params["date"]; ok && a.ScheduledTime.Format("2006-01-02") != d {
			continue
		}
		if p, ok := params["professional"]; ok && !strings.Contains(strings.ToLower(a.ProfessionalName), strings.ToLower(p)) {
			continue
		}
		matched = append(matched, a.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ScheduledTime.Equal(matched[j].ScheduledTime) {
			return matched[i].ScheduledTime.Before(matched[j].ScheduledTime)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *MemoryRepo) ListWaiting(_ context.Context, clinicID string) ([]*Appointment, error) {
	m.mu.RLock()
	var items []*Appointment
	for _, a := range m.appts {
		if a.ClinicID == clinicID && a.Status == StatusWaiting && a.ArrivedAt != nil {
			items = append(items, a.Clone())
		}
	}
	m.mu.RUnlock()
	sort.Slice(items, func(i, j int) bool { return items[i].ArrivedAt.Before(*items[j].ArrivedAt) })
	return items, nil
}
