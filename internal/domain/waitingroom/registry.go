package waitingroom

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ClinicCheck reports whether a clinic exists.
type ClinicCheck func(ctx context.Context, clinicID string) (bool, error)

// Registry hands out one Manager per clinic. Clinics never share a lock; the
// registry lock only guards the map itself.
type Registry struct {
	mu         sync.Mutex
	store      Store
	thresholds Thresholds
	exists     ClinicCheck
	managers   map[string]*Manager
}

func NewRegistry(store Store, th Thresholds) *Registry {
	return &Registry{
		store:      store,
		thresholds: th,
		managers:   make(map[string]*Manager),
	}
}

// WithClinicCheck makes Manager refuse clinics for which check reports false.
func (r *Registry) WithClinicCheck(check ClinicCheck) *Registry {
	r.exists = check
	return r
}

// AllowClinics is a ClinicCheck over a fixed list of clinic ids.
func AllowClinics(ids ...string) ClinicCheck {
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	return func(_ context.Context, clinicID string) (bool, error) {
		_, ok := allowed[clinicID]
		return ok, nil
	}
}

// Manager returns the clinic's manager, restoring its queue from the store on
// first use. Only managers whose restore succeeded are kept, so a failed
// restore is retried on the next call.
func (r *Registry) Manager(ctx context.Context, clinicID string) (*Manager, error) {
	if m, ok := r.Loaded(clinicID); ok {
		return m, nil
	}
	if r.exists != nil {
		ok, err := r.exists(ctx, clinicID)
		if err != nil {
			return nil, fmt.Errorf("look up clinic %s: %w", clinicID, err)
		}
		if !ok {
			return nil, ErrUnknownClinic
		}
	}

	m := NewManager(clinicID, r.store, r.thresholds)
	if err := m.Rehydrate(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// A concurrent first call may have won; its manager is the one in use.
	if existing, ok := r.managers[clinicID]; ok {
		return existing, nil
	}
	r.managers[clinicID] = m
	return m, nil
}

// Clinics lists the clinics that currently have a manager.
func (r *Registry) Clinics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.managers))
	for id := range r.managers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Loaded returns the clinic's manager without creating or restoring it.
func (r *Registry) Loaded(clinicID string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[clinicID]
	return m, ok
}
