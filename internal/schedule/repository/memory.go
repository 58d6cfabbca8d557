package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
)

// MemoryRepository keeps schedules in process. It backs STORE_BACKEND=memory
// and tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[int64]domain.Schedule
	nextID int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[int64]domain.Schedule)}
}

func (r *MemoryRepository) Create(_ context.Context, s domain.Schedule) (domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	s.ID = r.nextID
	r.byID[s.ID] = s
	return s, nil
}

func (r *MemoryRepository) Update(_ context.Context, id int64, apply func(*domain.Schedule) error) (domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok {
		return domain.Schedule{}, ErrScheduleNotFound
	}
	if err := apply(&current); err != nil {
		return domain.Schedule{}, err
	}
	current.ID = id
	r.byID[id] = current
	return current, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) (domain.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return domain.Schedule{}, ErrScheduleNotFound
	}
	delete(r.byID, id)
	return s, nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id int64) (domain.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return domain.Schedule{}, ErrScheduleNotFound
	}
	return s, nil
}

func (r *MemoryRepository) List(_ context.Context, filter domain.Filter) ([]domain.Schedule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Schedule
	for _, s := range r.byID {
		if filter.Matches(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
