package repository

import (
	"context"
	"errors"

	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
)

var ErrScheduleNotFound = errors.New("schedule not found")

type Repository interface {
	Create(ctx context.Context, schedule domain.Schedule) (domain.Schedule, error)
	// Update loads the schedule, lets apply modify it and stores the result
	// atomically. An error from apply aborts the update and is returned as is.
	Update(ctx context.Context, id int64, apply func(*domain.Schedule) error) (domain.Schedule, error)
	// Delete returns the removed row.
	Delete(ctx context.Context, id int64) (domain.Schedule, error)
	FindByID(ctx context.Context, id int64) (domain.Schedule, error)
	// List returns matching schedules ordered by start time.
	List(ctx context.Context, filter domain.Filter) ([]domain.Schedule, error)
}
