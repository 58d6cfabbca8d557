package service

import (
	"context"
	"errors"
	"strings"
	"time"

	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/common/validation"
	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
	"github.com/AlibekovAA/class-schedule/internal/schedule/repository"
)

// Publisher receives every committed change.
type Publisher interface {
	Publish(event domain.Event)
}

type ScheduleInput struct {
	GroupName   string    `validate:"required,max=100"`
	TeacherName string    `validate:"required,max=100"`
	Subject     string    `validate:"required,max=200"`
	Room        string    `validate:"required,max=50"`
	StartTime   time.Time `validate:"required"`
	EndTime     time.Time `validate:"required,gtfield=StartTime"`
}

// ScheduleUpdate carries a partial update. Nil fields keep their value.
type ScheduleUpdate struct {
	GroupName   *string
	TeacherName *string
	Subject     *string
	Room        *string
	StartTime   *time.Time
	EndTime     *time.Time
}

type ScheduleService struct {
	repo      repository.Repository
	publisher Publisher
	log       *logger.Logger
}

func NewScheduleService(repo repository.Repository, publisher Publisher, log *logger.Logger) *ScheduleService {
	return &ScheduleService{repo: repo, publisher: publisher, log: log}
}

func (s *ScheduleService) List(ctx context.Context, filter domain.Filter) ([]domain.Schedule, error) {
	schedules, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, s.storeError(ctx, "list_schedules_failed", err)
	}
	if schedules == nil {
		schedules = []domain.Schedule{}
	}
	return schedules, nil
}

func (s *ScheduleService) Grouped(ctx context.Context, filter domain.Filter) ([]domain.TimeSlot, error) {
	schedules, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return domain.GroupByTimeSlot(schedules), nil
}

func (s *ScheduleService) Get(ctx context.Context, id int64) (domain.Schedule, error) {
	schedule, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrScheduleNotFound) {
			return domain.Schedule{}, ErrScheduleNotFound
		}
		return domain.Schedule{}, s.storeError(ctx, "get_schedule_failed", err)
	}
	return schedule, nil
}

func (s *ScheduleService) Create(ctx context.Context, input ScheduleInput) (domain.Schedule, error) {
	input = input.trimmed()
	if err := validation.Struct(input); err != nil {
		return domain.Schedule{}, err
	}

	created, err := s.repo.Create(ctx, input.toSchedule())
	if err != nil {
		return domain.Schedule{}, s.storeError(ctx, "create_schedule_failed", err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"schedule_id": created.ID,
		"group":       created.GroupName,
		"action":      "schedule_created",
	}).Info("schedule created")
	s.publish(domain.EventCreated, created)
	return created, nil
}

func (s *ScheduleService) Update(ctx context.Context, id int64, update ScheduleUpdate) (domain.Schedule, error) {
	updated, err := s.repo.Update(ctx, id, func(current *domain.Schedule) error {
		input := update.applyTo(*current).trimmed()
		if err := validation.Struct(input); err != nil {
			return err
		}
		*current = input.toSchedule()
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrScheduleNotFound):
			return domain.Schedule{}, ErrScheduleNotFound
		case errors.Is(err, commonerrors.ErrValidation):
			return domain.Schedule{}, err
		}
		return domain.Schedule{}, s.storeError(ctx, "update_schedule_failed", err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"schedule_id": updated.ID,
		"action":      "schedule_updated",
	}).Info("schedule updated")
	s.publish(domain.EventUpdated, updated)
	return updated, nil
}

func (s *ScheduleService) Delete(ctx context.Context, id int64) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrScheduleNotFound) {
			return ErrScheduleNotFound
		}
		return s.storeError(ctx, "delete_schedule_failed", err)
	}

	s.log.WithFields(ctx, logger.Fields{
		"schedule_id": id,
		"action":      "schedule_deleted",
	}).Info("schedule deleted")
	s.publish(domain.EventDeleted, deleted)
	return nil
}

func (s *ScheduleService) publish(eventType domain.EventType, schedule domain.Schedule) {
	metrics.ScheduleChangesTotal.WithLabelValues(string(eventType)).Inc()
	if s.publisher != nil {
		s.publisher.Publish(domain.Event{Type: eventType, Schedule: schedule})
	}
}

func (s *ScheduleService) storeError(ctx context.Context, action string, err error) error {
	s.log.WithFields(ctx, logger.Fields{
		"action": action,
	}).Errorf("schedule store error: %v", err)
	return commonerrors.ErrStoreUnavailable.WithCause(err)
}

func (in ScheduleInput) trimmed() ScheduleInput {
	in.GroupName = strings.TrimSpace(in.GroupName)
	in.TeacherName = strings.TrimSpace(in.TeacherName)
	in.Subject = strings.TrimSpace(in.Subject)
	in.Room = strings.TrimSpace(in.Room)
	return in
}

func (in ScheduleInput) toSchedule() domain.Schedule {
	return domain.Schedule{
		GroupName:   in.GroupName,
		TeacherName: in.TeacherName,
		Subject:     in.Subject,
		Room:        in.Room,
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
	}
}

func (u ScheduleUpdate) applyTo(s domain.Schedule) ScheduleInput {
	in := ScheduleInput{
		GroupName:   s.GroupName,
		TeacherName: s.TeacherName,
		Subject:     s.Subject,
		Room:        s.Room,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
	if u.GroupName != nil {
		in.GroupName = *u.GroupName
	}
	if u.TeacherName != nil {
		in.TeacherName = *u.TeacherName
	}
	if u.Subject != nil {
		in.Subject = *u.Subject
	}
	if u.Room != nil {
		in.Room = *u.Room
	}
	if u.StartTime != nil {
		in.StartTime = *u.StartTime
	}
	if u.EndTime != nil {
		in.EndTime = *u.EndTime
	}
	return in
}
