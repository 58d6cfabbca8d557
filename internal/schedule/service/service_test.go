package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "github.com/AlibekovAA/class-schedule/internal/common/errors"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/common/validation"
	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
	"github.com/AlibekovAA/class-schedule/internal/schedule/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type failingRepo struct {
	repository.Repository
}

func (failingRepo) List(context.Context, domain.Filter) ([]domain.Schedule, error) {
	return nil, errors.New("connection refused")
}

func newTestService() (*ScheduleService, *recordingPublisher) {
	pub := &recordingPublisher{}
	log := logger.NewWithWriter(io.Discard, "schedule-test", "critical")
	return NewScheduleService(repository.NewMemoryRepository(), pub, log), pub
}

func validInput() ScheduleInput {
	return ScheduleInput{
		GroupName:   " CS-101 ",
		TeacherName: "Ivanova",
		Subject:     "Algorithms",
		Room:        "A-12",
		StartTime:   time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC),
		EndTime:     time.Date(2024, 9, 2, 10, 30, 0, 0, time.UTC),
	}
}

func TestScheduleService_CreateGetDelete(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService()

	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	assert.Equal(t, "CS-101", created.GroupName)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), ErrScheduleNotFound)

	require.Len(t, pub.events, 2)
	assert.Equal(t, domain.EventCreated, pub.events[0].Type)
	assert.Equal(t, domain.EventDeleted, pub.events[1].Type)
	assert.Equal(t, created.ID, pub.events[1].Schedule.ID)
}

func TestScheduleService_CreateValidation(t *testing.T) {
	svc, pub := newTestService()

	input := validInput()
	input.EndTime = input.StartTime
	input.Room = ""

	_, err := svc.Create(context.Background(), input)
	require.ErrorIs(t, err, commonerrors.ErrValidation)
	details := validation.Details(err)
	assert.Contains(t, details, "endTime")
	assert.Contains(t, details, "room")
	assert.Empty(t, pub.events)
}

func TestScheduleService_PartialUpdate(t *testing.T) {
	ctx := context.Background()
	svc, pub := newTestService()
	created, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	room := "B-7"
	updated, err := svc.Update(ctx, created.ID, ScheduleUpdate{Room: &room})
	require.NoError(t, err)
	assert.Equal(t, "B-7", updated.Room)
	assert.Equal(t, created.Subject, updated.Subject)

	badEnd := created.StartTime.Add(-time.Hour)
	_, err = svc.Update(ctx, created.ID, ScheduleUpdate{EndTime: &badEnd})
	assert.ErrorIs(t, err, commonerrors.ErrValidation)

	_, err = svc.Update(ctx, 999, ScheduleUpdate{Room: &room})
	assert.ErrorIs(t, err, ErrScheduleNotFound)

	assert.Len(t, pub.events, 2)
}

func TestScheduleService_Grouped(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	first := validInput()
	second := validInput()
	second.GroupName = "CS-100"
	second.StartTime = second.StartTime.AddDate(0, 0, 1)
	second.EndTime = second.EndTime.AddDate(0, 0, 1)
	for _, in := range []ScheduleInput{first, second} {
		_, err := svc.Create(ctx, in)
		require.NoError(t, err)
	}

	slots, err := svc.Grouped(ctx, domain.Filter{})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "09:00-10:30", slots[0].TimeSlot)
	assert.Equal(t, "CS-100", slots[0].Schedules[0].GroupName)
}

func TestScheduleService_ListEmptyIsNotNil(t *testing.T) {
	svc, _ := newTestService()
	schedules, err := svc.List(context.Background(), domain.Filter{Group: "none"})
	require.NoError(t, err)
	assert.NotNil(t, schedules)
}

func TestScheduleService_StoreFailure(t *testing.T) {
	log := logger.NewWithWriter(io.Discard, "schedule-test", "critical")
	svc := NewScheduleService(failingRepo{}, nil, log)

	_, err := svc.List(context.Background(), domain.Filter{})
	assert.ErrorIs(t, err, commonerrors.ErrStoreUnavailable)
}
