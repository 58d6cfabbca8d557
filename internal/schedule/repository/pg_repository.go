package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	pgx "github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	"github.com/AlibekovAA/class-schedule/internal/common/db"
	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
)

const scheduleColumns = `id, group_name, teacher_name, subject, room, start_time, end_time`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) Create(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`INSERT INTO schedules (group_name, teacher_name, subject, room, start_time, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+scheduleColumns,
		s.GroupName, s.TeacherName, s.Subject, s.Room, s.StartTime, s.EndTime,
	)
	created, err := scanSchedule(row)
	if err := db.HandleQueryError(err, nil, "create schedule", start); err != nil {
		return domain.Schedule{}, err
	}
	return created, nil
}

func (r *PgRepository) Update(ctx context.Context, id int64, apply func(*domain.Schedule) error) (domain.Schedule, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	var updated domain.Schedule
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		start := time.Now()
		current, err := scanSchedule(tx.QueryRow(
			ctx,
			`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1 FOR UPDATE`,
			id,
		))
		if err := db.HandleQueryError(err, ErrScheduleNotFound, "lock schedule", start); err != nil {
			return err
		}

		if err := apply(&current); err != nil {
			return err
		}

		start = time.Now()
		updated, err = scanSchedule(tx.QueryRow(
			ctx,
			`UPDATE schedules
			 SET group_name = $2, teacher_name = $3, subject = $4, room = $5,
			     start_time = $6, end_time = $7, updated_at = NOW()
			 WHERE id = $1
			 RETURNING `+scheduleColumns,
			id, current.GroupName, current.TeacherName, current.Subject, current.Room,
			current.StartTime, current.EndTime,
		))
		return db.HandleQueryError(err, ErrScheduleNotFound, "update schedule", start)
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	return updated, nil
}

func (r *PgRepository) Delete(ctx context.Context, id int64) (domain.Schedule, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	deleted, err := scanSchedule(r.pool.QueryRow(
		ctx,
		`DELETE FROM schedules WHERE id = $1 RETURNING `+scheduleColumns,
		id,
	))
	if err := db.HandleQueryError(err, ErrScheduleNotFound, "delete schedule", start); err != nil {
		return domain.Schedule{}, err
	}
	return deleted, nil
}

func (r *PgRepository) FindByID(ctx context.Context, id int64) (domain.Schedule, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	s, err := scanSchedule(r.pool.QueryRow(
		ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`,
		id,
	))
	if err := db.HandleQueryError(err, ErrScheduleNotFound, "find schedule by id", start); err != nil {
		return domain.Schedule{}, err
	}
	return s, nil
}

func (r *PgRepository) List(ctx context.Context, filter domain.Filter) ([]domain.Schedule, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	where, args := buildWhere(filter)

	start := time.Now()
	rows, err := r.pool.Query(
		ctx,
		`SELECT `+scheduleColumns+` FROM schedules`+where+` ORDER BY start_time, id`,
		args...,
	)
	if err != nil {
		return nil, db.HandleQueryError(err, nil, "list schedules", start)
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, db.HandleQueryError(err, nil, "scan schedule", start)
		}
		schedules = append(schedules, s)
	}
	if err := db.HandleQueryError(rows.Err(), nil, "list schedules", start); err != nil {
		return nil, err
	}
	return schedules, nil
}

func buildWhere(filter domain.Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.Group != "" {
		add("group_name = $%d", filter.Group)
	}
	if filter.Teacher != "" {
		add("teacher_name = $%d", filter.Teacher)
	}
	if !filter.From.IsZero() {
		add("start_time >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("end_time <= $%d", filter.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanSchedule(row pgx.Row) (domain.Schedule, error) {
	var s domain.Schedule
	err := row.Scan(&s.ID, &s.GroupName, &s.TeacherName, &s.Subject, &s.Room, &s.StartTime, &s.EndTime)
	return s, err
}

var _ Repository = (*PgRepository)(nil)
