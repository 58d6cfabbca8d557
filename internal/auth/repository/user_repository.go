package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/AlibekovAA/class-schedule/internal/auth/domain"
	"github.com/AlibekovAA/class-schedule/internal/common/constants"
	"github.com/AlibekovAA/class-schedule/internal/common/db"
)

type PgUserRepository struct {
	pool *pgxpool.Pool
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	_, err := r.pool.Exec(
		ctx,
		`INSERT INTO users (id, email, password_hash, is_admin, created_at) VALUES ($1, $2, $3, $4, $5)`,
		string(user.ID),
		user.Email,
		user.PasswordHash,
		user.IsAdmin,
		user.CreatedAt,
	)
	if db.IsUniqueViolation(err) {
		db.MeasureQueryDuration("create user", start)
		return ErrEmailAlreadyExists
	}
	return db.HandleExecError(err, "create user", start)
}

func (r *PgUserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.findOne(ctx, "find user by email", `WHERE email = $1`, email)
}

func (r *PgUserRepository) FindByID(ctx context.Context, id domain.UserID) (domain.User, error) {
	return r.findOne(ctx, "find user by id", `WHERE id = $1`, string(id))
}

func (r *PgUserRepository) findOne(ctx context.Context, operation, where string, arg interface{}) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.DBQueryTimeout)
	defer cancel()

	start := time.Now()
	row := r.pool.QueryRow(
		ctx,
		`SELECT id, email, password_hash, is_admin, created_at FROM users `+where,
		arg,
	)

	var (
		user domain.User
		id   string
	)
	err := row.Scan(&id, &user.Email, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt)
	if err := db.HandleQueryError(err, ErrUserNotFound, operation, start); err != nil {
		return domain.User{}, err
	}
	user.ID = domain.UserID(id)
	return user, nil
}

var _ UserRepository = (*PgUserRepository)(nil)
