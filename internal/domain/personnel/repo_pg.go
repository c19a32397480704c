package personnel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aidmate/dispatch/internal/platform/auth"
	"github.com/aidmate/dispatch/internal/platform/db"
)

type userRepoPG struct{ pool *pgxpool.Pool }

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

const userCols = `id, name, email, password_hash, role, is_available,
	location, latitude, longitude, push_subscription, created_at, updated_at`

func (r *userRepoPG) scanRow(row pgx.Row) (*User, error) {
	var u User
	var sub []byte
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.Availability,
		&u.Location, &u.Latitude, &u.Longitude, &sub, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.PushSubscription = sub
	return &u, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, is_available,
			location, latitude, longitude, push_subscription)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb)
		RETURNING created_at, updated_at`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Role, u.Availability,
		u.Location, u.Latitude, u.Longitude, nullableJSON(u.PushSubscription),
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func (r *userRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.scanRow(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.scanRow(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email))
}

func (r *userRepoPG) Update(ctx context.Context, u *User) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE users SET name = $2, email = $3, password_hash = $4, is_available = $5,
			location = $6, latitude = $7, longitude = $8, push_subscription = $9::jsonb,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.Availability,
		u.Location, u.Latitude, u.Longitude, nullableJSON(u.PushSubscription),
	).Scan(&u.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrDuplicateEmail
	}
	return err
}

func (r *userRepoPG) List(ctx context.Context, role auth.Role) ([]*User, error) {
	query := `SELECT ` + userCols + ` FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role = $1`
		args = append(args, role)
	}
	query += ` ORDER BY name`
	return r.queryUsers(ctx, query, args...)
}

func (r *userRepoPG) ListAvailableParamedics(ctx context.Context) ([]*User, error) {
	return r.queryUsers(ctx, `SELECT `+userCols+` FROM users
		WHERE role = $1 AND is_available AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY name`, auth.RoleParamedic)
}

func (r *userRepoPG) queryUsers(ctx context.Context, query string, args ...any) ([]*User, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *userRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}
