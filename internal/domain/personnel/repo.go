package personnel

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/aidmate/dispatch/internal/platform/auth"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	// List returns users ordered by name. An empty role returns everyone.
	List(ctx context.Context, role auth.Role) ([]*User, error)
	// ListAvailableParamedics returns on-duty paramedics that have reported
	// coordinates.
	ListAvailableParamedics(ctx context.Context) ([]*User, error)
	Count(ctx context.Context) (int, error)
}
