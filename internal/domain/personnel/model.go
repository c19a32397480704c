package personnel

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aidmate/dispatch/internal/platform/auth"
	"github.com/aidmate/dispatch/pkg/geo"
)

// User maps to the users table. Directors and paramedics share it; the
// profile columns are only meaningful for paramedics.
type User struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	Name             string          `db:"name" json:"name"`
	Email            string          `db:"email" json:"email"`
	PasswordHash     string          `db:"password_hash" json:"-"`
	Role             auth.Role       `db:"role" json:"role"`
	Availability     bool            `db:"is_available" json:"availability"`
	Location         *string         `db:"location" json:"location,omitempty"`
	Latitude         *float64        `db:"latitude" json:"latitude,omitempty"`
	Longitude        *float64        `db:"longitude" json:"longitude,omitempty"`
	PushSubscription json.RawMessage `db:"push_subscription" json:"-"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

func (u *User) IsParamedic() bool { return u.Role == auth.RoleParamedic }

// Coordinates returns the user's last reported position, if both halves
// are present.
func (u *User) Coordinates() (geo.Point, bool) {
	if u.Latitude == nil || u.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *u.Latitude, Lng: *u.Longitude}, true
}

func (u *User) HasPushSubscription() bool {
	return len(u.PushSubscription) > 0 && string(u.PushSubscription) != "null"
}

func (u *User) Actor() auth.Actor {
	return auth.Actor{ID: u.ID, Role: u.Role, Name: u.Name, Email: u.Email}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateUserRequest carries a director's edits. Empty fields are left as is.
type UpdateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AvailabilityRequest struct {
	Availability *bool `json:"availability"`
}

type LocationRequest struct {
	Location  string   `json:"location"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}
