package personnel

import (
	"context"
	"encoding/json"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/aidmate/dispatch/internal/platform/apperr"
	"github.com/aidmate/dispatch/internal/platform/auth"
)

const minPasswordLength = 6

// SeedUser is an account created by Seed on an empty database.
type SeedUser struct {
	Name     string
	Email    string
	Password string
	Role     auth.Role
}

// DefaultSeedUsers are the demo accounts created on first start.
var DefaultSeedUsers = []SeedUser{
	{Name: "Dr. Sarah Smith", Email: "director@aidmate.com", Password: "director123", Role: auth.RoleDirector},
	{Name: "John Doe", Email: "paramedic@aidmate.com", Password: "paramedic123", Role: auth.RoleParamedic},
}

type Service struct {
	users    UserRepository
	tokens   *auth.TokenIssuer
	logger   zerolog.Logger
	hashCost int
}

func NewService(users UserRepository, tokens *auth.TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		logger:   logger.With().Str("component", "personnel").Logger(),
		hashCost: bcrypt.DefaultCost,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return "", apperr.Internal("hash password", err)
	}
	return string(h), nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("user %s not found", id)
		}
		return nil, apperr.Internal("load user", err)
	}
	return u, nil
}

func (s *Service) save(ctx context.Context, u *User) error {
	if err := s.users.Update(ctx, u); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return apperr.NotFound("user %s not found", u.ID)
		case errors.Is(err, ErrDuplicateEmail):
			return apperr.Conflict("email %s is already registered", u.Email)
		}
		return apperr.Internal("update user", err)
	}
	return nil
}

// Login verifies the credentials and issues a session token. Unknown emails
// and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.Unauthenticated("invalid credentials")
		}
		return nil, apperr.Internal("load user by email", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperr.Unauthenticated("invalid credentials")
	}

	token, exp, err := s.tokens.Issue(u.Actor())
	if err != nil {
		return nil, apperr.Internal("issue token", err)
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", string(u.Role)).Msg("user logged in")
	return &LoginResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// Me returns the caller's own record.
func (s *Service) Me(ctx context.Context, actor auth.Actor) (*User, error) {
	return s.load(ctx, actor.ID)
}

// RegisterParamedic creates a paramedic account on behalf of a director.
func (s *Service) RegisterParamedic(ctx context.Context, actor auth.Actor, req CreateUserRequest) (*User, error) {
	if err := auth.Authorize(actor, auth.ActionManageUsers, auth.Resource{}); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	email := normalizeEmail(req.Email)
	switch {
	case name == "":
		return nil, apperr.Validation("name is required")
	case !validEmail(email):
		return nil, apperr.Validation("a valid email is required")
	case len(req.Password) < minPasswordLength:
		return nil, apperr.Validation("password must be at least %d characters", minPasswordLength)
	}

	hash, err := s.hash(req.Password)
	if err != nil {
		return nil, err
	}
	u := &User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleParamedic,
		Availability: true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, apperr.Conflict("email %s is already registered", email)
		}
		return nil, apperr.Internal("create user", err)
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("created_by", actor.ID.String()).Msg("paramedic registered")
	return u, nil
}

// ListUsers returns users, optionally restricted to one role.
func (s *Service) ListUsers(ctx context.Context, actor auth.Actor, role string) ([]*User, error) {
	if err := auth.Authorize(actor, auth.ActionManageUsers, auth.Resource{}); err != nil {
		return nil, err
	}
	r := auth.Role(strings.ToUpper(strings.TrimSpace(role)))
	if r != "" && !r.Valid() {
		return nil, apperr.Validation("unknown role %q", role)
	}
	users, err := s.users.List(ctx, r)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	if users == nil {
		users = []*User{}
	}
	return users, nil
}

func (s *Service) GetUser(ctx context.Context, actor auth.Actor, id uuid.UUID) (*User, error) {
	if err := auth.Authorize(actor, auth.ActionManageUsers, auth.Resource{}); err != nil {
		return nil, err
	}
	return s.load(ctx, id)
}

// UpdateUser applies a director's edits to name, email and password.
func (s *Service) UpdateUser(ctx context.Context, actor auth.Actor, id uuid.UUID, req UpdateUserRequest) (*User, error) {
	if err := auth.Authorize(actor, auth.ActionManageUsers, auth.Resource{}); err != nil {
		return nil, err
	}
	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		u.Name = name
	}
	if req.Email != "" {
		email := normalizeEmail(req.Email)
		if !validEmail(email) {
			return nil, apperr.Validation("a valid email is required")
		}
		u.Email = email
	}
	if req.Password != "" {
		if len(req.Password) < minPasswordLength {
			return nil, apperr.Validation("password must be at least %d characters", minPasswordLength)
		}
		hash, err := s.hash(req.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
	}

	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SetAvailability toggles whether the calling paramedic is on duty.
func (s *Service) SetAvailability(ctx context.Context, actor auth.Actor, available bool) (*User, error) {
	if err := auth.Authorize(actor, auth.ActionUpdateProfile, auth.Resource{OwnerID: actor.ID}); err != nil {
		return nil, err
	}
	u, err := s.load(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	u.Availability = available
	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateLocation records the calling paramedic's position. The label and
// both coordinates are required together.
func (s *Service) UpdateLocation(ctx context.Context, actor auth.Actor, req LocationRequest) (*User, error) {
	if err := auth.Authorize(actor, auth.ActionUpdateProfile, auth.Resource{OwnerID: actor.ID}); err != nil {
		return nil, err
	}
	location := strings.TrimSpace(req.Location)
	if location == "" || req.Latitude == nil || req.Longitude == nil {
		return nil, apperr.Validation("location, latitude and longitude are required")
	}
	if *req.Latitude < -90 || *req.Latitude > 90 || *req.Longitude < -180 || *req.Longitude > 180 {
		return nil, apperr.Validation("coordinates are out of range")
	}

	u, err := s.load(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	lat, lng := *req.Latitude, *req.Longitude
	u.Location = &location
	u.Latitude = &lat
	u.Longitude = &lng
	if err := s.save(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// SubscribePush stores the browser push subscription of the calling
// paramedic. The subscription is opaque; it only has to be a JSON object.
func (s *Service) SubscribePush(ctx context.Context, actor auth.Actor, subscription json.RawMessage) error {
	if err := auth.Authorize(actor, auth.ActionUpdateProfile, auth.Resource{OwnerID: actor.ID}); err != nil {
		return err
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(subscription, &obj); err != nil || len(obj) == 0 {
		return apperr.Validation("subscription must be a non-empty JSON object")
	}

	u, err := s.load(ctx, actor.ID)
	if err != nil {
		return err
	}
	u.PushSubscription = subscription
	return s.save(ctx, u)
}

// GetParamedic resolves an assignment target. Users that exist but are not
// paramedics are rejected as a validation failure.
func (s *Service) GetParamedic(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("paramedic %s not found", id)
		}
		return nil, apperr.Internal("load paramedic", err)
	}
	if !u.IsParamedic() {
		return nil, apperr.Validation("user %s is not a paramedic", id)
	}
	return u, nil
}

// AvailableParamedics returns on-duty paramedics with known coordinates.
func (s *Service) AvailableParamedics(ctx context.Context) ([]*User, error) {
	users, err := s.users.ListAvailableParamedics(ctx)
	if err != nil {
		return nil, apperr.Internal("list available paramedics", err)
	}
	return users, nil
}

// Seed creates the given accounts when the users table is empty. It reports
// whether anything was created.
func (s *Service) Seed(ctx context.Context, accounts []SeedUser) (bool, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return false, apperr.Internal("count users", err)
	}
	if n > 0 {
		s.logger.Info().Int("users", n).Msg("database already has users, skipping seed")
		return false, nil
	}

	for _, a := range accounts {
		hash, err := s.hash(a.Password)
		if err != nil {
			return false, err
		}
		u := &User{
			Name:         a.Name,
			Email:        normalizeEmail(a.Email),
			PasswordHash: hash,
			Role:         a.Role,
			Availability: true,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return false, apperr.Internal("create seed user", err)
		}
		s.logger.Info().Str("email", u.Email).Str("role", string(u.Role)).Msg("seeded user")
	}
	return true, nil
}
