package personnel

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aidmate/dispatch/internal/platform/apperr"
	"github.com/aidmate/dispatch/internal/platform/auth"
)

// -- Mock User Repository --

type mockUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
	fail  error
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockUserRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockUserRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return ErrNotFound
	}
	for id, existing := range m.users {
		if id != u.ID && existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	u.UpdatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockUserRepo) List(_ context.Context, role auth.Role) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockUserRepo) ListAvailableParamedics(_ context.Context) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*User
	for _, u := range m.users {
		if _, ok := u.Coordinates(); ok && u.IsParamedic() && u.Availability {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockUserRepo) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	return len(m.users), nil
}

var testKey = []byte("personnel-test-signing-key")

func newTestService() (*Service, *mockUserRepo) {
	repo := newMockUserRepo()
	svc := NewService(repo, auth.NewTokenIssuer(testKey, "aidmate", "", time.Hour), zerolog.Nop())
	svc.hashCost = bcrypt.MinCost
	return svc, repo
}

func addUser(t *testing.T, svc *Service, repo *mockUserRepo, name, email, password string, role auth.Role) *User {
	t.Helper()
	hash, err := svc.hash(password)
	require.NoError(t, err)
	u := &User{Name: name, Email: email, PasswordHash: hash, Role: role, Availability: true}
	require.NoError(t, repo.Create(context.Background(), u))
	return u
}

func directorActor() auth.Actor {
	return auth.Actor{ID: uuid.New(), Role: auth.RoleDirector, Name: "Dr. Sarah Smith"}
}

func ptr[T any](v T) *T { return &v }

// -- Login --

func TestService_Login(t *testing.T) {
	svc, repo := newTestService()
	u := addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	res, err := svc.Login(context.Background(), LoginRequest{Email: " Paramedic@AidMate.com ", Password: "paramedic123"})
	require.NoError(t, err)
	require.Equal(t, u.ID, res.User.ID)
	require.NotEmpty(t, res.Token)

	claims := &auth.Claims{}
	_, err = jwt.ParseWithClaims(res.Token, claims, func(*jwt.Token) (interface{}, error) { return testKey, nil })
	require.NoError(t, err)
	require.Equal(t, u.ID.String(), claims.Subject)
	require.Equal(t, auth.RoleParamedic, claims.Role)
}

func TestService_Login_WrongPassword(t *testing.T) {
	svc, repo := newTestService()
	addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	_, err := svc.Login(context.Background(), LoginRequest{Email: "paramedic@aidmate.com", Password: "wrong"})
	require.True(t, apperr.Is(err, apperr.KindUnauthenticated), "got %v", err)
}

func TestService_Login_UnknownEmail(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Login(context.Background(), LoginRequest{Email: "nobody@aidmate.com", Password: "x"})
	require.True(t, apperr.Is(err, apperr.KindUnauthenticated), "got %v", err)
}

func TestService_Login_MissingFields(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.com"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

// -- Registration and edits --

func TestService_RegisterParamedic(t *testing.T) {
	svc, _ := newTestService()
	u, err := svc.RegisterParamedic(context.Background(), directorActor(), CreateUserRequest{
		Name: "Jane Roe", Email: "JANE@aidmate.com", Password: "secret1",
	})
	require.NoError(t, err)
	require.Equal(t, auth.RoleParamedic, u.Role)
	require.Equal(t, "jane@aidmate.com", u.Email)
	require.True(t, u.Availability)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")))
}

func TestService_RegisterParamedic_Validation(t *testing.T) {
	svc, _ := newTestService()
	cases := []CreateUserRequest{
		{Email: "a@b.com", Password: "secret1"},
		{Name: "A", Email: "not-an-email", Password: "secret1"},
		{Name: "A", Email: "a@b.com", Password: "123"},
	}
	for _, req := range cases {
		_, err := svc.RegisterParamedic(context.Background(), directorActor(), req)
		require.True(t, apperr.Is(err, apperr.KindValidation), "req %+v: got %v", req, err)
	}
}

func TestService_RegisterParamedic_DuplicateEmail(t *testing.T) {
	svc, repo := newTestService()
	addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	_, err := svc.RegisterParamedic(context.Background(), directorActor(), CreateUserRequest{
		Name: "Other", Email: "paramedic@aidmate.com", Password: "secret1",
	})
	require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
}

func TestService_RegisterParamedic_ParamedicDenied(t *testing.T) {
	svc, _ := newTestService()
	actor := auth.Actor{ID: uuid.New(), Role: auth.RoleParamedic}
	_, err := svc.RegisterParamedic(context.Background(), actor, CreateUserRequest{
		Name: "X", Email: "x@aidmate.com", Password: "secret1",
	})
	require.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestService_ListUsers_FilterByRole(t *testing.T) {
	svc, repo := newTestService()
	addUser(t, svc, repo, "Dr. Sarah Smith", "director@aidmate.com", "director123", auth.RoleDirector)
	addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	users, err := svc.ListUsers(context.Background(), directorActor(), "paramedic")
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "John Doe", users[0].Name)

	all, err := svc.ListUsers(context.Background(), directorActor(), "")
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = svc.ListUsers(context.Background(), directorActor(), "nurse")
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestService_UpdateUser_RehashesPassword(t *testing.T) {
	svc, repo := newTestService()
	u := addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	updated, err := svc.UpdateUser(context.Background(), directorActor(), u.ID, UpdateUserRequest{
		Name: "John Q. Doe", Password: "newpass1",
	})
	require.NoError(t, err)
	require.Equal(t, "John Q. Doe", updated.Name)
	require.Equal(t, "paramedic@aidmate.com", updated.Email)

	_, err = svc.Login(context.Background(), LoginRequest{Email: "paramedic@aidmate.com", Password: "newpass1"})
	require.NoError(t, err)
}

func TestService_UpdateUser_NotFound(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.UpdateUser(context.Background(), directorActor(), uuid.New(), UpdateUserRequest{Name: "X"})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestService_UpdateUser_EmailTaken(t *testing.T) {
	svc, repo := newTestService()
	addUser(t, svc, repo, "Dr. Sarah Smith", "director@aidmate.com", "director123", auth.RoleDirector)
	u := addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	_, err := svc.UpdateUser(context.Background(), directorActor(), u.ID, UpdateUserRequest{Email: "director@aidmate.com"})
	require.True(t, apperr.Is(err, apperr.KindConflict))
}

// -- Paramedic profile --

func TestService_SetAvailability(t *testing.T) {
	svc, repo := newTestService()
	u := addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	updated, err := svc.SetAvailability(context.Background(), u.Actor(), false)
	require.NoError(t, err)
	require.False(t, updated.Availability)

	stored, _ := repo.GetByID(context.Background(), u.ID)
	require.False(t, stored.Availability)
}

func TestService_SetAvailability_DirectorDenied(t *testing.T) {
	svc, _ := newTestService()
	_, err := svc.SetAvailability(context.Background(), directorActor(), true)
	require.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestService_UpdateLocation(t *testing.T) {
	svc, repo := newTestService()
	u := addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	updated, err := svc.UpdateLocation(context.Background(), u.Actor(), LocationRequest{
		Location: "Bole Road", Latitude: ptr(9.01), Longitude: ptr(38.76),
	})
	require.NoError(t, err)
	p, ok := updated.Coordinates()
	require.True(t, ok)
	require.InDelta(t, 9.01, p.Lat, 1e-9)
	require.Equal(t, "Bole Road", *updated.Location)
}

func TestService_UpdateLocation_RequiresAllFields(t *testing.T) {
	svc, repo := newTestService()
	u := addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	reqs := []LocationRequest{
		{Latitude: ptr(9.0), Longitude: ptr(38.7)},
		{Location: "x", Latitude: ptr(9.0)},
		{Location: "x", Latitude: ptr(91.0), Longitude: ptr(0.0)},
	}
	for _, req := range reqs {
		_, err := svc.UpdateLocation(context.Background(), u.Actor(), req)
		require.True(t, apperr.Is(err, apperr.KindValidation), "req %+v: got %v", req, err)
	}
}

func TestService_SubscribePush(t *testing.T) {
	svc, repo := newTestService()
	u := addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	sub := json.RawMessage(`{"endpoint":"https://push.example/abc","keys":{"p256dh":"k","auth":"a"}}`)
	require.NoError(t, svc.SubscribePush(context.Background(), u.Actor(), sub))

	stored, _ := repo.GetByID(context.Background(), u.ID)
	require.True(t, stored.HasPushSubscription())
	require.JSONEq(t, string(sub), string(stored.PushSubscription))

	err := svc.SubscribePush(context.Background(), u.Actor(), json.RawMessage(`"nope"`))
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

// -- Assignment support --

func TestService_GetParamedic(t *testing.T) {
	svc, repo := newTestService()
	d := addUser(t, svc, repo, "Dr. Sarah Smith", "director@aidmate.com", "director123", auth.RoleDirector)
	p := addUser(t, svc, repo, "John Doe", "paramedic@aidmate.com", "paramedic123", auth.RoleParamedic)

	got, err := svc.GetParamedic(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, p.ID, got.ID)

	_, err = svc.GetParamedic(context.Background(), d.ID)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.GetParamedic(context.Background(), uuid.New())
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestService_GetParamedic_RepoFailure(t *testing.T) {
	svc, repo := newTestService()
	repo.fail = fmt.Errorf("connection refused")
	_, err := svc.GetParamedic(context.Background(), uuid.New())
	require.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

// -- Seed --

func TestService_Seed(t *testing.T) {
	svc, repo := newTestService()

	created, err := svc.Seed(context.Background(), DefaultSeedUsers)
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, repo.users, 2)

	res, err := svc.Login(context.Background(), LoginRequest{Email: "director@aidmate.com", Password: "director123"})
	require.NoError(t, err)
	require.Equal(t, auth.RoleDirector, res.User.Role)
	require.Equal(t, "Dr. Sarah Smith", res.User.Name)

	created, err = svc.Seed(context.Background(), DefaultSeedUsers)
	require.NoError(t, err)
	require.False(t, created)
	require.Len(t, repo.users, 2)
}
