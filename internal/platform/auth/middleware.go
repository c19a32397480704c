package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aidmate/dispatch/internal/platform/apperr"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	ActorKey  contextKey = "actor"
)

// QueryTokenParam carries the bearer token for WebSocket upgrades, where
// browsers cannot set an Authorization header.
const QueryTokenParam = "access_token"

type Claims struct {
	jwt.RegisteredClaims
	Role  Role   `json:"role"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	// AllowQueryToken accepts ?access_token= when no Authorization header is sent.
	AllowQueryToken bool
	Skipper         func(c echo.Context) bool
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			tokenStr, err := extractToken(c, cfg.AllowQueryToken)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := claims.Actor()
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

func extractToken(c echo.Context, allowQuery bool) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if allowQuery {
			if tok := c.QueryParam(QueryTokenParam); tok != "" {
				return tok, nil
			}
		}
		return "", errors.New("missing authorization header")
	}

	scheme, tok, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tok) == "" {
		return "", errors.New("invalid authorization format")
	}
	return strings.TrimSpace(tok), nil
}

// Actor converts verified claims into the caller identity.
func (c *Claims) Actor() (Actor, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Actor{}, err
	}
	if !c.Role.Valid() {
		return Actor{}, errors.New("unknown role")
	}
	return Actor{ID: id, Role: c.Role, Name: c.Name, Email: c.Email}, nil
}

// WithActor stores the authenticated caller on ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	ctx = context.WithValue(ctx, ActorKey, a)
	return context.WithValue(ctx, UserIDKey, a.ID.String())
}

// ActorFromContext returns the authenticated caller, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ActorKey).(Actor)
	return a, ok
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

// CurrentActor returns the caller of an echo request, or an Unauthenticated
// error when the JWT middleware did not run.
func CurrentActor(c echo.Context) (Actor, error) {
	a, ok := ActorFromContext(c.Request().Context())
	if !ok {
		return Actor{}, apperr.Unauthenticated("authentication required")
	}
	return a, nil
}
