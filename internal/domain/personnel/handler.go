package personnel

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aidmate/dispatch/internal/platform/apperr"
	"github.com/aidmate/dispatch/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/auth/login", h.Login)
	api.GET("/auth/me", h.Me)

	// Directors manage accounts
	users := api.Group("/users", auth.RequireRole(auth.RoleDirector))
	users.POST("", h.CreateUser)
	users.GET("", h.ListUsers)
	users.GET("/:id", h.GetUser)
	users.PATCH("/:id", h.UpdateUser)

	// Paramedics manage their own profile
	profile := api.Group("/paramedic", auth.RequireRole(auth.RoleParamedic))
	profile.PATCH("/availability", h.SetAvailability)
	profile.PATCH("/location", h.UpdateLocation)
	profile.POST("/notifications/subscribe", h.Subscribe)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	res, err := h.svc.Login(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Me(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Me(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": u})
}

func (h *Handler) CreateUser(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req CreateUserRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	u, err := h.svc.RegisterParamedic(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"user": u})
}

func (h *Handler) ListUsers(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	users, err := h.svc.ListUsers(c.Request().Context(), actor, c.QueryParam("role"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) GetUser(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetUser(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": u})
}

func (h *Handler) UpdateUser(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateUserRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	u, err := h.svc.UpdateUser(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": u})
}

func (h *Handler) SetAvailability(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req AvailabilityRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.Availability == nil {
		return apperr.Validation("availability is required")
	}
	u, err := h.svc.SetAvailability(c.Request().Context(), actor, *req.Availability)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": u})
}

func (h *Handler) UpdateLocation(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req LocationRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	u, err := h.svc.UpdateLocation(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"user": u})
}

// Subscribe stores the request body verbatim as the push subscription.
func (h *Handler) Subscribe(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.SubscribePush(c.Request().Context(), actor, json.RawMessage(body)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true})
}
