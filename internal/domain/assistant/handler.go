package assistant

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/aidmate/dispatch/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the chat endpoint. It is public.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/assistant/chat", h.Chat)
}

func (h *Handler) Chat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("Please provide a valid question or description")
	}
	res, err := h.svc.Chat(c.Request().Context(), req.Query)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}
