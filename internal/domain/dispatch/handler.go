package dispatch

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/aidmate/dispatch/internal/platform/apperr"
	"github.com/aidmate/dispatch/internal/platform/auth"
	"github.com/aidmate/dispatch/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	cases := api.Group("/cases")
	cases.GET("", h.ListCases)
	cases.GET("/:id", h.GetCase)
	cases.PATCH("/:id/status", h.UpdateStatus)
	cases.POST("/:id/treatment", h.AddNote)
	cases.POST("/:id/complete", h.CompleteCase)

	// Director-only case management
	director := api.Group("/cases", auth.RequireRole(auth.RoleDirector))
	director.POST("", h.CreateCase)
	director.GET("/stats", h.Stats)
	director.GET("/export", h.Export)
	director.POST("/:id/assign", h.AssignCase)

	paramedic := api.Group("/paramedic", auth.RequireRole(auth.RoleParamedic))
	paramedic.GET("/cases", h.ActiveCases)
	paramedic.GET("/history", h.History)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid case id")
	}
	return id, nil
}

func (h *Handler) CreateCase(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	var req CreateCaseRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	created, err := h.svc.CreateCase(c.Request().Context(), actor, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"case": created})
}

type caseList struct {
	Cases []*Case `json:"cases"`
	pagination.Meta
}

func (h *Handler) ListCases(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	cases, total, err := h.svc.ListCases(c.Request().Context(), actor, pg)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, caseList{Cases: cases, Meta: pg.Meta(total)})
}

func (h *Handler) GetCase(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.GetCase(c.Request().Context(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"case": detail})
}

func (h *Handler) AssignCase(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req AssignRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if strings.TrimSpace(req.ParamedicID) == "" {
		return apperr.Validation("paramedicId is required")
	}
	paramedicID, err := uuid.Parse(strings.TrimSpace(req.ParamedicID))
	if err != nil {
		return apperr.Validation("invalid paramedicId")
	}

	res, err := h.svc.AssignCase(c.Request().Context(), actor, id, paramedicID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req StatusRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	updated, err := h.svc.UpdateStatus(c.Request().Context(), actor, id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"case": updated})
}

func (h *Handler) AddNote(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req NoteRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	note, err := h.svc.AddNote(c.Request().Context(), actor, id, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"treatmentNote": note})
}

func (h *Handler) CompleteCase(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req ReportRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	res, err := h.svc.CompleteCase(c.Request().Context(), actor, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Stats(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Stats(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Export(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	data, err := h.svc.ExportCases(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	filename := "cases-" + h.svc.now().UTC().Format("20060102") + ".xlsx"
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+filename)
	return c.Blob(http.StatusOK, XLSXMimeType, data)
}

func (h *Handler) ActiveCases(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	cases, err := h.svc.ActiveCases(c.Request().Context(), actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"cases": cases})
}

func (h *Handler) History(c echo.Context) error {
	actor, err := auth.CurrentActor(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.History(c.Request().Context(), actor, HistoryFilter{
		Status: c.QueryParam("status"),
		Period: c.QueryParam("period"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"cases": entries})
}
