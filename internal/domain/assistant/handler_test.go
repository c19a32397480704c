package assistant

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aidmate/dispatch/internal/platform/apperr"
)

func newTestHandler(gen Generator) (*Handler, *echo.Echo) {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	return NewHandler(NewService(gen, zerolog.Nop())), e
}

func postChat(e *echo.Echo, h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.Chat(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestHandler_Chat(t *testing.T) {
	h, e := newTestHandler(&stubGenerator{text: "Stay calm.\nPredictions:\n- Okay."})
	rec := postChat(e, h, `{"query":"panic attack"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"response":"Stay calm.","predictions":["Okay."]}`, rec.Body.String())
}

func TestHandler_Chat_EmptyQuery(t *testing.T) {
	h, e := newTestHandler(&stubGenerator{})
	rec := postChat(e, h, `{"query":""}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"Please provide a valid question or description"}`, rec.Body.String())
}

func TestHandler_Chat_NotConfigured(t *testing.T) {
	h, e := newTestHandler(NewGeminiClient(GeminiConfig{}))
	rec := postChat(e, h, `{"query":"choking"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
