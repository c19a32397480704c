package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const internalMessage = "internal server error"

// Response is the JSON body of every error response.
type Response struct {
	Error string `json:"error"`
}

// HTTPErrorHandler renders every error as {"error": msg}. Internal errors
// are logged with their cause and replaced by a generic message.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, msg := resolve(err)
		if status >= http.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", status).
				Msg("request failed")
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, Response{Error: msg})
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("write error response")
		}
	}
}

func resolve(err error) (int, string) {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.Kind == KindInternal {
			return http.StatusInternalServerError, internalMessage
		}
		return appErr.Kind.Status(), appErr.Msg
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.Code >= http.StatusInternalServerError && httpErr.Code != http.StatusGatewayTimeout &&
			httpErr.Code != http.StatusServiceUnavailable {
			return httpErr.Code, internalMessage
		}
		if m, ok := httpErr.Message.(string); ok {
			return httpErr.Code, m
		}
		if httpErr.Message != nil {
			return httpErr.Code, fmt.Sprint(httpErr.Message)
		}
		return httpErr.Code, http.StatusText(httpErr.Code)
	}

	return http.StatusInternalServerError, internalMessage
}
