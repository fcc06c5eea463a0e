package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// HTTPStatus maps an error kind to its transport status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindLocked:
		return http.StatusLocked
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorBody is the wire envelope for failures.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorHandler returns an echo HTTPErrorHandler that maps typed errors to
// stable codes. AuthRequired responses always carry an identical body so
// remote callers cannot distinguish a missing token from an expired or
// revoked one; internal errors never leak detail.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := errorDetail{Kind: KindInternal.String(), Message: "internal error"}

		var appErr *Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			status = HTTPStatus(appErr.Kind)
			detail.Kind = appErr.Kind.String()
			switch appErr.Kind {
			case KindAuthRequired:
				detail.Message = "authentication required"
			case KindInternal:
				detail.Message = "internal error"
			default:
				detail.Message = appErr.Message
			}
		case errors.As(err, &httpErr):
			status = httpErr.Code
			detail.Kind = kindForStatus(httpErr.Code).String()
			if msg, ok := httpErr.Message.(string); ok {
				detail.Message = msg
			}
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("path", c.Request().URL.Path).
				Str("method", c.Request().Method).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, errorBody{Error: detail})
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized:
		return KindAuthRequired
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusConflict:
		return KindConflict
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusLocked:
		return KindLocked
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindInternal
	}
}
