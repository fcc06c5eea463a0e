package middleware

import (
	"crypto/rand"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
)

// RequestIDHeader is echoed back to the client on every response.
const RequestIDHeader = "X-Request-Id"

// RequestID assigns a ulid to each request, stores it under
// "request_id" for downstream middleware and echoes it in the
// response headers. Client-supplied IDs are ignored.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
			c.Set("request_id", id)
			c.Response().Header().Set(RequestIDHeader, id)
			return next(c)
		}
	}
}
