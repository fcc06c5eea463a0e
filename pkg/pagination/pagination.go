// Package pagination extracts page/limit query parameters and shapes
// paginated list responses.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Page  int
	Limit int
}

// FromContext reads page and limit query parameters. Out-of-range
// values are clamped rather than rejected.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	return Params{Page: page, Limit: limit}
}

// Offset converts the page number to a row offset.
func (p Params) Offset() int {
	return (p.Page - 1) * p.Limit
}

// TotalPages returns the page count for a result set.
func (p Params) TotalPages(total int) int {
	if total <= 0 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}

// HasNext reports whether there are results past the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset()+p.Limit < total
}
