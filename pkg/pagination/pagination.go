package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds the page window requested by a client.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads ?limit= and ?offset= from the request, clamping both.
func FromContext(c echo.Context) Params {
	return Parse(c.QueryParam("limit"), c.QueryParam("offset"))
}

// Parse builds Params from raw query values. Invalid values fall back to
// defaults rather than failing the request.
func Parse(rawLimit, rawOffset string) Params {
	limit, err := strconv.Atoi(rawLimit)
	if err != nil || limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, err := strconv.Atoi(rawOffset)
	if err != nil || offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// Meta is embedded in list responses next to the resource slice.
type Meta struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// Meta returns the response metadata for a page of a result set of size total.
func (p Params) Meta(total int) Meta {
	return Meta{
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}
