package pagination

import (
	"net/http"
	"strconv"
)

// DefaultLimit is the default number of items per page
const DefaultLimit = 20

// MaxLimit is the maximum allowed items per page
const MaxLimit = 100

// Params represents limit/offset pagination parameters
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Page represents one page of results with a cursor to the next page.
// NextOffset is nil when there are no further results.
type Page[T any] struct {
	Results    []T  `json:"results"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	Total      int  `json:"total"`
	NextOffset *int `json:"next_offset,omitempty"`
}

// ParseParams extracts limit/offset parameters from an HTTP request,
// clamping the limit to [1, MaxLimit].
func ParseParams(r *http.Request) Params {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// NewPage builds a page response and computes the next-offset cursor
// from the total result count.
func NewPage[T any](results []T, params Params, total int) Page[T] {
	page := Page[T]{
		Results: results,
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
	}

	if next := params.Offset + len(results); next < total {
		page.NextOffset = &next
	}

	return page
}
