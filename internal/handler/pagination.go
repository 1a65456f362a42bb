package handler

import (
	"net/http"
	"strconv"
)

// Page is a limit/offset window over a newest-first listing.
type Page struct {
	Limit  int
	Offset int
}

// parsePage reads ?limit and ?offset. A missing or non-positive limit falls back
// to defaultLimit; anything above maxLimit is capped.
func parsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	q := r.URL.Query()

	limit, err := strconv.Atoi(q.Get("limit"))
	switch {
	case err != nil || limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}

	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}

	return Page{Limit: limit, Offset: offset}
}
