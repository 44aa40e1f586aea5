// Package handler contains the HTTP handlers of the sharegate API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/sharegate/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// writeJSON marshals v and writes it with the given status code. A marshal
// failure falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parsePageOpts extracts page/page_size query parameters. Pages are 1-based;
// defaults: page=1, page_size=50 (max 200).
func parsePageOpts(r *http.Request) (page int, opts domain.ListOpts) {
	q := r.URL.Query()

	page = 1
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}

	size := defaultPageSize
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	return page, domain.ListOpts{
		Limit:  size,
		Offset: (page - 1) * size,
	}
}

// pathParam extracts a named path parameter via http.Request.PathValue.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
