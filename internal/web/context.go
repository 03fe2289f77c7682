package web

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	viewerHeader = "X-Viewer-ID"
	viewerCookie = "viewer_id"
)

// viewerID identifies the caller for per-viewer view state. The header wins
// over the cookie; a caller with neither gets a fresh id set as a cookie.
func viewerID(w http.ResponseWriter, r *http.Request) string {
	if id, ok := parseViewerID(r.Header.Get(viewerHeader)); ok {
		return id
	}
	if c, err := r.Cookie(viewerCookie); err == nil {
		if id, ok := parseViewerID(c.Value); ok {
			return id
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     viewerCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.Header().Set(viewerHeader, id)
	return id
}

func parseViewerID(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
