package http

import "net/http"

// NotFoundHandler is the fallback route, serving a JSON 404.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "resource not found")
	})
}
