package http

import (
	"encoding/json"
	"net/http"
)

// HealthHandler reports basic liveness for the payments service.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "payments",
	})
}
