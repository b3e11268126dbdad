package httpserver

import (
	"net/http"

	"sqlci/internal/config"
)

type HealthHandler struct {
	Project config.Project
}

type healthResponse struct {
	Status       string `json:"status"`
	Release      string `json:"release"`
	Environments int    `json:"environments"`
}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(h.Project.Environments) == 0 {
		writeError(w, http.StatusServiceUnavailable, "service_unhealthy", "project defines no environments")
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Release:      h.Project.Version,
		Environments: len(h.Project.Environments),
	})
}
