package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sqlci/internal/config"
	"sqlci/internal/deploy"
	"sqlci/internal/history"
	"sqlci/internal/status"
)

type EnvironmentHandler struct {
	server *Server
}

type environmentView struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	ResetDatabase bool   `json:"reset_database"`
}

type historyResponse struct {
	Environment string           `json:"environment"`
	Records     []history.Record `json:"records"`
}

type deployResponse struct {
	Result *deploy.Result         `json:"result"`
	Events []status.Notification `json:"events"`
}

func (h *EnvironmentHandler) List(w http.ResponseWriter, r *http.Request) {
	envs := make([]environmentView, 0, len(h.server.project.Environments))
	for _, e := range h.server.project.Environments {
		provider := e.Provider
		if provider == "" {
			provider = "postgres"
		}
		envs = append(envs, environmentView{Name: e.Name, Provider: provider, ResetDatabase: e.ResetDatabase})
	}
	writeJSON(w, http.StatusOK, map[string]any{"environments": envs})
}

func (h *EnvironmentHandler) History(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.configuration(w, r)
	if !ok {
		return
	}
	engine := deploy.New(status.NewPublisher(status.LogSubscriber(h.server.logger)), h.server.logger)
	records, err := engine.History(r.Context(), cfg)
	if err != nil {
		h.server.logger.Error("read history failed", "environment", cfg.Environment, "error", status.Redact(err.Error()))
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, historyResponse{Environment: cfg.Environment, Records: records})
}

func (h *EnvironmentHandler) Deploy(w http.ResponseWriter, r *http.Request) {
	if !h.server.deploying.TryLock() {
		writeError(w, http.StatusConflict, "deployment_in_progress", "another deployment is running")
		return
	}
	defer h.server.deploying.Unlock()

	cfg, ok := h.configuration(w, r)
	if !ok {
		return
	}

	// A dropped client must not abort a deployment halfway through a script
	// list; only the server's own limit applies.
	ctx := context.WithoutCancel(r.Context())
	if h.server.opts.DeployTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.server.opts.DeployTimeout)
		defer cancel()
	}

	var events status.Collector
	pub := status.NewPublisher(status.LogSubscriber(h.server.logger), events.Subscriber())
	engine := deploy.New(pub, h.server.logger)

	result, err := engine.Execute(ctx, cfg)
	w.Header().Set(runIDHeader, result.RunID.String())
	if err != nil {
		writeRunError(w, http.StatusInternalServerError, result, events.Notifications())
		return
	}
	writeJSON(w, http.StatusOK, deployResponse{Result: result, Events: events.Notifications()})
}

// configuration resolves and verifies the {env} route parameter, writing the
// error response itself when that fails.
func (h *EnvironmentHandler) configuration(w http.ResponseWriter, r *http.Request) (config.Configuration, bool) {
	name := chi.URLParam(r, "env")
	cfg, err := h.server.project.Configuration(name)
	if err != nil {
		var notFound *config.EnvironmentNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return config.Configuration{}, false
		}
		writeError(w, http.StatusInternalServerError, "lookup_failed", err.Error())
		return config.Configuration{}, false
	}
	verified, err := cfg.Verify()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_configuration", err.Error())
		return config.Configuration{}, false
	}
	return verified, true
}
