package httpserver

import (
	"encoding/json"
	"net/http"

	"sqlci/internal/deploy"
	"sqlci/internal/status"
)

// runIDHeader carries the deployment run id so request logs can be joined
// with the engine's own log lines.
const runIDHeader = "X-Sqlci-Run-Id"

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RunID   string `json:"run_id,omitempty"`
	State   string `json:"state,omitempty"`
}

type errorBody struct {
	Error  apiError              `json:"error"`
	Result *deploy.Result        `json:"result,omitempty"`
	Events []status.Notification `json:"events,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends the error envelope. Messages may echo connection strings,
// so they are redacted the same way status notifications are.
func writeError(w http.ResponseWriter, code int, errCode, message string) {
	writeJSON(w, code, errorBody{Error: apiError{Code: errCode, Message: status.Redact(message)}})
}

// writeRunError reports a deployment that started and then failed. The
// envelope names the run and the state it stopped in, and keeps the
// notifications published up to the failure.
func writeRunError(w http.ResponseWriter, code int, result *deploy.Result, events []status.Notification) {
	body := errorBody{
		Error: apiError{
			Code:    "deployment_failed",
			Message: status.Redact(result.Error),
			RunID:   result.RunID.String(),
			State:   string(result.State),
		},
		Result: result,
		Events: events,
	}
	writeJSON(w, code, body)
}
