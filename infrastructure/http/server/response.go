package server

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"trade-chat/errors"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps err to its status. Internal failures are logged and
// never leak their message.
func writeError(log *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: message, Retryable: errors.IsRetryable(err)})
}

func decode(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errors.ErrInvalidContent
		}
		return errors.ErrInvalidRequest
	}
	return nil
}
