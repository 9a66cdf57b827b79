package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
)

type errorResponse struct {
	Error string   `json:"error"`
	Hints []string `json:"hints,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return err
	}
	return nil
}

// writeWrappedError maps err to a status. Client errors carry their message
// and hints; server errors are logged and answered with msg only.
func (s *Server) writeWrappedError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), s.logger).Errorw(msg,
			logger.FieldPath, r.URL.Path,
			logger.FieldError, err,
			"details", errors.FlattenDetails(err))
		writeJSON(w, status, errorResponse{Error: msg, Hints: errors.GetAllHints(err)})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Hints: errors.GetAllHints(err)})
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.NewValidationError("%s must be a non-negative integer, got %q", name, raw)
	}
	return n, nil
}

// shortID truncates an ID to 8 characters for logging
func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}
