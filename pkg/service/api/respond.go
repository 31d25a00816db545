package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/meshsim/pkg/model"
	"github.com/m-mizutani/meshsim/pkg/utils/logging"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Default().Warn("failed to encode response", "error", err)
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidOperation):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidMessageType):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	logger := logging.From(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err, "status", status)
	} else {
		logger.Info("request rejected", "error", err, "status", status)
	}
	respondJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	logging.From(r.Context()).Info("bad request", "error", err)
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// decode reads a JSON body into req and validates its struct tags
func (s *Server) decode(r *http.Request, req any) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return goerr.Wrap(err, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return goerr.Wrap(err, "validation failed")
	}
	return nil
}
