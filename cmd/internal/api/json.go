package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"nearby/cmd/internal/errs"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeDomainError maps the errs taxonomy onto HTTP statuses. Causes are logged, never returned.
func writeDomainError(w http.ResponseWriter, log *slog.Logger, op string, err error) {
	switch {
	case errs.IsValidation(err):
		writeError(w, http.StatusBadRequest, "invalid_input", errs.Message(err))
	case errs.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", errs.Message(err))
	case errs.IsUnavailable(err):
		log.Error(op+".unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service unavailable, please retry later")
	default:
		log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}
