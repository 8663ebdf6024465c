package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error codes carried in error bodies.
const (
	codeNotFound        = "not_found"
	codeUnauthenticated = "unauthenticated"
	codeUnauthorized    = "unauthorized"
	codeConflict        = "conflict"
	codeInvalidArgument = "invalid_argument"
	codeInternal        = "internal"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, code, message string) {
	jsonResponse(w, status, errorBody{Error: message, Code: code})
}

func badRequest(w http.ResponseWriter, message string) {
	jsonError(w, http.StatusBadRequest, codeInvalidArgument, message)
}

// writeError maps domain errors to HTTP statuses. Anything unrecognized is
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		jsonError(w, http.StatusNotFound, codeNotFound, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated):
		jsonError(w, http.StatusUnauthorized, codeUnauthenticated, "not authenticated")
	case errors.Is(err, model.ErrUnauthorized):
		jsonError(w, http.StatusForbidden, codeUnauthorized, err.Error())
	case errors.Is(err, model.ErrConflict):
		jsonError(w, http.StatusConflict, codeConflict, err.Error())
	case errors.Is(err, model.ErrInvalidArgument):
		jsonError(w, http.StatusBadRequest, codeInvalidArgument, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", RequestID(r.Context()), "error", err)
		jsonError(w, http.StatusInternalServerError, codeInternal, "internal error")
	}
}

// decodeJSON decodes a JSON request body into the given target. An empty
// body leaves target untouched.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	if r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(target)
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

type message struct {
	Message string `json:"message"`
}
