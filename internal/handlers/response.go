// internal/handlers/response.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jason-s-yu/bingo/internal/match"
	"github.com/sirupsen/logrus"
)

// envelope is the body of every JSON response.
type envelope struct {
	StatusCode int         `json:"statusCode"`
	Data       interface{} `json:"data,omitempty"`
	Success    bool        `json:"success"`
	Message    string      `json:"message"`
	Errors     []errorItem `json:"errors,omitempty"`
}

type errorItem struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, message string, data interface{}) {
	writeJSON(w, status, envelope{
		StatusCode: status,
		Data:       data,
		Success:    true,
		Message:    message,
	})
}

func writeFailure(w http.ResponseWriter, status int, kind, code, message string) {
	writeJSON(w, status, envelope{
		StatusCode: status,
		Success:    false,
		Message:    message,
		Errors:     []errorItem{{Kind: kind, Code: code, Message: message}},
	})
}

// statusForKind maps domain error kinds onto HTTP statuses.
func statusForKind(k match.Kind) int {
	switch k {
	case match.KindValidation:
		return http.StatusBadRequest
	case match.KindAuthorization:
		return http.StatusForbidden
	case match.KindNotFound:
		return http.StatusNotFound
	case match.KindState, match.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Domain errors keep their message; anything else is a
// 500 whose detail is only exposed in debug mode.
func writeError(w http.ResponseWriter, r *http.Request, logger *logrus.Logger, debug bool, err error) {
	if e, ok := match.AsError(err); ok {
		writeFailure(w, statusForKind(e.Kind), string(e.Kind), e.Code, e.Message)
		return
	}

	logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).WithError(err).Error("request failed")

	msg := "internal server error"
	if debug {
		msg = err.Error()
	}
	writeFailure(w, http.StatusInternalServerError, "internal", "internal_error", msg)
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	msg := "invalid token"
	if errors.Is(err, errMissingToken) {
		msg = errMissingToken.Error()
	}
	writeFailure(w, http.StatusUnauthorized, "authentication", "unauthorized", msg)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	writeFailure(w, http.StatusBadRequest, string(match.KindValidation), code, message)
}
