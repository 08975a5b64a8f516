package common

import (
	"encoding/json"
	"net/http"

	"smartpot-app-go/internal/domain/binding"
	"smartpot-app-go/pkg/logger"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable"`
}

func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func WriteInvalidJSON(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, "invalid_json", "invalid json body")
}

func WriteUnauthorized(w http.ResponseWriter) {
	WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid token")
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind binding.Kind) int {
	switch kind {
	case binding.KindConflict, binding.KindVersionConflict:
		return http.StatusConflict
	case binding.KindNotFound:
		return http.StatusNotFound
	case binding.KindPreconditionFailed, binding.KindManualInterventionRequired:
		return http.StatusUnprocessableEntity
	case binding.KindForbidden:
		return http.StatusForbidden
	case binding.KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError classifies err, logs it under op and writes the error
// envelope. Internal errors never leak their message.
func WriteDomainError(w http.ResponseWriter, log logger.Logger, op string, err error, args ...any) {
	kind := binding.KindOf(err)
	status := StatusFor(kind)

	message := err.Error()
	switch {
	case kind == binding.KindManualInterventionRequired:
		log.Critical(op+": manual intervention required", append(args, "error", err)...)
	case status >= http.StatusInternalServerError:
		log.InternalError(op+": failed", err, args...)
		kind = binding.KindInternal
		message = "internal error"
	default:
		log.BusinessError(op+": rejected", err, append(args, "kind", string(kind))...)
	}

	WriteJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      string(kind),
		Message:   message,
		Kind:      string(kind),
		Retryable: binding.Retryable(kind),
	}})
}
