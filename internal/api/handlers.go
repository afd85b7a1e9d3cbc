package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message"`
}

// writeJSON writes a successful response envelope
func writeJSON(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Success: true, Data: data})
}

// writeError writes a failed response envelope. The status and message
// come from the error's code; unclassified errors are logged and reported
// as internal.
func writeError(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		log.Error().Err(err).Msg("Unhandled API error")
		de = &domain.Error{Code: domain.CodeInternal, Message: "internal error"}
	} else if de.Code == domain.CodeInternal {
		log.Error().Err(err).Msg("Internal API error")
	}
	writeEnvelope(w, statusFor(de.Code), envelope{
		Error: &errorBody{Code: de.Code, Message: de.Message},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("Writing response")
	}
}

func badRequest(format string, args ...any) error {
	return domain.Errorf(domain.CodeInvalidInput, format, args...)
}

// statusFor maps an error code to its HTTP status
func statusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeInvalidInput, domain.CodeArgumentCount, domain.CodeInvalidTemplate:
		return http.StatusBadRequest
	case domain.CodeUnresolvedPlaceholder:
		return http.StatusUnprocessableEntity
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeInsufficientPermission, domain.CodeInsufficientPower:
		return http.StatusForbidden
	case domain.CodeNotFound, domain.CodeUnknownCommand:
		return http.StatusNotFound
	case domain.CodeBuiltInImmutable:
		return http.StatusConflict
	case domain.CodeCommandDisabled:
		return http.StatusLocked
	case domain.CodeThrottled:
		return http.StatusTooManyRequests
	case domain.CodeAuthenticationFailed, domain.CodeWebhookDeliveryFailed:
		return http.StatusBadGateway
	case domain.CodeConnection:
		return http.StatusServiceUnavailable
	case domain.CodeCommandTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes a JSON request body into v
func decodeBody(req *http.Request, v any) error {
	dec := json.NewDecoder(req.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// parseID parses an ID from the URL path
func parseID(req *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(req.PathValue(param), 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s", param)
	}
	return id, nil
}
