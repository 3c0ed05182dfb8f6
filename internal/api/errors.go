package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/station-bridge/internal/cloud"
	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/station"
	"github.com/nerrad567/station-bridge/internal/transport"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeNotSpeaker  = "not_speaker"
	ErrCodeUpstream    = "upstream_failed"
	ErrCodeTimeout     = "timeout"
	ErrCodeUnavailable = "unavailable"
	ErrCodeInternal    = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeStationError maps a station, registry or channel error to its
// HTTP status.
func writeStationError(w http.ResponseWriter, err error) {
	status, code := stationErrorStatus(err)
	writeError(w, status, code, err.Error())
}

func stationErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, station.ErrUnknownCommand), errors.Is(err, station.ErrInvalidArgument):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, device.ErrDeviceNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, station.ErrNotSpeaker):
		return http.StatusUnprocessableEntity, ErrCodeNotSpeaker
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, transport.ErrTimeout):
		return http.StatusGatewayTimeout, ErrCodeTimeout
	case errors.Is(err, station.ErrCommandRejected),
		errors.Is(err, station.ErrLocalFailed),
		errors.Is(err, cloud.ErrRemoteRejected),
		errors.Is(err, cloud.ErrRequestFailed):
		return http.StatusBadGateway, ErrCodeUpstream
	case errors.Is(err, station.ErrClosed), errors.Is(err, device.ErrRegistryClosed):
		return http.StatusServiceUnavailable, ErrCodeUnavailable
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}
