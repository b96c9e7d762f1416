// Package httputil writes the kiosk's JSON responses and error envelopes.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/sentinel"
)

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError translates err into {"error": code, "error_description": msg}.
// Internal errors never leak their description.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	if errors.Is(err, sentinel.ErrNotFound) && !hasCode(err) {
		code = codeNotFound
	}
	resp := errorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		resp.ErrorDescription = dErrors.MessageOf(err)
		if resp.ErrorDescription == "" {
			resp.ErrorDescription = dErrors.UserMessage(code)
		}
	}
	WriteJSON(w, ToHTTPStatus(code), resp)
}

const codeNotFound dErrors.Code = "not_found"

func hasCode(err error) bool {
	var de *dErrors.Error
	return errors.As(err, &de)
}

// ToHTTPStatus maps an error code to its response status.
func ToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case dErrors.CodePermissionDenied:
		return http.StatusForbidden
	case codeNotFound:
		return http.StatusNotFound
	case dErrors.CodeInvalidState:
		return http.StatusConflict
	case dErrors.CodeCaptureFailed:
		return http.StatusUnprocessableEntity
	case dErrors.CodeDeviceUnsupported:
		return http.StatusNotImplemented
	case dErrors.CodeNetwork, dErrors.CodeServer:
		return http.StatusBadGateway
	case dErrors.CodeDeviceNotFound, dErrors.CodeCameraUnknown, dErrors.CodeScannerFault, dErrors.CodeNoQRDetected:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
