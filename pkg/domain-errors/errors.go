// Package domainerrors carries the error taxonomy shared by the validation flow.
//
// Every failure that can reach the presentation layer is an *Error with a
// Code. Lower layers wrap their causes with Wrap so the original error stays
// available through errors.Unwrap, while callers branch on the code only.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error kind.
type Code string

const (
	// Camera failures.
	CodePermissionDenied  Code = "permission_denied"
	CodeDeviceNotFound    Code = "device_not_found"
	CodeDeviceUnsupported Code = "device_unsupported"
	CodeCameraUnknown     Code = "camera_unknown"

	// Evidence and submission failures.
	CodeCaptureFailed Code = "capture_failed"
	CodeNetwork       Code = "network_error"
	CodeServer        Code = "server_error"

	// Scanner notices. These never change the flow state.
	CodeNoQRDetected Code = "no_qr_detected"
	CodeScannerFault Code = "scanner_fault"

	// Caller errors.
	CodeInvalidState    Code = "invalid_state"
	CodeInvalidInput    Code = "invalid_input"
	CodeUnauthenticated Code = "unauthenticated"

	CodeInternal Code = "internal_error"
)

// userMessages are the short, human-readable texts shown by kiosks.
var userMessages = map[Code]string{
	CodePermissionDenied:  "Camera permission was denied. Allow camera access and try again.",
	CodeDeviceNotFound:    "No camera was found on this device.",
	CodeDeviceUnsupported: "This device does not support camera capture. Use manual entry instead.",
	CodeCameraUnknown:     "The camera could not be started.",
	CodeCaptureFailed:     "The photo could not be taken. Try again.",
	CodeNetwork:           "Could not reach the validation service. Check your connection and resubmit.",
	CodeServer:            "The validation service rejected the request.",
	CodeNoQRDetected:      "No QR code detected. Adjust the camera, lighting or move closer to the code.",
	CodeScannerFault:      "The QR scanner reported an error. Please try again.",
	CodeInvalidState:      "That action is not available right now.",
	CodeInvalidInput:      "The request is invalid.",
	CodeUnauthenticated:   "You must sign in to validate a recycling.",
	CodeInternal:          "Something went wrong.",
}

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to err. A nil err still produces an error
// so callers can use Wrap for failures detected locally.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err's chain carries an *Error with the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// MessageOf returns the message of the outermost *Error, or err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return err.Error()
}

// UserMessage returns the short text a person should see for code.
func UserMessage(code Code) string {
	if msg, ok := userMessages[code]; ok {
		return msg
	}
	return userMessages[CodeInternal]
}
