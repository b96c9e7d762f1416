package camera

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/sentinel"
)

var (
	// ErrBusy means a handle is still active; release it first.
	ErrBusy = fmt.Errorf("camera busy: %w", sentinel.ErrConflict)
	// ErrReleased is returned by a handle after Release.
	ErrReleased = fmt.Errorf("camera handle released: %w", sentinel.ErrInvalidState)
	// ErrNoDevice is what a platform without camera support reports.
	ErrNoDevice = fmt.Errorf("no camera api on this platform: %w", errors.ErrUnsupported)
)

// NamedError is implemented by platform errors that carry a DOM-style name
// such as "NotAllowedError".
type NamedError interface {
	error
	Name() string
}

// PlatformError is a NamedError for device adapters.
type PlatformError struct {
	ErrName string
	Message string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.ErrName
	}
	return e.ErrName + ": " + e.Message
}

func (e *PlatformError) Name() string { return e.ErrName }

// Classify maps a device failure onto the camera taxonomy: permission_denied,
// device_not_found, device_unsupported or camera_unknown. Errors that already
// carry one of those codes are returned unchanged.
func Classify(err error) *dErrors.Error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) && isCameraCode(de.Code) {
		return de
	}

	switch {
	case errors.Is(err, fs.ErrPermission):
		return dErrors.Wrap(err, dErrors.CodePermissionDenied, "camera permission denied")
	case errors.Is(err, fs.ErrNotExist):
		return dErrors.Wrap(err, dErrors.CodeDeviceNotFound, "no camera found")
	case errors.Is(err, errors.ErrUnsupported):
		return dErrors.Wrap(err, dErrors.CodeDeviceUnsupported, "camera not supported")
	}

	var named NamedError
	if errors.As(err, &named) {
		switch named.Name() {
		case "NotAllowedError", "SecurityError", "PermissionDeniedError":
			return dErrors.Wrap(err, dErrors.CodePermissionDenied, "camera permission denied")
		case "NotFoundError", "OverconstrainedError", "DevicesNotFoundError":
			return dErrors.Wrap(err, dErrors.CodeDeviceNotFound, "no camera found")
		case "NotSupportedError":
			return dErrors.Wrap(err, dErrors.CodeDeviceUnsupported, "camera not supported")
		}
	}

	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "camera failed to start"
	}
	return dErrors.Wrap(err, dErrors.CodeCameraUnknown, msg)
}

func isCameraCode(code dErrors.Code) bool {
	switch code {
	case dErrors.CodePermissionDenied, dErrors.CodeDeviceNotFound,
		dErrors.CodeDeviceUnsupported, dErrors.CodeCameraUnknown:
		return true
	}
	return false
}
