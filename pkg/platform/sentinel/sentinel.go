package sentinel

import "errors"

// Infrastructure facts. Stores, the camera manager and sinks return these
// (wrapped) and callers translate them into dErrors codes at the boundary:
// - ErrNotFound: nothing stored under the key (no token, no profile, no event)
// - ErrConflict: the resource is held by someone else (a live camera stream)
// - ErrInvalidState: the resource can no longer be used (a released handle)
// - ErrUnavailable: a downstream sink is refusing work (open circuit)
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
