package flow

import (
	"context"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/evidence"
	"cleanpoints/internal/qrscan"
	"cleanpoints/internal/session"
	"cleanpoints/internal/validation"
	"cleanpoints/pkg/domain"
	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/audit"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Cameras hands out camera handles. *camera.Manager implements it.
type Cameras interface {
	Acquire(ctx context.Context, c camera.Constraints) (*camera.Handle, error)
	Release(h *camera.Handle)
}

type Scanner interface {
	Scan(ctx context.Context, h *camera.Handle, notify qrscan.NotifyFunc) (string, error)
}

type Capturer interface {
	Capture(ctx context.Context, h *camera.Handle) (evidence.Image, error)
}

type Submitter interface {
	Submit(ctx context.Context, s validation.Submission) (validation.Result, error)
}

type UserSource interface {
	CurrentUser(ctx context.Context) (domain.UserID, error)
}

// Notifier receives flow updates. Calls come from the controller loop and
// must not block.
type Notifier interface {
	OnStepChange(step Step)
	OnError(code dErrors.Code, message string)
	OnResult(result validation.Result)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// BalanceSource reads a user's current points after an accepted validation.
type BalanceSource interface {
	FetchCleanPoints(ctx context.Context, userID domain.UserID) (int, error)
}

// ProfileStore is where the refreshed balance is written.
type ProfileStore interface {
	Profile(ctx context.Context) (session.Profile, error)
	SetProfile(ctx context.Context, p session.Profile) error
}

var (
	_ Cameras   = (*camera.Manager)(nil)
	_ Scanner   = (*qrscan.Scanner)(nil)
	_ Capturer  = (*evidence.Capturer)(nil)
	_ Submitter = (*validation.Client)(nil)
)
