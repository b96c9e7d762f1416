// Package session keeps the kiosk user's bearer token and last known profile.
// Login happens elsewhere; the presentation layer hands both to the kiosk.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cleanpoints/pkg/domain"
	dErrors "cleanpoints/pkg/domain-errors"
	"cleanpoints/pkg/platform/sentinel"
)

// Profile is the subset of the backend user record the flow needs.
type Profile struct {
	ID          domain.UserID `json:"id"`
	Nombre      string        `json:"nombre"`
	Email       string        `json:"email,omitempty"`
	CleanPoints int           `json:"cleanpoints"`
}

// Store persists the session. Missing values are reported with
// sentinel.ErrNotFound.
type Store interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error

	Profile(ctx context.Context) (Profile, error)
	SetProfile(ctx context.Context, p Profile) error

	// Clear removes both token and profile.
	Clear(ctx context.Context) error
}

// ErrNoUser is returned by CurrentUser when nobody is signed in.
var ErrNoUser = dErrors.New(dErrors.CodeUnauthenticated, "no user signed in")

// CurrentUser resolves the signed-in user's id from s.
func CurrentUser(ctx context.Context, s Store) (domain.UserID, error) {
	p, err := s.Profile(ctx)
	if errors.Is(err, sentinel.ErrNotFound) {
		return 0, ErrNoUser
	}
	if err != nil {
		return 0, fmt.Errorf("loading profile: %w", err)
	}
	if p.ID.IsNil() {
		return 0, ErrNoUser
	}
	return p.ID, nil
}

// Users adapts a Store to the flow's user lookup.
type Users struct {
	Store Store
}

func (u Users) CurrentUser(ctx context.Context) (domain.UserID, error) {
	return CurrentUser(ctx, u.Store)
}

// TokenExpiry reads the exp claim of a JWT without verifying it. ok is false
// for opaque tokens or tokens without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	e, err := claims.GetExpirationTime()
	if err != nil || e == nil {
		return time.Time{}, false
	}
	return e.Time, true
}

// Expired reports whether token carries an exp claim that is not after now.
func Expired(token string, now time.Time) bool {
	exp, ok := TokenExpiry(token)
	return ok && !exp.After(now)
}
