package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	dErrors "cleanpoints/pkg/domain-errors"
)

// UserID identifies a CleanPoints account. The backend issues numeric IDs.
type UserID int64

// ParseUserID validates a decimal, positive user identifier.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "user id must be numeric")
	}
	if n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "user id must be positive")
	}
	return UserID(n), nil
}

func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// IsNil reports whether the ID is unset.
func (id UserID) IsNil() bool {
	return id <= 0
}

// SessionID identifies one pass through the validation flow, from Start to
// Restart or Cancel.
type SessionID uuid.UUID

// NewSessionID returns a fresh random session ID.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// ParseSessionID validates a non-nil UUID.
func ParseSessionID(s string) (SessionID, error) {
	if s == "" {
		return SessionID{}, dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid session id")
	}
	if u == uuid.Nil {
		return SessionID{}, dErrors.New(dErrors.CodeInvalidInput, "session id cannot be nil")
	}
	return SessionID(u), nil
}

func (id SessionID) String() string {
	return uuid.UUID(id).String()
}

func (id SessionID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}
