package audit

import (
	"context"
	"time"

	"cleanpoints/pkg/domain"
)

// EventCategory sets retention and routing for an event.
type EventCategory string

const (
	// CategoryLedger covers events that change or explain a user's points.
	CategoryLedger EventCategory = "ledger"
	// CategoryDevice covers camera and scanner health.
	CategoryDevice EventCategory = "device"
	// CategoryOperations covers routine flow progress.
	CategoryOperations EventCategory = "operations"
)

// Action names one step of the recycling flow worth keeping a record of.
type Action string

const (
	ActionScanStarted        Action = "scan_started"
	ActionQRDecoded          Action = "qr_decoded"
	ActionPhotoCaptured      Action = "photo_captured"
	ActionSubmissionSent     Action = "submission_sent"
	ActionValidationAccepted Action = "validation_accepted"
	ActionValidationRejected Action = "validation_rejected"
	ActionSubmissionFailed   Action = "submission_failed"
	ActionCameraFailed       Action = "camera_failed"
	ActionFlowCancelled      Action = "flow_cancelled"
	ActionFlowRestarted      Action = "flow_restarted"
)

var actionCategories = map[Action]EventCategory{
	ActionValidationAccepted: CategoryLedger,
	ActionValidationRejected: CategoryLedger,
	ActionSubmissionFailed:   CategoryLedger,

	ActionCameraFailed: CategoryDevice,
}

// Category returns the action's category; unlisted actions are operations.
func (a Action) Category() EventCategory {
	if c, ok := actionCategories[a]; ok {
		return c
	}
	return CategoryOperations
}

// Event is one flow audit record. SessionID groups every event of one
// scan session.
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	Category  EventCategory `json:"category"`
	Action    Action        `json:"action"`
	SessionID string        `json:"session_id"`
	UserID    domain.UserID `json:"user_id,omitempty"`
	QRCode    string        `json:"qr_code,omitempty"`
	Points    int           `json:"points,omitempty"`
	// Code is the error code for failure events.
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Store persists events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
