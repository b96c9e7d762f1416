package validation

import (
	"fmt"
	"net/http"

	"cleanpoints/internal/evidence"
	"cleanpoints/pkg/domain"
)

// Result is the backend's verdict on one submission.
type Result struct {
	Valid        bool
	PointsEarned int
	Message      string
}

// Submission pairs a decoded container code with its evidence photo.
type Submission struct {
	QRCode string
	Image  evidence.Image
	UserID domain.UserID
}

// ServerError carries the HTTP status and detail of a rejected request.
type ServerError struct {
	Status int
	Detail string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("validation endpoint returned %d: %s", e.Status, e.Detail)
}

type validateRequest struct {
	QRCode    string `json:"qr_code"`
	ImageData string `json:"image_data"`
	UserID    int64  `json:"user_id"`
}

type validateResponse struct {
	Valid             *bool  `json:"valid"`
	Message           string `json:"message"`
	Detail            string `json:"detail"`
	CleanPointsEarned *int   `json:"cleanpoints_earned"`
	PointsAwarded     *int   `json:"points_awarded"`
}

func (r validateResponse) toResult() Result {
	points := 0
	switch {
	case r.CleanPointsEarned != nil:
		points = *r.CleanPointsEarned
	case r.PointsAwarded != nil:
		points = *r.PointsAwarded
	}
	if points < 0 {
		points = 0
	}
	msg := r.Message
	if msg == "" {
		msg = r.Detail
	}
	valid := *r.Valid
	if msg == "" {
		if valid {
			msg = "Recycling validated"
		} else {
			msg = "Recycling could not be validated"
		}
	}
	return Result{Valid: valid, PointsEarned: points, Message: msg}
}

// statusText is the fallback detail for error bodies without one.
func statusText(status int) string {
	return fmt.Sprintf("Error %d: %s", status, http.StatusText(status))
}
