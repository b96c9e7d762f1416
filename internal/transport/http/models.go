package httptransport

import (
	"time"

	"cleanpoints/internal/flow"
	"cleanpoints/internal/session"
	"cleanpoints/internal/validation"
	dErrors "cleanpoints/pkg/domain-errors"
)

type sessionResponse struct {
	SessionID         string          `json:"session_id,omitempty"`
	Step              flow.Step       `json:"step"`
	QRCode            string          `json:"qr_code,omitempty"`
	Photo             *photoResponse  `json:"photo,omitempty"`
	Result            *resultResponse `json:"result,omitempty"`
	LastError         *flow.Failure   `json:"last_error,omitempty"`
	CameraOn          bool            `json:"camera_on"`
	CameraUnsupported bool            `json:"camera_unsupported,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type photoResponse struct {
	URL        string    `json:"url"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Bytes      int       `json:"bytes"`
	CapturedAt time.Time `json:"captured_at"`
}

type resultResponse struct {
	Valid        bool   `json:"valid"`
	PointsEarned int    `json:"points_earned"`
	Message      string `json:"message"`
}

func toSessionResponse(s flow.Session) sessionResponse {
	resp := sessionResponse{
		Step:              s.Step(),
		QRCode:            s.QRPayload(),
		LastError:         s.Error,
		CameraOn:          s.CameraOn,
		CameraUnsupported: s.CameraUnsupported,
		UpdatedAt:         s.UpdatedAt,
	}
	if !s.ID.IsNil() {
		resp.SessionID = s.ID.String()
	}
	if img := s.Image(); img != nil {
		resp.Photo = &photoResponse{
			URL:        "/flow/photo",
			Width:      img.Width,
			Height:     img.Height,
			Bytes:      img.Size(),
			CapturedAt: img.CapturedAt,
		}
	}
	if r := s.Result(); r != nil {
		out := toResultResponse(*r)
		resp.Result = &out
	}
	return resp
}

func toResultResponse(r validation.Result) resultResponse {
	return resultResponse{Valid: r.Valid, PointsEarned: r.PointsEarned, Message: r.Message}
}

// Event payloads on /flow/events.

type stepEvent struct {
	Step flow.Step `json:"step"`
}

type errorEvent struct {
	Code    dErrors.Code `json:"code"`
	Message string       `json:"message"`
}

// Session endpoints.

type signInRequest struct {
	Token string          `json:"token"`
	User  session.Profile `json:"user"`
}

type sessionUserResponse struct {
	SignedIn       bool             `json:"signed_in"`
	User           *session.Profile `json:"user,omitempty"`
	TokenExpiresAt *time.Time       `json:"token_expires_at,omitempty"`
}
