package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/camera/filesource"
	"cleanpoints/internal/evidence"
	"cleanpoints/internal/flow"
	"cleanpoints/internal/platform/logger"
	"cleanpoints/internal/qrscan"
	"cleanpoints/internal/qrscan/zxing"
	"cleanpoints/internal/session"
	httptransport "cleanpoints/internal/transport/http"
	"cleanpoints/internal/validation"
)

const (
	frameGap   = 100 * time.Millisecond
	qrSize     = 480
	submitWait = 3 * time.Second
)

// Backend stands in for the validation service. Each scenario scripts the
// next answer and inspects what the kiosk sent.
type Backend struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	answer   any
	balance  *int
	received []ValidateRequest
}

// ValidateRequest is the body the kiosk posts to /qr/validate.
type ValidateRequest struct {
	QRCode    string `json:"qr_code"`
	ImageData string `json:"image_data"`
	UserID    int64  `json:"user_id"`
}

func newBackend() *Backend {
	b := &Backend{status: http.StatusOK, answer: map[string]any{"valid": true, "cleanpoints_earned": 0}}
	r := chi.NewRouter()
	r.Post("/qr/validate", b.validate)
	r.Get("/usuarios/{id}/cleanpoints", b.cleanpoints)
	b.Server = httptest.NewServer(r)
	return b
}

// Answer scripts the response to every following validation request.
func (b *Backend) Answer(status int, body any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.answer = body
}

// Balance scripts the cleanpoints endpoint. Without it the endpoint is 404.
func (b *Backend) Balance(points int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balance = &points
}

func (b *Backend) Received() []ValidateRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ValidateRequest(nil), b.received...)
}

func (b *Backend) validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.received = append(b.received, req)
	status, answer := b.status, b.answer
	b.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(answer)
}

func (b *Backend) cleanpoints(w http.ResponseWriter, _ *http.Request) {
	b.mu.Lock()
	balance := b.balance
	b.mu.Unlock()
	if balance == nil {
		http.NotFound(w, nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"cleanpoints": *balance})
}

// Kiosk runs the whole kiosk in process: frame-directory camera, zxing
// scanner, real validation client against Backend, and the HTTP router.
type Kiosk struct {
	*httptest.Server
	Backend *Backend
	Cameras *camera.Manager
	Store   *session.InMemoryStore

	controller *flow.Controller
	cancel     context.CancelFunc
	dir        string
}

// Scene selects what the camera sees.
type Scene struct {
	// QRCode is rendered as the only frame. Empty shows a blank wall.
	QRCode string
	// NoCamera starts the kiosk without a device.
	NoCamera bool
}

func StartKiosk(scene Scene) (*Kiosk, error) {
	log := logger.Discard()
	k := &Kiosk{Backend: newBackend(), Store: session.NewInMemoryStore()}

	var device camera.Device
	if !scene.NoCamera {
		dir, err := os.MkdirTemp("", "cleanpoints-e2e-*")
		if err != nil {
			return nil, fmt.Errorf("creating frame dir: %w", err)
		}
		k.dir = dir
		if err := writeFrame(dir, scene.QRCode); err != nil {
			k.Close()
			return nil, err
		}
		device = filesource.New(dir, frameGap)
	}
	k.Cameras = camera.NewManager(device, camera.WithLogger(log))

	policy := qrscan.DefaultPolicy()
	policy.Interval = 50 * time.Millisecond
	scanner, err := qrscan.New(zxing.New(), qrscan.WithPolicy(policy), qrscan.WithLogger(log))
	if err != nil {
		k.Close()
		return nil, err
	}
	client, err := validation.New(k.Backend.URL,
		validation.WithTimeout(submitWait),
		validation.WithTokenStore(k.Store),
		validation.WithLogger(log),
	)
	if err != nil {
		k.Close()
		return nil, err
	}

	broker := httptransport.NewBroker(log)
	k.controller, err = flow.New(k.Cameras, scanner, evidence.NewCapturer(evidence.WithLogger(log)), client,
		session.Users{Store: k.Store},
		flow.WithNotifier(broker),
		flow.WithLogger(log),
		flow.WithSubmitTimeout(submitWait),
		flow.WithBalanceRefresh(client, k.Store),
	)
	if err != nil {
		k.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	k.cancel = cancel
	go func() { _ = k.controller.Run(ctx) }()
	<-k.controller.Started()

	k.Server = httptest.NewServer(httptransport.NewRouter(log, nil,
		httptransport.NewFlowHandler(k.controller, broker, log),
		httptransport.NewSessionHandler(k.Store, k.controller, log),
	))
	return k, nil
}

// Close stops the controller and waits for it to release the camera.
func (k *Kiosk) Close() {
	if k.Server != nil {
		k.Server.Close()
	}
	if k.cancel != nil {
		k.cancel()
		<-k.controller.Done()
	}
	k.Backend.Close()
	if k.dir != "" {
		_ = os.RemoveAll(k.dir)
	}
}

func writeFrame(dir, payload string) error {
	var frame image.Image
	if payload == "" {
		blank := image.NewRGBA(image.Rect(0, 0, qrSize, qrSize))
		draw.Draw(blank, blank.Bounds(), &image.Uniform{C: color.RGBA{R: 90, G: 140, B: 90, A: 255}}, image.Point{}, draw.Src)
		frame = blank
	} else {
		qr, err := zxing.Encode(payload, qrSize)
		if err != nil {
			return err
		}
		frame = qr
	}
	f, err := os.Create(filepath.Join(dir, "frame-000.png"))
	if err != nil {
		return fmt.Errorf("creating frame: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, frame); err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}
	return nil
}
