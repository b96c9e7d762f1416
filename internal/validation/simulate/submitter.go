// Package simulate is a stand-in validation backend for demos. It is wired
// only when the kiosk runs with CLEANPOINTS_SIMULATE=true.
package simulate

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"cleanpoints/internal/validation"
	dErrors "cleanpoints/pkg/domain-errors"
)

// Submitter answers after Latency; SuccessRate of answers are valid with
// 10 to 59 points.
type Submitter struct {
	Latency     time.Duration
	SuccessRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func New(latency time.Duration, seed uint64) *Submitter {
	return &Submitter{
		Latency:     latency,
		SuccessRate: 0.7,
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *Submitter) Submit(ctx context.Context, sub validation.Submission) (validation.Result, error) {
	if sub.QRCode == "" || sub.Image.Size() == 0 {
		return validation.Result{}, dErrors.New(dErrors.CodeInvalidInput, "qr code and photo are required")
	}
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return validation.Result{}, dErrors.Wrap(ctx.Err(), dErrors.CodeNetwork, "simulated request abandoned")
		case <-t.C:
		}
	}

	s.mu.Lock()
	ok := s.rng.Float64() < s.SuccessRate
	points := 10 + s.rng.IntN(50)
	s.mu.Unlock()

	if !ok {
		return validation.Result{Message: "Recyclable material could not be validated"}, nil
	}
	return validation.Result{
		Valid:        true,
		PointsEarned: points,
		Message:      "Recyclable material detected",
	}, nil
}
