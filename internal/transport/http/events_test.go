package httptransport

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"cleanpoints/internal/flow"
	"cleanpoints/internal/platform/logger"
	"cleanpoints/internal/transport/http/mocks"
	"cleanpoints/internal/validation"
	dErrors "cleanpoints/pkg/domain-errors"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(logger.Discard())
	first, stopFirst := b.Subscribe()
	second, stopSecond := b.Subscribe()
	defer stopSecond()
	require.Equal(t, 2, b.Subscribers())

	b.OnStepChange(flow.StepScanningQR)

	for _, ch := range []<-chan Event{first, second} {
		ev := <-ch
		assert.Equal(t, "step", ev.Name)
		assert.JSONEq(t, `{"step":"scanning_qr"}`, ev.Data)
	}

	stopFirst()
	stopFirst()
	assert.Equal(t, 1, b.Subscribers())
	_, open := <-first
	assert.False(t, open, "unsubscribe closes the channel")
}

func TestBrokerEventPayloads(t *testing.T) {
	b := NewBroker(logger.Discard())
	ch, stop := b.Subscribe()
	defer stop()

	b.OnError(dErrors.CodeNoQRDetected, "No QR code detected.")
	b.OnResult(validation.Result{Valid: true, PointsEarned: 50, Message: "ok"})

	ev := <-ch
	assert.Equal(t, "error", ev.Name)
	assert.JSONEq(t, `{"code":"no_qr_detected","message":"No QR code detected."}`, ev.Data)
	ev = <-ch
	assert.Equal(t, "result", ev.Name)
	assert.JSONEq(t, `{"valid":true,"points_earned":50,"message":"ok"}`, ev.Data)
}

func TestBrokerNeverBlocksOnSlowSubscriber(t *testing.T) {
	b := NewBroker(logger.Discard())
	ch, stop := b.Subscribe()
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			b.OnStepChange(flow.StepScanningQR)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestEventStream(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := mocks.NewMockFlowService(ctrl)
	svc.EXPECT().Session(gomock.Any()).Return(flow.Session{State: flow.Instructions{}}, nil).AnyTimes()

	log := logger.Discard()
	broker := NewBroker(log)
	handler := NewFlowHandler(svc, broker, log)
	handler.heartbeat = 20 * time.Millisecond
	srv := httptest.NewServer(NewRouter(log, nil, handler))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/flow/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan string, 16)
	go func() {
		defer close(frames)
		sc := bufio.NewScanner(resp.Body)
		var frame []string
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				frames <- strings.Join(frame, "\n")
				frame = nil
				continue
			}
			frame = append(frame, line)
		}
	}()
	next := func() string {
		select {
		case f := <-frames:
			return f
		case <-time.After(2 * time.Second):
			t.Fatal("no frame received")
			return ""
		}
	}

	assert.Equal(t, "retry: 2000", next())
	session := next()
	assert.True(t, strings.HasPrefix(session, "event: session\ndata: "), session)
	assert.Contains(t, session, `"step":"instructions"`)

	broker.OnStepChange(flow.StepScanningQR)
	var got string
	for got = next(); got == ": ping"; got = next() {
	}
	assert.Equal(t, "event: step\ndata: {\"step\":\"scanning_qr\"}", got)

	for got = next(); got != ": ping"; got = next() {
	}
	assert.Equal(t, ": ping", got, "heartbeats keep the stream alive")

	cancel()
	assert.Eventually(t, func() bool { return broker.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
