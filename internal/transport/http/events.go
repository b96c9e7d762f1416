package httptransport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cleanpoints/internal/flow"
	"cleanpoints/internal/validation"
	dErrors "cleanpoints/pkg/domain-errors"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

const subscriberBuffer = 64

// Broker fans flow notifications out to SSE subscribers. A subscriber that
// falls behind loses events rather than stalling the flow.
type Broker struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	logger *slog.Logger
}

var _ flow.Notifier = (*Broker)(nil)

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{subs: make(map[chan Event]struct{}), logger: logger}
}

// Subscribe returns a channel of events and the function that ends the
// subscription.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish sends payload as JSON under name to every subscriber.
func (b *Broker) Publish(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("encoding flow event failed", "event", name, "error", err)
		return
	}
	msg := Event{Name: name, Data: string(data)}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			b.logger.Warn("flow event dropped for slow subscriber", "event", name)
		}
	}
}

func (b *Broker) OnStepChange(step flow.Step) {
	b.Publish("step", stepEvent{Step: step})
}

func (b *Broker) OnError(code dErrors.Code, message string) {
	b.Publish("error", errorEvent{Code: code, Message: message})
}

func (b *Broker) OnResult(result validation.Result) {
	b.Publish("result", toResultResponse(result))
}

// handleEvents streams flow events. The first event is the current session
// so a late subscriber does not have to poll.
func (h *FlowHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()
	ch, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, "retry: 2000\n\n")
	if sess, err := h.flow.Session(ctx); err == nil {
		if data, err := json.Marshal(toSessionResponse(sess)); err == nil {
			fmt.Fprintf(w, "event: session\ndata: %s\n\n", data)
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Name, msg.Data)
			flusher.Flush()
		}
	}
}
