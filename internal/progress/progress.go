// Package progress implements a cooperative progress/cancellation sink.
// experiment.Experiment's FindPeaks, Integrate and Refine report a status
// line to a Sink when their stage starts and a fraction of 1 when it
// ends, and check Cancelled once before starting; nothing polls the Sink
// inside a running stage, and autoindexing does not report to it. There
// are no hard timeouts.
//
// The fan-out (one publisher, many live subscribers) is adapted from the
// subscribe/cancel channel registry in a telemetry hub pattern: each
// subscriber gets its own buffered channel and a matching unsubscribe
// closure, rather than a single shared broadcast channel every caller
// must drain in lockstep.
package progress

import "sync"

// Update is one status/progress report.
type Update struct {
	Stage    string  // e.g. "find", "autoindex", "integrate", "refine"
	Status   string  // free-form human-readable status line
	Fraction float64 // 0..1, -1 if indeterminate
}

// Sink receives status and progress reports from a running stage and
// tells it whether to keep going. Every method must be safe to call from
// the stage's own goroutine at frame/iteration boundaries.
type Sink interface {
	SetStatus(stage, status string)
	SetProgress(stage string, fraction float64)
	Cancelled() bool
}

// Hub is the default Sink: it records the latest update per stage,
// fans out every update to live subscribers, and exposes a single
// cooperative cancel flag shared by every caller holding this Hub.
type Hub struct {
	mu          sync.RWMutex
	cancelled   bool
	latest      map[string]Update
	subscribers map[chan Update]struct{}
}

// NewHub builds an empty, not-yet-cancelled progress hub.
func NewHub() *Hub {
	return &Hub{
		latest:      make(map[string]Update),
		subscribers: make(map[chan Update]struct{}),
	}
}

// SetStatus records stage's latest status line and notifies subscribers.
func (h *Hub) SetStatus(stage, status string) {
	h.publish(stage, func(u *Update) { u.Status = status })
}

// SetProgress records stage's latest fraction-complete and notifies
// subscribers.
func (h *Hub) SetProgress(stage string, fraction float64) {
	h.publish(stage, func(u *Update) { u.Fraction = fraction })
}

func (h *Hub) publish(stage string, mutate func(*Update)) {
	h.mu.Lock()
	u := h.latest[stage]
	u.Stage = stage
	mutate(&u)
	h.latest[stage] = u
	for ch := range h.subscribers {
		select {
		case ch <- u:
		default:
		}
	}
	h.mu.Unlock()
}

// Cancel requests cooperative cancellation; every subsequent Cancelled()
// call (on this Hub or anything reading through it) returns true. It is
// idempotent and does not unwind any in-flight stage itself — the caller
// still has to notice Cancelled() at its next poll point.
func (h *Hub) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
}

// Cancelled reports whether Cancel has been called.
func (h *Hub) Cancelled() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cancelled
}

// Snapshot returns the latest recorded update for every stage seen so
// far.
func (h *Hub) Snapshot() map[string]Update {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]Update, len(h.latest))
	for k, v := range h.latest {
		out[k] = v
	}
	return out
}

// Subscribe registers a listener for live updates across every stage; the
// returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 32)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Noop is a Sink that discards every report and never cancels, for
// callers that don't care about progress (most tests, and any pipeline
// stage invoked with a nil Sink).
var Noop Sink = noopSink{}

type noopSink struct{}

func (noopSink) SetStatus(string, string)    {}
func (noopSink) SetProgress(string, float64) {}
func (noopSink) Cancelled() bool             { return false }
