package trace

import "sync"

// Sink receives events from the sweep. Record must not block and must not
// panic; callers go through SafeRecord and assume it may be a no-op.
type Sink interface {
	Record(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(Event) {}

// SafeRecord records event on s, swallowing any panic. A nil sink is a no-op.
func SafeRecord(s Sink, event Event) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder collects events in memory. It is safe for concurrent use; the
// canonical order is computed when the trace is built, so arrival order from
// parallel workers does not matter.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event Event) {
	if r == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds the canonical trace of everything recorded so far.
func (r *Recorder) Trace(sweepHash string) SweepTrace {
	tr := SweepTrace{SweepHash: sweepHash}
	tr.Events = r.Snapshot()
	tr.Canonicalize()
	return tr
}
