package tracker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventType classifies progress events.
type EventType string

const (
	// EventProgress: one keyword resolved with a usable result.
	EventProgress EventType = "progress"
	// EventWarning: one keyword resolved without a result (not found, or
	// the task failed). Still counts toward Current.
	EventWarning EventType = "warning"
	// EventComplete: the batch finished. Exactly one per run.
	EventComplete EventType = "complete"
	// EventError: the run aborted at the session level. Terminal.
	EventError EventType = "error"
)

// Event is one progress notification. Every keyword yields exactly one
// progress or warning event; every run ends with exactly one complete or
// error event.
type Event struct {
	Type      EventType `json:"type"`
	Current   int       `json:"current,omitempty"`
	Total     int       `json:"total,omitempty"`
	Keyword   string    `json:"keyword,omitempty"`
	Message   string    `json:"message,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Succeeded int       `json:"succeeded,omitempty"`
	Failed    int       `json:"failed,omitempty"`
}

// Sink receives events. The tracker calls Send synchronously and in
// completion order; how events reach a caller (SSE, log line, channel) is
// the sink's business.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// CallbackSink adapts a function to the Sink interface.
type CallbackSink func(ctx context.Context, ev Event) error

// Send implements Sink.
func (f CallbackSink) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// StdoutSink writes events as JSON lines, one per event.
type StdoutSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewStdoutSink creates a StdoutSink. A nil writer means os.Stdout.
func NewStdoutSink(out io.Writer) *StdoutSink {
	if out == nil {
		out = os.Stdout
	}
	return &StdoutSink{out: out}
}

// Send implements Sink.
func (s *StdoutSink) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = s.out.Write(data)
	return err
}

// sinkFanout delivers each event to every sink. A failing sink is logged
// and skipped; event delivery never stops the batch.
type sinkFanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// with returns a fanout covering the configured sinks plus extra run-scoped
// ones.
func (r *sinkFanout) with(extra ...Sink) sinkFanout {
	if len(extra) == 0 {
		return *r
	}
	all := make([]Sink, 0, len(r.sinks)+len(extra))
	all = append(all, r.sinks...)
	all = append(all, extra...)
	return sinkFanout{sinks: all, logger: r.logger}
}

func (r *sinkFanout) send(ctx context.Context, ev Event) {
	for _, s := range r.sinks {
		if err := s.Send(ctx, ev); err != nil {
			r.logger.Warn("tracker: sink send failed", "type", ev.Type, "error", err)
		}
	}
}
