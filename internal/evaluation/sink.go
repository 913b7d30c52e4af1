package evaluation

import (
	"context"
	"errors"
	"time"
)

// Output describes one vector file written by an engine.
type Output struct {
	Path string
	// Kind is the producing command, for example "evaluation", "single-pixel",
	// "reconstruction", "average" or "filtered".
	Kind      string
	FrameA    string
	FrameB    string
	Passes    int
	Vectors   int
	Invalid   int
	CreatedAt time.Time
}

// Sink is notified of every output file after it has been written.
type Sink interface {
	Append(ctx context.Context, out Output) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, out Output) error

// Append implements Sink.
func (f SinkFunc) Append(ctx context.Context, out Output) error { return f(ctx, out) }

// MultiSink fans an output out to several sinks. Every sink is called; the
// errors are joined.
type MultiSink []Sink

// Append implements Sink.
func (m MultiSink) Append(ctx context.Context, out Output) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
