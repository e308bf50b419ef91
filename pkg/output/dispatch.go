package output

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ericogr/weather-station/pkg/sensor"
)

// ConsoleName is the sink name reported for the console output.
const ConsoleName = "console"

const defaultTimeout = 10 * time.Second

// Entry is one configured sink. Disabled entries are reported as Skipped
// without being called.
type Entry struct {
	Name    string
	Enabled bool
	Output  Output
}

// Observer receives one call per attempted or skipped sink.
type Observer interface {
	ObserveDispatch(sink, status string, elapsed time.Duration)
}

// Dispatcher fans a measurement out to every enabled sink and then to the
// console. A sink's failure, panic or overrun only affects its own Outcome.
type Dispatcher struct {
	entries  []Entry
	console  Output
	timeout  time.Duration
	parallel bool
	limit    int
	logger   *zap.SugaredLogger
	observer Observer
}

type Option func(*Dispatcher)

// WithTimeout bounds each sink's Publish call.
func WithTimeout(d time.Duration) Option {
	return func(ds *Dispatcher) {
		if d > 0 {
			ds.timeout = d
		}
	}
}

// WithSequential runs sinks one after another in entry order.
func WithSequential() Option { return func(d *Dispatcher) { d.parallel = false } }

// WithConcurrency limits how many sinks publish at the same time.
func WithConcurrency(n int) Option { return func(d *Dispatcher) { d.limit = n } }

func WithLogger(l *zap.SugaredLogger) Option { return func(d *Dispatcher) { d.logger = l } }

func WithObserver(o Observer) Option { return func(d *Dispatcher) { d.observer = o } }

// NewDispatcher keeps entries in the given order; console runs after all of
// them on every dispatch.
func NewDispatcher(entries []Entry, console Output, opts ...Option) (*Dispatcher, error) {
	if console == nil {
		return nil, errors.New("dispatcher: console output is required")
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("dispatcher: entry %d has no name", i)
		}
		if e.Enabled && e.Output == nil {
			return nil, fmt.Errorf("dispatcher: %s is enabled without an output", e.Name)
		}
	}
	d := &Dispatcher{
		entries:  append([]Entry(nil), entries...),
		console:  console,
		timeout:  defaultTimeout,
		parallel: true,
		logger:   zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Dispatch returns one Outcome per entry, in entry order, followed by the
// console outcome. It returns after every enabled sink has finished or
// timed out.
func (d *Dispatcher) Dispatch(ctx context.Context, m sensor.Measurement) []Outcome {
	outcomes := make([]Outcome, len(d.entries)+1)

	if d.parallel {
		var g errgroup.Group
		if d.limit > 0 {
			g.SetLimit(d.limit)
		}
		for i, e := range d.entries {
			if !e.Enabled {
				outcomes[i] = d.skipDisabled(e.Name)
				continue
			}
			i, e := i, e
			g.Go(func() error {
				outcomes[i] = d.attempt(ctx, e.Name, e.Output, m)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, e := range d.entries {
			if !e.Enabled {
				outcomes[i] = d.skipDisabled(e.Name)
				continue
			}
			outcomes[i] = d.attempt(ctx, e.Name, e.Output, m)
		}
	}

	outcomes[len(d.entries)] = d.attempt(context.WithoutCancel(ctx), ConsoleName, d.console, m)
	return outcomes
}

// Close closes every configured output and the console.
func (d *Dispatcher) Close() error {
	var errs []error
	for _, e := range d.entries {
		if e.Output == nil {
			continue
		}
		if err := e.Output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name, err))
		}
	}
	if err := d.console.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", ConsoleName, err))
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) skipDisabled(name string) Outcome {
	d.observe(name, Skipped, 0)
	return Outcome{Sink: name, Status: Skipped, Reason: "disabled"}
}

// attempt runs one Publish under the sink deadline. The call runs in its own
// goroutine so a sink that ignores its context cannot hold the dispatch past
// the deadline.
func (d *Dispatcher) attempt(ctx context.Context, name string, o Output, m sensor.Measurement) Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- o.Publish(ctx, m.Clone())
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timeout after %s: %w", d.timeout, ctx.Err())
		} else {
			err = fmt.Errorf("cancelled: %w", ctx.Err())
		}
	}

	out := Outcome{Sink: name, Status: Delivered}
	switch {
	case err == nil:
		d.logger.Debugw("delivered", "sink", name, "elapsed", time.Since(start))
	case IsSkip(err):
		out.Status = Skipped
		out.Reason = skipReason(err)
		d.logger.Infow("skipped", "sink", name, "reason", out.Reason)
	default:
		out.Status = Failed
		out.Reason = err.Error()
		d.logger.Errorw("delivery failed", "sink", name, "reason", out.Reason)
	}
	d.observe(name, out.Status, time.Since(start))
	return out
}

func (d *Dispatcher) observe(name string, s Status, elapsed time.Duration) {
	if d.observer != nil {
		d.observer.ObserveDispatch(name, s.String(), elapsed)
	}
}
