package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/sensor"
)

// Dispatcher delivers one measurement to every configured sink.
type Dispatcher interface {
	Dispatch(ctx context.Context, m sensor.Measurement) []output.Outcome
}

// Observer receives per-cycle statistics.
type Observer interface {
	ObserveSensorFailure(sensor string)
	ObserveCycle(elapsed time.Duration)
}

// Poller reads every sensor, merges the readings and dispatches the result,
// once per interval. Cycles never overlap.
type Poller struct {
	sensors    []sensor.Sensor
	dispatcher Dispatcher
	interval   time.Duration
	logger     *zap.SugaredLogger
	observer   Observer
	now        func() time.Time
}

type Option func(*Poller)

func WithLogger(l *zap.SugaredLogger) Option { return func(p *Poller) { p.logger = l } }

func WithObserver(o Observer) Option { return func(p *Poller) { p.observer = o } }

// WithClock replaces time.Now for timestamping measurements.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

func New(sensors []sensor.Sensor, d Dispatcher, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		sensors:    sensors,
		dispatcher: d,
		interval:   interval,
		logger:     zap.NewNop().Sugar(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run polls until ctx is cancelled. The first cycle starts immediately and
// each following one starts interval after the previous one finished.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Infow("poll loop started", "interval", p.interval, "sensors", len(p.sensors))
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("poll loop stopped")
			return
		case <-timer.C:
		}
		p.safeCycle(ctx)
		timer.Reset(p.interval)
	}
}

func (p *Poller) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("poll cycle crashed", "panic", r)
		}
	}()
	p.Cycle(ctx)
}

// Cycle runs one read-merge-dispatch pass and returns the dispatched
// measurement with the sink outcomes.
func (p *Poller) Cycle(ctx context.Context) (sensor.Measurement, []output.Outcome) {
	start := time.Now()
	results := make([]sensor.Result, 0, len(p.sensors))
	for _, s := range p.sensors {
		fields, err := readSensor(s)
		if err != nil {
			p.logger.Warnw("sensor read failed", "sensor", s.Name(), "role", s.Role().String(), "error", err)
			if p.observer != nil {
				p.observer.ObserveSensorFailure(s.Name())
			}
		}
		results = append(results, sensor.Result{Sensor: s, Fields: fields, Err: err})
	}

	m := sensor.Merge(p.now(), results)
	outcomes := p.dispatcher.Dispatch(ctx, m)

	failed := 0
	for _, o := range outcomes {
		if o.Status == output.Failed {
			failed++
		}
	}
	p.logger.Infow("poll cycle done", "fields", len(m.Fields), "sinks", len(outcomes), "failed", failed, "elapsed", time.Since(start))
	if p.observer != nil {
		p.observer.ObserveCycle(time.Since(start))
	}
	return m, outcomes
}

func readSensor(s sensor.Sensor) (fields []sensor.Field, err error) {
	defer func() {
		if r := recover(); r != nil {
			fields, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Read()
}
