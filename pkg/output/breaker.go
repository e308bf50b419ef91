package output

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/ericogr/weather-station/pkg/sensor"
)

// BreakerSettings configures WithBreaker.
type BreakerSettings struct {
	// Failures is the number of consecutive failures that opens the breaker.
	Failures uint32
	// OpenFor is how long the breaker stays open before a trial call.
	OpenFor time.Duration
	Logger  *zap.SugaredLogger
}

type breakerOutput struct {
	next Output
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker short-circuits next after repeated failures. While open,
// Publish fails immediately with gobreaker.ErrOpenState. Skips count as
// successes.
func WithBreaker(name string, next Output, s BreakerSettings) Output {
	if s.Failures == 0 {
		s.Failures = 3
	}
	if s.OpenFor <= 0 {
		s.OpenFor = time.Minute
	}
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	failures := s.Failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsSkip(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("breaker state change", "sink", name, "from", from.String(), "to", to.String())
		},
	})
	return &breakerOutput{next: next, cb: cb}
}

func (b *breakerOutput) Publish(ctx context.Context, m sensor.Measurement) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Publish(ctx, m)
	})
	return err
}

func (b *breakerOutput) Close() error { return b.next.Close() }
