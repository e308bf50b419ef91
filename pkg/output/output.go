package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/ericogr/weather-station/pkg/sensor"
)

// Output is a delivery destination for measurements. Publish must not modify
// the measurement and reports every destination failure as an error.
type Output interface {
	Publish(ctx context.Context, m sensor.Measurement) error
	Close() error
}

// Status is the result class of one delivery attempt.
type Status int

const (
	Delivered Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is what happened to one measurement at one sink.
type Outcome struct {
	Sink   string
	Status Status
	Reason string
}

type skipError struct{ reason string }

func (e *skipError) Error() string { return "skipped: " + e.reason }

// Skip returns an error telling the dispatcher the output deliberately chose
// not to deliver, for example because the payload has nothing it accepts.
func Skip(format string, args ...interface{}) error {
	return &skipError{reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err was produced by Skip.
func IsSkip(err error) bool {
	var s *skipError
	return errors.As(err, &s)
}

func skipReason(err error) string {
	var s *skipError
	if errors.As(err, &s) {
		return s.reason
	}
	return err.Error()
}
