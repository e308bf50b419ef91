package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/segmentio/encoding/json"

	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/sensor"
)

// ConsoleOutput prints every measurement on one line. It never rejects a
// measurement.
type ConsoleOutput struct {
	mu  sync.Mutex
	w   io.Writer
	loc *time.Location
}

// NewConsole writes to standard output.
func NewConsole() output.Output { return &ConsoleOutput{loc: time.UTC} }

// NewWriter writes to w.
func NewWriter(w io.Writer) output.Output { return &ConsoleOutput{w: w, loc: time.UTC} }

func (c *ConsoleOutput) Publish(_ context.Context, m sensor.Measurement) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("console encode: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.w
	if w == nil {
		w = os.Stdout
	}
	_, err = fmt.Fprintf(w, "%s %s\n", m.Time().In(c.loc).Format(time.RFC3339), b)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
