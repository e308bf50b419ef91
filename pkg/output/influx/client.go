package influx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"go.uber.org/zap"

	"github.com/ericogr/weather-station/pkg/config"
)

const defaultTimeout = 10 * time.Second

// Client owns one InfluxDB connection for the life of the process. It
// connects on first use and can be closed any number of times.
type Client struct {
	cfg    config.InfluxConfig
	logger *zap.SugaredLogger

	mu     sync.Mutex
	client influxdb2.Client
	writer api.WriteAPIBlocking
}

func NewClient(cfg config.InfluxConfig, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Connect creates the underlying client and runs a health check. It is a
// no-op when already connected. A failed health request leaves the handle
// disconnected so the next call tries again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	timeout := config.Seconds(c.cfg.TimeoutSeconds, defaultTimeout)
	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(uint(timeout / time.Second)).
		SetTLSConfig(&tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: !c.cfg.VerifyTLS,
		})
	client := influxdb2.NewClientWithOptions(c.cfg.URL, c.cfg.Token, opts)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return fmt.Errorf("influx health: %w", err)
	}
	if health.Status != domain.HealthCheckStatusPass {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		c.logger.Warnw("influx health check failed", "status", health.Status, "message", msg)
	} else {
		c.logger.Infow("connected to influx", "url", c.cfg.URL, "bucket", c.cfg.Bucket)
	}

	c.client = client
	c.writer = client.WriteAPIBlocking(c.cfg.Org, c.cfg.Bucket)
	return nil
}

// Write connects if needed and writes the points synchronously.
func (c *Client) Write(ctx context.Context, points ...*write.Point) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	w := c.writer
	c.mu.Unlock()
	if w == nil {
		return errors.New("influx: client closed")
	}
	if err := w.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

// Close releases the connection. Closing an unconnected or already closed
// client does nothing.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	c.client.Close()
	c.client = nil
	c.writer = nil
	return nil
}
