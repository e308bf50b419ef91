package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/encoding/json"

	"github.com/ericogr/weather-station/pkg/config"
	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/sensor"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultClientID = "weather-station"
	disconnectQuiet = 250
)

// MQTTOutput publishes each measurement on one topic. Every Publish opens
// its own connection and closes it before returning.
type MQTTOutput struct {
	broker    string
	topic     string
	qos       byte
	timeout   time.Duration
	opts      func() *mqtt.ClientOptions
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTT(cfg config.MQTTConfig) output.Output {
	broker := BrokerURL(cfg)
	timeout := config.Seconds(cfg.TimeoutSeconds, defaultTimeout)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}
	m := &MQTTOutput{
		broker:    broker,
		topic:     cfg.Topic,
		qos:       byte(cfg.QoS),
		timeout:   timeout,
		newClient: mqtt.NewClient,
	}
	m.opts = func() *mqtt.ClientOptions {
		opts := mqtt.NewClientOptions().
			AddBroker(broker).
			SetClientID(clientID).
			SetCleanSession(true).
			SetAutoReconnect(false).
			SetConnectRetry(false).
			SetConnectTimeout(timeout).
			SetWriteTimeout(timeout)
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
		if cfg.TLS {
			opts.SetTLSConfig(&tls.Config{
				MinVersion:         tls.VersionTLS12,
				InsecureSkipVerify: cfg.InsecureSkipVerify,
			})
		}
		return opts
	}
	return m
}

// BrokerURL builds the paho broker address from transport and TLS settings.
func BrokerURL(cfg config.MQTTConfig) string {
	var scheme string
	switch {
	case cfg.Transport == "websockets" && cfg.TLS:
		scheme = "wss"
	case cfg.Transport == "websockets":
		scheme = "ws"
	case cfg.TLS:
		scheme = "ssl"
	default:
		scheme = "tcp"
	}
	u := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
	if cfg.Transport == "websockets" {
		path := cfg.Path
		if path == "" {
			path = "/mqtt"
		}
		u += "/" + strings.TrimLeft(path, "/")
	}
	return u
}

func (m *MQTTOutput) Publish(ctx context.Context, ms sensor.Measurement) error {
	payload, err := json.Marshal(ms)
	if err != nil {
		return fmt.Errorf("mqtt encode: %w", err)
	}
	client := m.newClient(m.opts())
	if err := wait(ctx, client.Connect(), m.timeout); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect %s: %w", m.broker, err)
	}
	defer client.Disconnect(disconnectQuiet)

	if err := wait(ctx, client.Publish(m.topic, m.qos, false, payload), m.timeout); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.topic, err)
	}
	return nil
}

func (m *MQTTOutput) Close() error { return nil }

// wait blocks until the token completes, the context ends or the timeout
// passes, whichever comes first.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("no acknowledgement after %s", timeout)
	}
}
