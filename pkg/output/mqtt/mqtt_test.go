package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ericogr/weather-station/pkg/config"
	"github.com/ericogr/weather-station/pkg/sensor"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeClient struct {
	mqtt.Client
	opts         *mqtt.ClientOptions
	connectTok   mqtt.Token
	publishTok   mqtt.Token
	topic        string
	qos          byte
	payload      []byte
	disconnected bool
}

func (c *fakeClient) Connect() mqtt.Token { return c.connectTok }
func (c *fakeClient) Disconnect(uint)     { c.disconnected = true }
func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.topic, c.qos = topic, qos
	c.payload, _ = payload.([]byte)
	return c.publishTok
}

func newTestOutput(cfg config.MQTTConfig, c *fakeClient) *MQTTOutput {
	o := NewMQTT(cfg).(*MQTTOutput)
	o.newClient = func(opts *mqtt.ClientOptions) mqtt.Client {
		c.opts = opts
		return c
	}
	return o
}

func sample() sensor.Measurement {
	m := sensor.Measurement{Timestamp: 1234567890}
	m.Set(sensor.FieldTemperatureCelsius, sensor.Value(25))
	return m
}

func TestBrokerURL(t *testing.T) {
	tests := []struct {
		cfg  config.MQTTConfig
		want string
	}{
		{config.MQTTConfig{Host: "broker", Port: 1883}, "tcp://broker:1883"},
		{config.MQTTConfig{Host: "broker", Port: 8883, TLS: true}, "ssl://broker:8883"},
		{config.MQTTConfig{Host: "broker", Port: 80, Transport: "websockets"}, "ws://broker:80/mqtt"},
		{config.MQTTConfig{Host: "broker", Port: 443, Transport: "websockets", TLS: true, Path: "/ws"}, "wss://broker:443/ws"},
	}
	for _, tt := range tests {
		if got := BrokerURL(tt.cfg); got != tt.want {
			t.Fatalf("BrokerURL(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestPublishSendsJSON(t *testing.T) {
	c := &fakeClient{connectTok: doneToken(nil), publishTok: doneToken(nil)}
	o := newTestOutput(config.MQTTConfig{
		Host: "broker", Port: 1883, Topic: "weather/data", QoS: 1,
		Username: "u", Password: "p", ClientID: "station-1",
	}, c)

	if err := o.Publish(context.Background(), sample()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if c.topic != "weather/data" || c.qos != 1 {
		t.Fatalf("topic=%q qos=%d", c.topic, c.qos)
	}
	want := `{"timestamp":1234567890,"temperature_celsius":25}`
	if string(c.payload) != want {
		t.Fatalf("payload %s, want %s", c.payload, want)
	}
	if !c.disconnected {
		t.Fatalf("connection left open")
	}
	if c.opts.Username != "u" || c.opts.Password != "p" || c.opts.ClientID != "station-1" {
		t.Fatalf("options not applied: %+v", c.opts)
	}
	if len(c.opts.Servers) != 1 || c.opts.Servers[0].String() != "tcp://broker:1883" {
		t.Fatalf("servers: %v", c.opts.Servers)
	}
}

func TestPublishConnectFailure(t *testing.T) {
	c := &fakeClient{connectTok: doneToken(errors.New("not authorized"))}
	o := newTestOutput(config.MQTTConfig{Host: "broker", Port: 1883, Topic: "t"}, c)

	err := o.Publish(context.Background(), sample())
	if err == nil || !strings.Contains(err.Error(), "not authorized") {
		t.Fatalf("got %v", err)
	}
	if c.payload != nil {
		t.Fatalf("publish attempted after failed connect")
	}
}

func TestPublishMissingAck(t *testing.T) {
	c := &fakeClient{connectTok: doneToken(nil), publishTok: pendingToken()}
	o := newTestOutput(config.MQTTConfig{Host: "broker", Port: 1883, Topic: "t", QoS: 1}, c)
	o.timeout = 20 * time.Millisecond

	err := o.Publish(context.Background(), sample())
	if err == nil || !strings.Contains(err.Error(), "no acknowledgement") {
		t.Fatalf("got %v", err)
	}
	if !c.disconnected {
		t.Fatalf("connection left open")
	}
}

func TestPublishHonoursContext(t *testing.T) {
	c := &fakeClient{connectTok: pendingToken()}
	o := newTestOutput(config.MQTTConfig{Host: "broker", Port: 1883, Topic: "t"}, c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := o.Publish(ctx, sample()); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v", err)
	}
	if !c.disconnected {
		t.Fatalf("client left connecting after cancellation")
	}
}

func TestPublishConnectTimeout(t *testing.T) {
	c := &fakeClient{connectTok: pendingToken()}
	o := newTestOutput(config.MQTTConfig{Host: "broker", Port: 1883, Topic: "t"}, c)
	o.timeout = 20 * time.Millisecond

	err := o.Publish(context.Background(), sample())
	if err == nil || !strings.Contains(err.Error(), "mqtt connect") {
		t.Fatalf("got %v", err)
	}
	if !c.disconnected {
		t.Fatalf("client left connecting after timeout")
	}
}

func TestTLSOptions(t *testing.T) {
	c := &fakeClient{connectTok: doneToken(nil), publishTok: doneToken(nil)}
	o := newTestOutput(config.MQTTConfig{Host: "broker", Port: 8883, TLS: true, InsecureSkipVerify: true, Topic: "t"}, c)
	if err := o.Publish(context.Background(), sample()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if c.opts.TLSConfig == nil || !c.opts.TLSConfig.InsecureSkipVerify {
		t.Fatalf("tls config: %+v", c.opts.TLSConfig)
	}
}
