package queue

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/encoding/json"
	"github.com/streadway/amqp"

	"github.com/ericogr/weather-station/pkg/config"
	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/sensor"
)

const defaultTimeout = 10 * time.Second

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type connection interface {
	Channel() (channel, error)
	Close() error
}

type dialFunc func(url string, cfg amqp.Config) (connection, error)

type amqpConnection struct{ *amqp.Connection }

func (c amqpConnection) Channel() (channel, error) { return c.Connection.Channel() }

func dialAMQP(url string, cfg amqp.Config) (connection, error) {
	conn, err := amqp.DialConfig(url, cfg)
	if err != nil {
		return nil, err
	}
	return amqpConnection{conn}, nil
}

// QueueOutput sends each measurement as a persistent JSON message to a
// durable queue on the default exchange. The queue is declared on every
// send, which creates it on first use and is a lookup afterwards.
type QueueOutput struct {
	url     string
	queue   string
	timeout time.Duration
	tls     bool
	dial    dialFunc
}

func NewQueue(cfg config.QueueConfig) output.Output {
	url := cfg.URL
	if cfg.TLS && strings.HasPrefix(url, "amqp://") {
		url = "amqps://" + strings.TrimPrefix(url, "amqp://")
	}
	return &QueueOutput{
		url:     url,
		queue:   cfg.Queue,
		timeout: config.Seconds(cfg.TimeoutSeconds, defaultTimeout),
		tls:     cfg.TLS,
		dial:    dialAMQP,
	}
}

func (q *QueueOutput) Publish(ctx context.Context, m sensor.Measurement) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("queue encode: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// DefaultDial bounds the handshake as well as the TCP connect.
	amqpCfg := amqp.Config{Dial: amqp.DefaultDial(q.timeout)}
	if q.tls {
		amqpCfg.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	conn, err := q.dial(q.url, amqpCfg)
	if err != nil {
		return fmt.Errorf("queue dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("queue channel: %w", err)
	}
	defer ch.Close()

	queue, err := ch.QueueDeclare(
		q.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("queue declare %s: %w", q.queue, err)
	}

	err = ch.Publish("", queue.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    m.Time(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("queue publish %s: %w", queue.Name, err)
	}
	return nil
}

func (q *QueueOutput) Close() error { return nil }
