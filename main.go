package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ericogr/weather-station/pkg/config"
	"github.com/ericogr/weather-station/pkg/hardware"
	"github.com/ericogr/weather-station/pkg/logging"
	"github.com/ericogr/weather-station/pkg/metrics"
	"github.com/ericogr/weather-station/pkg/output"
	"github.com/ericogr/weather-station/pkg/output/api"
	"github.com/ericogr/weather-station/pkg/output/community"
	"github.com/ericogr/weather-station/pkg/output/console"
	"github.com/ericogr/weather-station/pkg/output/influx"
	"github.com/ericogr/weather-station/pkg/output/mqtt"
	"github.com/ericogr/weather-station/pkg/output/queue"
	"github.com/ericogr/weather-station/pkg/output/sqldb"
	"github.com/ericogr/weather-station/pkg/poller"
	"github.com/ericogr/weather-station/pkg/sensor"
)

const defaultDispatchTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Errorw("station stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.SugaredLogger) error {
	info, err := hardware.Detect(hardware.CPUInfoPath)
	if err != nil {
		logger.Warnw("hardware detection failed", "error", err)
	} else {
		logger.Infow("hardware", "model", info.Model, "family", info.Family, "revision", info.Revision, "arch", info.Arch)
	}

	sensors := initSensors(cfg, logger.Named("sensor"))
	defer func() {
		for _, s := range sensors {
			if err := s.Close(); err != nil {
				logger.Warnw("sensor close failed", "sensor", s.Name(), "error", err)
			}
		}
	}()
	if len(sensors) == 0 {
		logger.Warnw("no sensors available, measurements will only carry a timestamp")
	}

	m := metrics.New()
	influxClient := influx.NewClient(cfg.Influx, logger.Named("influx"))
	defer func() { _ = influxClient.Close() }()

	entries := initOutputs(cfg, influxClient, logger)
	dispatcher, err := buildDispatcher(cfg, entries, console.NewConsole(), logger.Named("dispatch"), m)
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warnw("closing outputs", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsListen != "" {
		srv := startMetrics(cfg.MetricsListen, m, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	poller.New(sensors, dispatcher, cfg.Interval(),
		poller.WithLogger(logger.Named("poller")),
		poller.WithObserver(m),
	).Run(ctx)
	return nil
}

// initSensors builds the configured sensors. A sensor that fails to
// initialise is left out with a warning.
func initSensors(cfg config.Config, logger *zap.SugaredLogger) []sensor.Sensor {
	var out []sensor.Sensor
	seed := time.Now().UnixNano()

	climate := cfg.Sensors.Climate
	switch climate.Type {
	case "bme280":
		s, err := sensor.NewBME280Sensor(sensor.BME280Options{Bus: climate.I2CBus, Address: uint16(climate.I2CAddress)})
		if err != nil {
			logger.Warnw("climate sensor unavailable", "sensor", climate.Type, "error", err)
			break
		}
		out = append(out, s)
	case "fake":
		out = append(out, sensor.NewFakeClimate(seed))
	}

	air := cfg.Sensors.AirQuality
	switch air.Type {
	case "sds011":
		s, err := sensor.NewSDS011Sensor(sensor.SDS011Options{
			Port:              air.SerialPort,
			BaudRate:          uint(air.BaudRate),
			WorkPeriodMinutes: air.WorkPeriodMinutes,
		})
		if err != nil {
			logger.Warnw("air quality sensor unavailable", "sensor", air.Type, "error", err)
			break
		}
		out = append(out, s)
	case "fake":
		out = append(out, sensor.NewFakeAirQuality(seed+1))
	}

	for _, s := range out {
		logger.Infow("sensor ready", "sensor", s.Name(), "role", s.Role().String())
	}
	return out
}

// initOutputs returns one entry per networked sink in dispatch order.
// Outputs are only constructed for enabled sinks.
func initOutputs(cfg config.Config, influxClient *influx.Client, logger *zap.SugaredLogger) []output.Entry {
	sinks := []struct {
		name    string
		enabled bool
		build   func() output.Output
	}{
		{"api", cfg.API.Enabled, func() output.Output { return api.NewAPI(cfg.API) }},
		{"mqtt", cfg.MQTT.Enabled, func() output.Output { return mqtt.NewMQTT(cfg.MQTT) }},
		{"queue", cfg.Queue.Enabled, func() output.Output { return queue.NewQueue(cfg.Queue) }},
		{"sql", cfg.SQL.Enabled, func() output.Output { return sqldb.NewSQL(cfg.SQL) }},
		{"influx", cfg.Influx.Enabled, func() output.Output { return influx.NewInflux(influxClient, cfg.Influx.Measurement) }},
		{"community", cfg.Community.Enabled, func() output.Output {
			return community.NewCommunity(cfg.Community, logger.Named("community"))
		}},
	}

	breaker := cfg.Dispatch.Breaker
	entries := make([]output.Entry, 0, len(sinks))
	for _, s := range sinks {
		e := output.Entry{Name: s.name, Enabled: s.enabled}
		if s.enabled {
			e.Output = s.build()
			if breaker.Enabled {
				e.Output = output.WithBreaker(s.name, e.Output, output.BreakerSettings{
					Failures: uint32(breaker.Failures),
					OpenFor:  config.Seconds(breaker.OpenSeconds, 5*time.Minute),
					Logger:   logger.Named("breaker"),
				})
			}
			logger.Infow("sink enabled", "sink", s.name)
		}
		entries = append(entries, e)
	}
	return entries
}

func buildDispatcher(cfg config.Config, entries []output.Entry, con output.Output, logger *zap.SugaredLogger, obs output.Observer) (*output.Dispatcher, error) {
	opts := []output.Option{
		output.WithTimeout(config.Seconds(cfg.Dispatch.TimeoutSeconds, defaultDispatchTimeout)),
		output.WithLogger(logger),
	}
	if obs != nil {
		opts = append(opts, output.WithObserver(obs))
	}
	if !cfg.Dispatch.Parallel {
		opts = append(opts, output.WithSequential())
	}
	return output.NewDispatcher(entries, con, opts...)
}

func startMetrics(addr string, m *metrics.Metrics, logger *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Infow("serving metrics", "addr", addr)
	return srv
}
