package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDispatch(t *testing.T) {
	m := New()
	m.ObserveDispatch("api", "failed", time.Second)
	m.ObserveDispatch("api", "failed", time.Second)
	m.ObserveDispatch("mqtt", "skipped", 0)

	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("api", "failed")); got != 2 {
		t.Fatalf("api failed: %v", got)
	}
	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("mqtt", "skipped")); got != 1 {
		t.Fatalf("mqtt skipped: %v", got)
	}
	if n := testutil.CollectAndCount(m.DispatchDuration); n != 1 {
		t.Fatalf("duration series: %d", n)
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ObserveSensorFailure("sds011")
	m.ObserveCycle(2 * time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`weather_station_sensor_read_failures_total{sensor="sds011"} 1`,
		"weather_station_poll_cycles_total 1",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestRegistryGathersCycles(t *testing.T) {
	m := New()
	m.ObserveCycle(time.Second)
	m.ObserveCycle(time.Second)

	n, err := testutil.GatherAndCount(m.Registry(), "weather_station_poll_cycles_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 1 {
		t.Fatalf("poll cycle series: %d", n)
	}
}
