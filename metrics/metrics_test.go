package metrics

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegister(t *testing.T) {
	r := prometheus.NewRegistry()
	opts := prometheus.CounterOpts{Name: "dynschema_test_total", Help: "test"}

	a := Register(r, prometheus.NewCounter(opts))
	b := Register(r, prometheus.NewCounter(opts))
	a.Inc()
	b.Inc()
	assert.Equal(t, float64(2), testutil.ToFloat64(a))

	assert.Panics(t, func() {
		Register(r, prometheus.NewGauge(prometheus.GaugeOpts{Name: "dynschema_test_total", Help: "other"}))
	})
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "success", Status(nil))
	assert.Equal(t, "error", Status(errors.New("x")))
}
