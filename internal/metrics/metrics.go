// Package metrics exports engine counters to Prometheus and serves a status endpoint.
package metrics

import (
	"errors"

	"github.com/RoanBrand/minimq/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "minimq"

// Engine implements client.Metrics.
type Engine struct {
	reg *prometheus.Registry

	sent      *prometheus.CounterVec
	sentBytes prometheus.Counter
	received  *prometheus.CounterVec
	timeouts  prometheus.Counter
	errors    *prometheus.CounterVec
	connects  prometheus.Counter
	connected prometheus.Gauge
}

func New() *Engine {
	e := Engine{
		reg: prometheus.NewRegistry(),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
			Help: "Frames written to the transport, by control type.",
		}, []string{"type"}),
		sentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sent_bytes_total",
			Help: "Bytes written to the transport.",
		}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
			Help: "Frames received from the broker, by control type.",
		}, []string{"type"}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "response_timeouts_total",
			Help: "Requests resent because the broker did not answer in time.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Engine errors, by error.",
		}, []string{"error"}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connects_total",
			Help: "Completed connect and subscribe sequences.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected",
			Help: "1 while the startup sequence is complete.",
		}),
	}

	e.reg.MustRegister(collectors.NewGoCollector())
	e.reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.reg.MustRegister(e.sent, e.sentBytes, e.received, e.timeouts, e.errors, e.connects, e.connected)
	return &e
}

// Registry is where extra collectors go.
func (e *Engine) Registry() *prometheus.Registry {
	return e.reg
}

func (e *Engine) FrameSent(t model.ControlType, n int) {
	e.sent.WithLabelValues(t.String()).Inc()
	e.sentBytes.Add(float64(n))
}

func (e *Engine) FrameReceived(t model.ControlType) {
	e.received.WithLabelValues(t.String()).Inc()
}

func (e *Engine) ResponseTimeout() {
	e.timeouts.Inc()
}

func (e *Engine) EngineError(err error) {
	label := "transport"
	var me model.Error
	if errors.As(err, &me) {
		label = me.Error()
	}
	e.errors.WithLabelValues(label).Inc()
}

// Connected tracks the connection state.
func (e *Engine) Connected(up bool) {
	if up {
		e.connects.Inc()
		e.connected.Set(1)
	} else {
		e.connected.Set(0)
	}
}

// OutputsCollector reports output states on scrape.
type OutputsCollector struct {
	outputs func() []bool
	desc    *prometheus.Desc
}

func NewOutputsCollector(outputs func() []bool) *OutputsCollector {
	return &OutputsCollector{
		outputs: outputs,
		desc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "device", "output_on"),
			"Output state (1 = on)",
			[]string{"output"}, nil,
		),
	}
}

func (c *OutputsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *OutputsCollector) Collect(ch chan<- prometheus.Metric) {
	for i, on := range c.outputs() {
		v := 0.0
		if on {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, v, outputLabel(i))
	}
}

func outputLabel(i int) string {
	return string([]byte{'0' + byte((i+1)/10), '0' + byte((i+1)%10)})
}
