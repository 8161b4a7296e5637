// Package metrics exposes Prometheus collectors for dispatch, publish and
// HTTP traffic.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "jobrelay"

// Collector implements middleware.MetricsCollector and
// core.PublishObserver.
type Collector struct {
	registry *prometheus.Registry

	processedTotal   *prometheus.CounterVec
	processedSeconds *prometheus.HistogramVec
	publishedTotal   *prometheus.CounterVec
	publishSeconds   *prometheus.HistogramVec
	httpRequests     *prometheus.CounterVec
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func newHistogramVec(subsystem, name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   prometheus.DefBuckets,
	}, labels)
}

// New creates a Collector registered on its own registry together with the
// Go runtime and process collectors.
func New() (*Collector, error) {
	c := &Collector{
		registry:         prometheus.NewRegistry(),
		processedTotal:   newCounterVec("dispatch", "messages_total", "Messages handled, by topic and outcome.", "topic", "outcome"),
		processedSeconds: newHistogramVec("dispatch", "handler_duration_seconds", "Handler execution time.", "topic"),
		publishedTotal:   newCounterVec("publish", "messages_total", "Messages published, by topic and outcome.", "topic", "outcome"),
		publishSeconds:   newHistogramVec("publish", "duration_seconds", "Time until the broker acknowledged a publish.", "topic"),
		httpRequests:     newCounterVec("http", "requests_total", "HTTP requests, by route and status code.", "route", "code"),
	}

	all := []prometheus.Collector{
		c.processedTotal,
		c.processedSeconds,
		c.publishedTotal,
		c.publishSeconds,
		c.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	var errs []error
	for _, col := range all {
		if err := c.registry.Register(col); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return c, nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// MessageProcessed records one handler invocation.
func (c *Collector) MessageProcessed(topic string, d time.Duration, err error) {
	c.processedTotal.WithLabelValues(topic, outcome(err)).Inc()
	c.processedSeconds.WithLabelValues(topic).Observe(d.Seconds())
}

// MessagePublished records one publish attempt.
func (c *Collector) MessagePublished(topic string, d time.Duration, err error) {
	c.publishedTotal.WithLabelValues(topic, outcome(err)).Inc()
	c.publishSeconds.WithLabelValues(topic).Observe(d.Seconds())
}

// HTTPRequest records one served HTTP request.
func (c *Collector) HTTPRequest(route string, code int) {
	c.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
