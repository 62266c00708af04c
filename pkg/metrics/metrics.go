// Package metrics exposes label-map helpers over a Prometheus registry.
// Metric families are created on first use; the label names seen on the
// first call are fixed for that family.
package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aequa"

type family struct {
	labels  []string
	counter *prometheus.CounterVec
	gauge   *prometheus.GaugeVec
	summary *prometheus.SummaryVec
}

var (
	mu       sync.Mutex
	reg      = newRegistry()
	families = map[string]*family{}
)

func newRegistry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return r
}

// Reset drops all families and installs a fresh registry. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	reg = newRegistry()
	families = map[string]*family{}
}

// Registry returns the registry backing all families.
func Registry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

func labelNames(labels map[string]string) []string {
	out := make([]string, 0, len(labels))
	for k := range labels {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func values(names []string, labels map[string]string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = labels[n]
	}
	return out
}

func get(name string, labels map[string]string, mk func(names []string) *family) ([]string, *family) {
	mu.Lock()
	defer mu.Unlock()
	f, ok := families[name]
	if !ok {
		f = mk(labelNames(labels))
		families[name] = f
	}
	return values(f.labels, labels), f
}

// Inc increments the counter name{labels} by one.
func Inc(name string, labels map[string]string) {
	vals, f := get(name, labels, func(names []string) *family {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: name}, names)
		reg.MustRegister(v)
		return &family{labels: names, counter: v}
	})
	if f.counter != nil {
		f.counter.WithLabelValues(vals...).Inc()
	}
}

// AddGauge adds delta to the gauge name{labels}.
func AddGauge(name string, labels map[string]string, delta float64) {
	vals, f := gaugeFamily(name, labels)
	if f.gauge != nil {
		f.gauge.WithLabelValues(vals...).Add(delta)
	}
}

// SetGauge sets the gauge name{labels} to v.
func SetGauge(name string, labels map[string]string, v float64) {
	vals, f := gaugeFamily(name, labels)
	if f.gauge != nil {
		f.gauge.WithLabelValues(vals...).Set(v)
	}
}

func gaugeFamily(name string, labels map[string]string) ([]string, *family) {
	return get(name, labels, func(names []string) *family {
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: name}, names)
		reg.MustRegister(v)
		return &family{labels: names, gauge: v}
	})
}

// ObserveSummary records v into the summary name{labels}.
func ObserveSummary(name string, labels map[string]string, v float64) {
	vals, f := get(name, labels, func(names []string) *family {
		v := prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       name,
			Help:       name,
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, names)
		reg.MustRegister(v)
		return &family{labels: names, summary: v}
	})
	if f.summary != nil {
		f.summary.WithLabelValues(vals...).Observe(v)
	}
}
