package observability

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a Prometheus registry. Collectors
// are created lazily on first use; a metric name must always be recorded
// with the same set of tag keys.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates a collector backed by a fresh registry that
// also exports Go runtime and process metrics.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return &PrometheusMetrics{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry.
func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusMetrics) Counter(name string, value int64, tags ...Tag) {
	keys, labels := splitTags(tags)
	fq := promName(name)

	p.mu.Lock()
	vec, ok := p.counters[fq]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: fq, Help: name}, keys)
		vec = register(p.registry, vec)
		p.counters[fq] = vec
	}
	p.mu.Unlock()

	if c, err := vec.GetMetricWith(labels); err == nil {
		c.Add(float64(value))
	}
}

func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...Tag) {
	keys, labels := splitTags(tags)
	fq := promName(name)

	p.mu.Lock()
	vec, ok := p.gauges[fq]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: fq, Help: name}, keys)
		vec = register(p.registry, vec)
		p.gauges[fq] = vec
	}
	p.mu.Unlock()

	if g, err := vec.GetMetricWith(labels); err == nil {
		g.Set(value)
	}
}

func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...Tag) {
	p.observe(promName(name), name, value, tags)
}

// Timing records the duration in seconds under <name>_seconds.
func (p *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	p.observe(promName(name)+"_seconds", name, duration.Seconds(), tags)
}

func (p *PrometheusMetrics) observe(fq, help string, value float64, tags []Tag) {
	keys, labels := splitTags(tags)

	p.mu.Lock()
	vec, ok := p.histograms[fq]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fq,
			Help:    help,
			Buckets: prometheus.DefBuckets,
		}, keys)
		vec = register(p.registry, vec)
		p.histograms[fq] = vec
	}
	p.mu.Unlock()

	if h, err := vec.GetMetricWith(labels); err == nil {
		h.Observe(value)
	}
}

// register adds c to the registry, reusing an existing collector with the
// same descriptor.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func splitTags(tags []Tag) ([]string, prometheus.Labels) {
	labels := make(prometheus.Labels, len(tags))
	keys := make([]string, 0, len(tags))
	for _, t := range tags {
		k := promName(t.Key)
		if _, dup := labels[k]; !dup {
			keys = append(keys, k)
		}
		labels[k] = t.Value
	}
	sort.Strings(keys)
	return keys, labels
}

var promReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_", "/", "_")

func promName(name string) string {
	return promReplacer.Replace(name)
}
