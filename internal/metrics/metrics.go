// Package metrics collects in-process counters, gauges and histograms for the
// commitment manager. A nil *Collector is valid and records nothing.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// Metric represents a single metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// maxSamples bounds the values kept per histogram.
const maxSamples = 1000

// Collector manages metrics collection
type Collector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

func New() *Collector {
	return &Collector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric
func (c *Collector) IncrementCounter(name string, labels map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	c.counters[key]++
	c.updateMetric(key, name, Counter, float64(c.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	c.gauges[key] = value
	c.updateMetric(key, name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram
func (c *Collector) RecordHistogram(name string, value float64, labels map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	values := append(c.histograms[key], value)
	if len(values) > maxSamples {
		values = values[len(values)-maxSamples:]
	}
	c.histograms[key] = values
	c.updateMetric(key, name, Histogram, value, labels)
}

// Counter returns the current value of a counter.
func (c *Collector) Counter(name string, labels map[string]string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[makeKey(name, labels)]
}

// GetMetric retrieves a metric by name and labels
func (c *Collector) GetMetric(name string, labels map[string]string) *Metric {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metrics[makeKey(name, labels)]
}

// GetAllMetrics returns all collected metrics sorted by key
func (c *Collector) GetAllMetrics() []*Metric {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.metrics))
	for k := range c.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.metrics[k])
	}
	return out
}

// HistogramSummary aggregates the retained samples of one histogram.
type HistogramSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
}

// Summary is a point-in-time view of every metric.
type Summary struct {
	Counters   map[string]int64            `json:"counters"`
	Gauges     map[string]float64          `json:"gauges"`
	Histograms map[string]HistogramSummary `json:"histograms"`
}

// GetMetricsSummary returns a summary of all metrics
func (c *Collector) GetMetricsSummary() Summary {
	s := Summary{
		Counters:   make(map[string]int64),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string]HistogramSummary),
	}
	if c == nil {
		return s
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	for key, v := range c.counters {
		s.Counters[key] = v
	}
	for key, v := range c.gauges {
		s.Gauges[key] = v
	}
	for key, values := range c.histograms {
		if len(values) == 0 {
			continue
		}
		h := HistogramSummary{Count: len(values), Min: values[0], Max: values[0]}
		for _, v := range values {
			h.Min = min(h.Min, v)
			h.Max = max(h.Max, v)
			h.Sum += v
		}
		h.Avg = h.Sum / float64(h.Count)
		s.Histograms[key] = h
	}
	return s
}

// Reset resets all metrics
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = make(map[string]*Metric)
	c.counters = make(map[string]int64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string][]float64)
}

// makeKey creates a deterministic key for a metric name and labels
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("_")
		b.WriteString(k)
		b.WriteString("_")
		b.WriteString(labels[k])
	}
	return b.String()
}

func (c *Collector) updateMetric(key, name string, metricType MetricType, value float64, labels map[string]string) {
	c.metrics[key] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    labels,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricFastPathHits       = "send_fast_path_hits"
	MetricSlowPathFallbacks  = "send_slow_path_fallbacks"
	MetricCommitmentMismatch = "commitment_mismatch_count"
	MetricPendingRejections  = "pending_confirmation_rejections"
	MetricMergeSignals       = "merge_signals"
	MetricActiveCommitments  = "active_commitments"
	MetricActivationTime     = "activation_time"
	MetricAwaitTime          = "await_insertion_time"
	MetricAwaitResolved      = "await_insertion_resolved"
	MetricErrorCount         = "error_count"
)

func tokenLabel(token string) map[string]string {
	return map[string]string{"token": token}
}

// Convenience methods for common metrics
func (c *Collector) RecordFastPath(token string) {
	c.IncrementCounter(MetricFastPathHits, tokenLabel(token))
}

func (c *Collector) RecordSlowPath(token string) {
	c.IncrementCounter(MetricSlowPathFallbacks, tokenLabel(token))
}

func (c *Collector) RecordMismatch(token string) {
	c.IncrementCounter(MetricCommitmentMismatch, tokenLabel(token))
}

func (c *Collector) RecordPendingRejection(token string) {
	c.IncrementCounter(MetricPendingRejections, tokenLabel(token))
}

func (c *Collector) RecordMergeSignal() {
	c.IncrementCounter(MetricMergeSignals, nil)
}

func (c *Collector) RecordActivation(token string, count int, duration time.Duration) {
	c.SetGauge(MetricActiveCommitments, float64(count), tokenLabel(token))
	c.RecordHistogram(MetricActivationTime, duration.Seconds(), nil)
}

func (c *Collector) RecordAwait(found bool, duration time.Duration) {
	result := "found"
	if !found {
		result = "not_found"
	}
	c.IncrementCounter(MetricAwaitResolved, map[string]string{"result": result})
	c.RecordHistogram(MetricAwaitTime, duration.Seconds(), nil)
}

func (c *Collector) RecordError(errorType string) {
	c.IncrementCounter(MetricErrorCount, map[string]string{"type": errorType})
}
