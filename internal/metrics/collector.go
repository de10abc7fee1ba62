// Package metrics is a small Prometheus-compatible collector. It renders
// the text exposition format directly, avoiding the client_golang
// dependency for a handful of counters.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = NewCollector()

type MetricsCollector struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks a value distribution over fixed buckets.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Counter returns or registers a counter. Labels are a pre-rendered
// Prometheus label string, e.g. `platform="sms"`.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[key]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	c.counters[key] = ctr
	return ctr
}

// Histogram returns or registers a histogram with the given bucket bounds.
func (c *MetricsCollector) Histogram(name, help string, bounds []float64) *Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[name]; ok {
		return h
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{name: name, help: help, bounds: sorted, buckets: make([]int64, len(sorted))}
	c.histograms[name] = h
	return h
}

// Handler renders all registered metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP ghostrider_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE ghostrider_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "ghostrider_uptime_seconds %d\n", int64(time.Since(c.startTime).Seconds()))

		c.mu.Lock()
		counters := make([]*Counter, 0, len(c.counters))
		for _, ctr := range c.counters {
			counters = append(counters, ctr)
		}
		histograms := make([]*Histogram, 0, len(c.histograms))
		for _, h := range c.histograms {
			histograms = append(histograms, h)
		}
		c.mu.Unlock()

		sort.Slice(counters, func(i, j int) bool {
			if counters[i].name != counters[j].name {
				return counters[i].name < counters[j].name
			}
			return counters[i].labels < counters[j].labels
		})

		helpWritten := make(map[string]bool)
		for _, ctr := range counters {
			if !helpWritten[ctr.name] {
				fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n", ctr.name, ctr.help, ctr.name)
				helpWritten[ctr.name] = true
			}
			if ctr.labels != "" {
				fmt.Fprintf(&sb, "%s{%s} %d\n", ctr.name, ctr.labels, ctr.Value())
			} else {
				fmt.Fprintf(&sb, "%s %d\n", ctr.name, ctr.Value())
			}
		}

		sort.Slice(histograms, func(i, j int) bool { return histograms[i].name < histograms[j].name })
		for _, h := range histograms {
			h.mu.Lock()
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
			for i, le := range h.bounds {
				fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, le, h.buckets[i])
			}
			fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_count %d\n", h.name, h.count)
			fmt.Fprintf(&sb, "%s_sum %f\n", h.name, h.sum)
			h.mu.Unlock()
		}

		fmt.Fprint(w, sb.String())
	}
}

// Metrics used across the application.
var (
	MessagesProcessed      = Collector.Counter("ghostrider_messages_processed_total", "Messages classified successfully", "")
	ClassificationFailures = Collector.Counter("ghostrider_classification_failures_total", "Messages that failed classification", "")
	BatchesReceived        = Collector.Counter("ghostrider_batches_received_total", "Message batches received from platform pollers", "")

	ClassifyLatency = Collector.Histogram("ghostrider_classification_latency_seconds",
		"Per-message classification latency in seconds",
		[]float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1})
)

// MessagesReceived returns the per-platform inbound message counter.
func MessagesReceived(platform string) *Counter {
	return Collector.Counter("ghostrider_messages_received_total",
		"Messages received from platforms",
		fmt.Sprintf("platform=%q", platform))
}
