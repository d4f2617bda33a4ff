package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/watt-toolkit/spark/pkg/spark/memory"
)

const namespace = "spark"

// metrics are created unregistered when the config has no Registerer, so
// every code path can update them unconditionally.
type metrics struct {
	connections   prometheus.Counter
	active        prometheus.Gauge
	outOfMemory   prometheus.Counter
	requests      *prometheus.CounterVec
	decodeErrors  *prometheus.CounterVec
	bytesRead     prometheus.Counter
	bytesWritten  prometheus.Counter
	arenaBytes    prometheus.Histogram
	arenaChunks   prometheus.Gauge
	handlerPanics prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		connections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Number of open connections",
		}),
		outOfMemory: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections_out_of_memory_total",
			Help:      "Connections closed for exceeding their memory budget",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of answered requests",
		}, []string{"method", "code"}),
		decodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "decode_errors_total",
			Help:      "Requests rejected by the decoder, by error kind",
		}, []string{"kind"}),
		bytesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "read_bytes_total",
			Help:      "Bytes read from connections",
		}),
		bytesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "written_bytes_total",
			Help:      "Bytes written to connections",
		}),
		arenaBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "arena_request_bytes",
			Help:      "Arena bytes in use when a request completes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		arenaChunks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "memory",
			Name:      "arena_chunks",
			Help:      "Arena chunks retained by open connections",
		}),
		handlerPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "handler_panics_total",
			Help:      "Handler panics answered with 500",
		}),
	}
}

// heapCollector exports the counters of a PoolHeap at scrape time.
type heapCollector struct {
	heap *memory.PoolHeap

	gets     *prometheus.Desc
	puts     *prometheus.Desc
	hits     *prometheus.Desc
	misses   *prometheus.Desc
	large    *prometheus.Desc
	discards *prometheus.Desc
}

func newHeapCollector(heap *memory.PoolHeap) *heapCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "heap", name), help, labels, nil)
	}
	return &heapCollector{
		heap:     heap,
		gets:     desc("gets_total", "Buffers requested from a size class", "class"),
		puts:     desc("puts_total", "Buffers returned to a size class", "class"),
		hits:     desc("hits_total", "Requests served by a pooled buffer", "class"),
		misses:   desc("misses_total", "Requests that allocated a new buffer", "class"),
		large:    desc("large_allocations_total", "Allocations above the largest size class"),
		discards: desc("discards_total", "Freed buffers that matched no size class"),
	}
}

func (c *heapCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.gets
	ch <- c.puts
	ch <- c.hits
	ch <- c.misses
	ch <- c.large
	ch <- c.discards
}

func (c *heapCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.heap.Stats()
	for _, cl := range st.Classes {
		class := strconv.Itoa(cl.Size)
		ch <- prometheus.MustNewConstMetric(c.gets, prometheus.CounterValue, float64(cl.Gets), class)
		ch <- prometheus.MustNewConstMetric(c.puts, prometheus.CounterValue, float64(cl.Puts), class)
		ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(cl.Hits), class)
		ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(cl.Misses), class)
	}
	ch <- prometheus.MustNewConstMetric(c.large, prometheus.CounterValue, float64(st.Large))
	ch <- prometheus.MustNewConstMetric(c.discards, prometheus.CounterValue, float64(st.Discards))
}
