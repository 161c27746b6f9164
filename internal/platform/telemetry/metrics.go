package telemetry

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/clinicflow/waitroom/internal/platform/events"
)

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram stores non-cumulative bucket counts; cumulative counts are
// computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, updated with CAS
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// LabelsKey joins label values into a map key.
func LabelsKey(values ...string) string {
	return strings.Join(values, "|")
}

// Metrics collects HTTP and waiting-room metrics and serves them in the
// Prometheus text format.
type Metrics struct {
	mu             sync.RWMutex
	requests       map[string]*histogram // method|route|status
	queueEvents    map[string]int64      // clinic|type
	activeRequests int64
	queueLengths   func() map[string]int
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:    make(map[string]*histogram),
		queueEvents: make(map[string]int64),
	}
}

// SetQueueLengthSource registers the callback used to report queue sizes per
// clinic at scrape time.
func (m *Metrics) SetQueueLengthSource(fn func() map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueLengths = fn
}

func (m *Metrics) observeRequest(method, route, status string, seconds float64) {
	key := LabelsKey(method, route, status)
	m.mu.RLock()
	h, ok := m.requests[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.requests[key]; !ok {
			h = newHistogram(defaultDurationBuckets)
			m.requests[key] = h
		}
		m.mu.Unlock()
	}
	h.Observe(seconds)
}

// RequestHistogram returns the histogram for a label set, or nil.
func (m *Metrics) RequestHistogram(method, route, status string) *histogram {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[LabelsKey(method, route, status)]
}

// QueueEventCount returns how many events of a type were seen for a clinic.
func (m *Metrics) QueueEventCount(clinicID, eventType string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queueEvents[LabelsKey(clinicID, eventType)]
}

// Publish counts queue events; it is registered as an events sink.
func (m *Metrics) Publish(_ context.Context, ev events.Event) error {
	m.mu.Lock()
	m.queueEvents[LabelsKey(ev.ClinicID, ev.Type)]++
	m.mu.Unlock()
	return nil
}

// Middleware records request durations by matched route.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.activeRequests, 1)
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			atomic.AddInt64(&m.activeRequests, -1)
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.observeRequest(c.Request().Method, route, strconv.Itoa(c.Response().Status), time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves GET /metrics.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder
		m.write(&b)
		return c.String(http.StatusOK, b.String())
	}
}

func (m *Metrics) write(b *strings.Builder) {
	m.mu.RLock()
	requests := make(map[string]*histogram, len(m.requests))
	for k, v := range m.requests {
		requests[k] = v
	}
	queueEvents := make(map[string]int64, len(m.queueEvents))
	for k, v := range m.queueEvents {
		queueEvents[k] = v
	}
	lengths := m.queueLengths
	m.mu.RUnlock()

	const durName = "http_server_request_duration_seconds"
	fmt.Fprintf(b, "# HELP %s Duration of HTTP requests in seconds.\n", durName)
	fmt.Fprintf(b, "# TYPE %s histogram\n", durName)
	for _, key := range sortedKeys(requests) {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		writeHistogram(b, durName, labels, requests[key])
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.activeRequests))

	b.WriteString("# HELP waitroom_queue_events_total Queue events by clinic and type.\n")
	b.WriteString("# TYPE waitroom_queue_events_total counter\n")
	for _, key := range sortedKeys(queueEvents) {
		parts := strings.SplitN(key, "|", 2)
		fmt.Fprintf(b, "waitroom_queue_events_total{clinic=%q,type=%q} %d\n", parts[0], parts[1], queueEvents[key])
	}
	b.WriteByte('\n')

	if lengths != nil {
		b.WriteString("# HELP waitroom_queue_length Patients currently waiting, by clinic.\n")
		b.WriteString("# TYPE waitroom_queue_length gauge\n")
		byClinic := lengths()
		for _, clinic := range sortedKeys(byClinic) {
			fmt.Fprintf(b, "waitroom_queue_length{clinic=%q} %d\n", clinic, byClinic[clinic])
		}
		b.WriteByte('\n')
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
