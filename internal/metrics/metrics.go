package metrics

import (
	"sync"
	"time"
)

// MetricsCollector provides a centralized way to collect and retrieve metrics
type MetricsCollector struct {
	mutex               sync.RWMutex
	counters            map[string]int64
	gauges              map[string]float64
	latencies           map[string][]time.Duration
	startTime           time.Time
	maxHistogramSamples int
}

// Counter metrics
const (
	CounterHTTPRequests       = "http_requests_total"
	CounterHTTPRequestsError  = "http_requests_error_total"
	CounterLedgerPosts        = "ledger_posts_total"
	CounterLedgerPostsFailed  = "ledger_posts_failed_total"
	CounterLedgerLinesSkipped = "ledger_lines_skipped_total"
	CounterBatchesCreated     = "batches_created_total"
	CounterBatchesCompleted   = "batches_completed_total"
	CounterBatchesArchived    = "batches_archived_total"
	CounterOverlaysBaked      = "overlays_baked_total"
	CounterMessagesSent       = "messages_sent_total"
	CounterMessagesError      = "messages_error_total"
	CounterErrorsTotal        = "errors_total"
)

// Gauge metrics
const (
	GaugeActiveBatches = "active_batches"
)

// Batch operation types
const (
	BatchOperationCreate   = "create"
	BatchOperationUpdate   = "update"
	BatchOperationComplete = "complete"
	BatchOperationArchive  = "archive"
)

// Error types
const (
	ErrorTypeDatabase   = "database"
	ErrorTypeValidation = "validation"
	ErrorTypeCollabor   = "collaborator"
	ErrorTypeInternal   = "internal"
)

var (
	collector     *MetricsCollector
	collectorOnce sync.Once
)

// GetMetricsCollector returns the singleton metrics collector
func GetMetricsCollector() *MetricsCollector {
	collectorOnce.Do(func() {
		collector = &MetricsCollector{
			counters:            make(map[string]int64),
			gauges:              make(map[string]float64),
			latencies:           make(map[string][]time.Duration),
			startTime:           time.Now(),
			maxHistogramSamples: 1000,
		}
	})
	return collector
}

func (c *MetricsCollector) inc(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counters[name]++
}

func (c *MetricsCollector) observe(name string, d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	samples := c.latencies[name]
	if len(samples) >= c.maxHistogramSamples {
		samples = samples[1:]
	}
	c.latencies[name] = append(samples, d)
}

// RecordHTTPRequest records an HTTP request with its outcome
func (c *MetricsCollector) RecordHTTPRequest(status int, duration time.Duration) {
	c.inc(CounterHTTPRequests)
	if status >= 500 {
		c.inc(CounterHTTPRequestsError)
	}
	c.observe("http_request", duration)
}

// RecordLedgerPost records a ledger posting
func (c *MetricsCollector) RecordLedgerPost(success bool, duration time.Duration) {
	if success {
		c.inc(CounterLedgerPosts)
	} else {
		c.inc(CounterLedgerPostsFailed)
	}
	c.observe("ledger_post", duration)
}

// RecordSkippedLine records a ledger line skipped for a missing item
func (c *MetricsCollector) RecordSkippedLine() {
	c.inc(CounterLedgerLinesSkipped)
}

// RecordBatchOperation records a batch engine operation
func (c *MetricsCollector) RecordBatchOperation(op string, duration time.Duration) {
	switch op {
	case BatchOperationCreate:
		c.inc(CounterBatchesCreated)
	case BatchOperationComplete:
		c.inc(CounterBatchesCompleted)
	case BatchOperationArchive:
		c.inc(CounterBatchesArchived)
	}
	c.observe("batch_"+op, duration)
}

// RecordOverlayBaked records a successful overlay bake
func (c *MetricsCollector) RecordOverlayBaked() {
	c.inc(CounterOverlaysBaked)
}

// RecordMessageBusOperation records a message bus send
func (c *MetricsCollector) RecordMessageBusOperation(success bool, duration time.Duration) {
	if success {
		c.inc(CounterMessagesSent)
	} else {
		c.inc(CounterMessagesError)
	}
	c.observe("messagebus_send", duration)
}

// RecordError records an error by type
func (c *MetricsCollector) RecordError(errorType string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counters[CounterErrorsTotal]++
	c.counters["errors_"+errorType+"_total"]++
}

// SetActiveBatches sets the active batches gauge
func (c *MetricsCollector) SetActiveBatches(count int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.gauges[GaugeActiveBatches] = float64(count)
}

// Snapshot returns a point-in-time view of all metrics
func (c *MetricsCollector) Snapshot() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	gauges := make(map[string]float64, len(c.gauges))
	for k, v := range c.gauges {
		gauges[k] = v
	}

	timers := make(map[string]map[string]interface{}, len(c.latencies))
	for name, samples := range c.latencies {
		if len(samples) == 0 {
			continue
		}
		var total time.Duration
		min, max := samples[0], samples[0]
		for _, s := range samples {
			total += s
			if s < min {
				min = s
			}
			if s > max {
				max = s
			}
		}
		timers[name] = map[string]interface{}{
			"count":  len(samples),
			"avg_ms": float64(total.Milliseconds()) / float64(len(samples)),
			"min_ms": min.Milliseconds(),
			"max_ms": max.Milliseconds(),
		}
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.startTime).Seconds(),
		"counters":       counters,
		"gauges":         gauges,
		"timers":         timers,
	}
}
