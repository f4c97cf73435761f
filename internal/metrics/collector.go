package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes a Snapshot source as Prometheus metrics.
// Values are read on scrape; nothing is pushed.
type Collector struct {
	src func() Snapshot

	received  *prometheus.Desc
	enqueued  *prometheus.Desc
	processed *prometheus.Desc
	filtered  *prometheus.Desc
	debounced *prometheus.Desc
	bursting  *prometheus.Desc
	evicted   *prometheus.Desc
	errors    *prometheus.Desc
	avg       *prometheus.Desc
	refused   *prometheus.Desc
	queueLen  *prometheus.Desc
	queueLenF func() int
}

// NewCollector builds a collector over src. queueLen may be nil.
func NewCollector(src func() Snapshot, queueLen func() int) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("uiroute_"+name, help, []string{"type"}, nil)
	}
	return &Collector{
		src:       src,
		received:  desc("notifications_received_total", "Notifications delivered by the source."),
		enqueued:  desc("notifications_enqueued_total", "Notifications admitted into the dispatch queue."),
		processed: desc("notifications_processed_total", "Notifications dispatched to consumers."),
		filtered:  desc("notifications_filtered_total", "Notifications rejected by admission rules."),
		debounced: desc("notifications_debounced_total", "Notifications suppressed by debounce."),
		bursting:  desc("notifications_burst_suppressed_total", "Notifications suppressed by burst detection."),
		evicted:   desc("notifications_evicted_total", "Queued notifications evicted on overflow."),
		errors:    desc("consumer_errors_total", "Consumer failures and timeouts."),
		avg:       desc("dispatch_duration_avg_seconds", "Rolling average dispatch duration."),
		refused:   prometheus.NewDesc("uiroute_notifications_refused_total", "Notifications refused while the pipeline was not accepting.", nil, nil),
		queueLen:  prometheus.NewDesc("uiroute_queue_length", "Current dispatch queue length.", nil, nil),
		queueLenF: queueLen,
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.received, c.enqueued, c.processed, c.filtered, c.debounced,
		c.bursting, c.evicted, c.errors, c.avg, c.refused, c.queueLen,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.src()
	for _, tc := range snap.Types {
		lbl := tc.Type.String()
		ch <- prometheus.MustNewConstMetric(c.received, prometheus.CounterValue, float64(tc.Received), lbl)
		ch <- prometheus.MustNewConstMetric(c.enqueued, prometheus.CounterValue, float64(tc.Enqueued), lbl)
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(tc.Processed), lbl)
		ch <- prometheus.MustNewConstMetric(c.filtered, prometheus.CounterValue, float64(tc.Filtered), lbl)
		ch <- prometheus.MustNewConstMetric(c.debounced, prometheus.CounterValue, float64(tc.Debounced), lbl)
		ch <- prometheus.MustNewConstMetric(c.bursting, prometheus.CounterValue, float64(tc.Bursting), lbl)
		ch <- prometheus.MustNewConstMetric(c.evicted, prometheus.CounterValue, float64(tc.Evicted), lbl)
		ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(tc.Errors), lbl)
		ch <- prometheus.MustNewConstMetric(c.avg, prometheus.GaugeValue, tc.AvgDuration.Seconds(), lbl)
	}
	ch <- prometheus.MustNewConstMetric(c.refused, prometheus.CounterValue, float64(snap.Refused))
	if c.queueLenF != nil {
		ch <- prometheus.MustNewConstMetric(c.queueLen, prometheus.GaugeValue, float64(c.queueLenF()))
	}
}
