package dia

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports a Client's counters and connectivity as Prometheus
// metrics. Register it with any prometheus.Registerer.
type Collector struct {
	client *Client

	requests      *prometheus.Desc
	attempts      *prometheus.Desc
	errors        *prometheus.Desc
	rotations     *prometheus.Desc
	substitutions *prometheus.Desc
	online        *prometheus.Desc
	endpointIndex *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reading from c. constLabels are
// attached to every metric.
func NewCollector(c *Client, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("dia", "client", name), help, nil, constLabels)
	}
	return &Collector{
		client:        c,
		requests:      desc("requests_total", "Total number of logical requests."),
		attempts:      desc("attempts_total", "Total number of attempts against single endpoints."),
		errors:        desc("errors_total", "Total number of failed attempts."),
		rotations:     desc("rotations_total", "Total number of times the current endpoint advanced."),
		substitutions: desc("substitutions_total", "Total number of answers served from substitute data."),
		online:        desc("online", "1 if the last request reached a real endpoint."),
		endpointIndex: desc("endpoint_index", "Position of the current endpoint in the candidate list."),
	}
}

func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- col.requests
	ch <- col.attempts
	ch <- col.errors
	ch <- col.rotations
	ch <- col.substitutions
	ch <- col.online
	ch <- col.endpointIndex
}

func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	s := col.client.Stats()
	ch <- prometheus.MustNewConstMetric(col.requests, prometheus.CounterValue, float64(s.TotalRequests))
	ch <- prometheus.MustNewConstMetric(col.attempts, prometheus.CounterValue, float64(s.TotalAttempts))
	ch <- prometheus.MustNewConstMetric(col.errors, prometheus.CounterValue, float64(s.TotalErrors))
	ch <- prometheus.MustNewConstMetric(col.rotations, prometheus.CounterValue, float64(s.Rotations))
	ch <- prometheus.MustNewConstMetric(col.substitutions, prometheus.CounterValue, float64(s.Substitutions))

	online := 0.0
	if col.client.Online() {
		online = 1
	}
	ch <- prometheus.MustNewConstMetric(col.online, prometheus.GaugeValue, online)
	ch <- prometheus.MustNewConstMetric(col.endpointIndex, prometheus.GaugeValue, float64(col.client.cursorIndex()))
}
