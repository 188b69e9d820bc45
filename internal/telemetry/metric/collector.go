package metric

import "github.com/prometheus/client_golang/prometheus"

// StatsSource reports live ledger size. *service.Ledger satisfies it.
type StatsSource interface {
	Stats() (users, deposits int)
}

// Collector reports the live ledger size on each scrape.
type Collector struct {
	src StatsSource

	users    *prometheus.Desc
	deposits *prometheus.Desc
}

// NewCollector creates a collector reading from src.
func NewCollector(src StatsSource) *Collector {
	return &Collector{
		src: src,
		users: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "ledger", "users"),
			"Users currently held by the ledger.", nil, nil),
		deposits: prometheus.NewDesc(
			prometheus.BuildFQName(Namespace, "ledger", "deposits"),
			"Deposits currently held by the ledger, withdrawn included.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.users
	ch <- c.deposits
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	users, deposits := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.users, prometheus.GaugeValue, float64(users))
	ch <- prometheus.MustNewConstMetric(c.deposits, prometheus.GaugeValue, float64(deposits))
}
