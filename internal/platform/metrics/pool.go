package metrics

import "github.com/prometheus/client_golang/prometheus"

// PoolStat is the subset of pgxpool.Stat the pool collector reads.
type PoolStat interface {
	TotalConns() int32
	IdleConns() int32
	AcquiredConns() int32
	MaxConns() int32
}

// PoolCollector reports db_pool_connections{state}.
type PoolCollector struct {
	stat func() PoolStat
	desc *prometheus.Desc
}

// NewPoolCollector reads fresh pool statistics on every scrape.
func NewPoolCollector(stat func() PoolStat) *PoolCollector {
	return &PoolCollector{
		stat: stat,
		desc: prometheus.NewDesc("db_pool_connections", "Database pool connections by state.", []string{"state"}, nil),
	}
}

func (p *PoolCollector) Describe(ch chan<- *prometheus.Desc) { ch <- p.desc }

func (p *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.stat()
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(s.TotalConns()), "total")
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(s.IdleConns()), "idle")
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(s.AcquiredConns()), "acquired")
	ch <- prometheus.MustNewConstMetric(p.desc, prometheus.GaugeValue, float64(s.MaxConns()), "max")
}
