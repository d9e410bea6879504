package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dcrpc/homa/wire"
)

// Collector exports a Counters snapshot as Prometheus metrics, grounded
// on m-lab/tcp-info's metrics package (promauto-declared vectors) and
// runZeroInc's TCPInfoCollector (a hand-rolled prometheus.Collector that
// computes metrics from live state on every scrape rather than keeping
// its own copy).
type Collector struct {
	counters *Counters

	sent    *prometheus.Desc
	recv    *prometheus.Desc
	cycles  *prometheus.Desc
	resends *prometheus.Desc
	errors  *prometheus.Desc
}

// NewCollector builds a Collector reading live counters from c.
func NewCollector(c *Counters) *Collector {
	return &Collector{
		counters: c,
		sent: prometheus.NewDesc("homa_packets_sent_total",
			"Packets sent, by packet type.", []string{"type"}, nil),
		recv: prometheus.NewDesc("homa_packets_received_total",
			"Packets received, by packet type.", []string{"type"}, nil),
		cycles: prometheus.NewDesc("homa_cycles_total",
			"Cycles spent in engine subsystems.", []string{"subsystem"}, nil),
		resends: prometheus.NewDesc("homa_resends_total",
			"RESEND packets emitted.", nil, nil),
		errors: prometheus.NewDesc("homa_errors_total",
			"Per-class error counts.", []string{"class"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sent
	ch <- c.recv
	ch <- c.cycles
	ch <- c.resends
	ch <- c.errors
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.counters.Snapshot()
	for t := wire.TypeData; t <= wire.TypeFreeze; t++ {
		ch <- prometheus.MustNewConstMetric(c.sent, prometheus.CounterValue, float64(s.SentByType[t]), t.String())
		ch <- prometheus.MustNewConstMetric(c.recv, prometheus.CounterValue, float64(s.RecvByType[t]), t.String())
	}
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(s.TimerCycles), "timer")
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(s.PacerCycles), "pacer")
	ch <- prometheus.MustNewConstMetric(c.cycles, prometheus.CounterValue, float64(s.PacerWastedCycles), "pacer_wasted")
	ch <- prometheus.MustNewConstMetric(c.resends, prometheus.CounterValue, float64(s.Resends))
	for e := ErrorClass(0); e < numErrorClasses; e++ {
		if s.Errors[e] != 0 {
			ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.Errors[e]), e.String())
		}
	}
}
