package txpool

import "github.com/prometheus/client_golang/prometheus"

// metrics exposes the pool's queue-depth gauges, mirroring
// poll.NewSet(factory, log, registerer)'s accepted-registerer style but
// actually registering collectors, since this pool's counts are real
// operational signals (how many orphans are waiting, how fast blocks
// and transactions are admitted) rather than the teacher's stubbed-out
// vote-poll metrics.
type metrics struct {
	blocksAdmitted prometheus.Counter
	txsAdmitted    prometheus.Counter
	orphanGauge    prometheus.GaugeFunc
}

func newMetrics(registerer prometheus.Registerer, orphanCount func() int) *metrics {
	m := &metrics{
		blocksAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagchain_txpool_blocks_admitted_total",
			Help: "DAG blocks successfully linked into the DAG manager.",
		}),
		txsAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dagchain_txpool_transactions_admitted_total",
			Help: "Transactions accepted by the pool.",
		}),
	}
	m.orphanGauge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dagchain_txpool_orphans",
		Help: "Blocks currently waiting on missing parents.",
	}, func() float64 { return float64(orphanCount()) })

	if registerer != nil {
		registerer.MustRegister(m.blocksAdmitted, m.txsAdmitted, m.orphanGauge)
	}
	return m
}
