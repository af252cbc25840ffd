package ethstats

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	cycles     *prometheus.CounterVec
	nodeErrors *prometheus.CounterVec
	events     *prometheus.CounterVec

	peers        prometheus.Gauge
	blockTimeAvg prometheus.Gauge
	uptime       prometheus.Gauge
	headNumber   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethstats_agent_cycles_total",
				Help: "Number of completed poll cycles",
			},
			[]string{"result"}, // result: success, failure
		),
		nodeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethstats_agent_node_errors_total",
				Help: "Number of errors recorded while querying the node",
			},
			[]string{"code"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ethstats_agent_events_total",
				Help: "Number of events emitted to the collector",
			},
			[]string{"event", "status"}, // status: sent, dropped
		),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ethstats_agent_peers",
			Help: "Peer count of the node",
		}),
		blockTimeAvg: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ethstats_agent_blocktime_avg_seconds",
			Help: "Average block time over the block history",
		}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ethstats_agent_uptime_percent",
			Help: "Percentage of poll cycles where the node was reachable",
		}),
		headNumber: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ethstats_agent_head_number",
			Help: "Number of the latest block seen",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cycles, m.nodeErrors, m.events, m.peers, m.blockTimeAvg, m.uptime, m.headNumber)
	}
	return m
}

func (m *metrics) observe(stats *Stats, failed bool) {
	if failed {
		m.cycles.WithLabelValues("failure").Inc()
	} else {
		m.cycles.WithLabelValues("success").Inc()
	}
	for _, e := range stats.Errors {
		m.nodeErrors.WithLabelValues(e.Code.Name()).Inc()
	}
	m.peers.Set(float64(stats.Peers))
	m.blockTimeAvg.Set(stats.BlockTimeAvg)
	m.uptime.Set(stats.Uptime.Total)
	if stats.Block != nil {
		m.headNumber.Set(float64(stats.Block.Number))
	}
}

func (m *metrics) event(typ string, sent bool) {
	status := "sent"
	if !sent {
		status = "dropped"
	}
	m.events.WithLabelValues(typ, status).Inc()
}
