package socket

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what happens to notification channels
type Metrics struct {
	backlogDropped prometheus.Counter
	reaped         prometheus.Counter
	opened         prometheus.Counter
	rejected       *prometheus.CounterVec
	inboundLimited prometheus.Counter
}

// NewMetrics creates the channel counters and registers them to reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		backlogDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pb_socket_backlog_dropped_total",
			Help: "frames dropped because a channel send queue was full",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pb_socket_reaped_total",
			Help: "channels closed by the heartbeat after two silent intervals",
		}),
		opened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pb_socket_opened_total",
			Help: "channels registered since start",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pb_socket_rejected_total",
			Help: "upgrade attempts refused by the identity gate",
		}, []string{"reason"}),
		inboundLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pb_socket_inbound_limited_total",
			Help: "inbound frames discarded by the rate limiter",
		}),
	}

	reg.MustRegister(
		m.backlogDropped,
		m.reaped,
		m.opened,
		m.rejected,
		m.inboundLimited,
	)

	return m
}

// a nil *Metrics records nothing

func (m *Metrics) BacklogDropped() {
	if m == nil {
		return
	}
	m.backlogDropped.Inc()
}

func (m *Metrics) Reaped() {
	if m == nil {
		return
	}
	m.reaped.Inc()
}

func (m *Metrics) Opened() {
	if m == nil {
		return
	}
	m.opened.Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) InboundLimited() {
	if m == nil {
		return
	}
	m.inboundLimited.Inc()
}
