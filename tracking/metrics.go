package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts what trackers apply. A nil *Metrics records nothing.
type Metrics struct {
	Events      *prometheus.CounterVec
	Errors      *prometheus.CounterVec
	Syncs       *prometheus.CounterVec
	Users       *prometheus.GaugeVec
	Channels    *prometheus.GaugeVec
	Memberships *prometheus.GaugeVec
}

// NewMetrics registers the tracking metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ircsync_events_total",
			Help: "Events applied to the registry, by network and kind",
		}, []string{"network", "kind"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ircsync_event_errors_total",
			Help: "Events whose handler failed, by network and kind",
		}, []string{"network", "kind"}),
		Syncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ircsync_channel_syncs_total",
			Help: "Channels that completed synchronization",
		}, []string{"network"}),
		Users: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ircsync_users",
			Help: "Users stored in the registry",
		}, []string{"network"}),
		Channels: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ircsync_channels",
			Help: "Channels stored in the registry",
		}, []string{"network"}),
		Memberships: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ircsync_memberships",
			Help: "Size of the membership set",
		}, []string{"network"}),
	}
}

func (m *Metrics) observe(r *Registry, kind string, err error) {
	if m == nil || r == nil {
		return
	}
	if err != nil {
		m.Errors.WithLabelValues(r.netID, kind).Inc()
	} else {
		m.Events.WithLabelValues(r.netID, kind).Inc()
	}
	m.Users.WithLabelValues(r.netID).Set(float64(len(r.users)))
	m.Channels.WithLabelValues(r.netID).Set(float64(len(r.channels)))
	m.Memberships.WithLabelValues(r.netID).Set(float64(len(r.membership)))
}

func (m *Metrics) synced(r *Registry) {
	if m == nil {
		return
	}
	m.Syncs.WithLabelValues(r.netID).Inc()
}
