package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "parking"

// Metrics holds the occupancy collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	TransitionRejected *prometheus.CounterVec
	SessionsStarted    *prometheus.CounterVec
	SessionsEnded      prometheus.Counter
	SessionDuration    prometheus.Histogram
	EventsPublished    *prometheus.CounterVec
	SubscribersDropped prometheus.Counter
	WebSocketClients   prometheus.Gauge
	SimulatorTicks     *prometheus.CounterVec
	SimulatorRunning   prometheus.Gauge
	StatsCacheLookups  *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spot_transitions_total",
			Help:      "Committed spot status transitions.",
		}, []string{"from", "to", "source"}),
		TransitionRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spot_transitions_rejected_total",
			Help:      "Rejected spot status transitions by reason.",
		}, []string{"reason"}),
		SessionsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Parking sessions started by type.",
		}, []string{"type"}),
		SessionsEnded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Parking sessions ended.",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_minutes",
			Help:      "Duration of closed sessions in minutes.",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480, 1440},
		}),
		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_events_total",
			Help:      "Events published to the realtime hub by type.",
		}, []string{"type"}),
		SubscribersDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_subscribers_dropped_total",
			Help:      "Subscribers disconnected for falling behind.",
		}),
		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Currently connected websocket clients.",
		}),
		SimulatorTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulator_ticks_total",
			Help:      "Simulator cycles by outcome.",
		}, []string{"outcome"}),
		SimulatorRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulator_running",
			Help:      "1 while the sensor simulator is running.",
		}),
		StatsCacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lot_stats_cache_lookups_total",
			Help:      "Lot statistics cache lookups by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) ObserveTransition(from, to, source string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to, source).Inc()
}

func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.TransitionRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveSessionStarted(sessionType string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(sessionType).Inc()
}

func (m *Metrics) ObserveSessionEnded(minutes int64) {
	if m == nil {
		return
	}
	m.SessionsEnded.Inc()
	m.SessionDuration.Observe(float64(minutes))
}

func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveDroppedSubscriber() {
	if m == nil {
		return
	}
	m.SubscribersDropped.Inc()
}

func (m *Metrics) SetWebSocketClients(n int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(n))
}

func (m *Metrics) ObserveTick(outcome string) {
	if m == nil {
		return
	}
	m.SimulatorTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetSimulatorRunning(running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.SimulatorRunning.Set(v)
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.StatsCacheLookups.WithLabelValues(result).Inc()
}
