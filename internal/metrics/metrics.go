package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	UsersRegistered prometheus.Counter
	Logins          *prometheus.CounterVec
	ScansSaved      prometheus.Counter
	ScansDeleted    prometheus.Counter
	OrphanObjects   prometheus.Counter
	StorageOps      *prometheus.CounterVec
}

// New creates the metrics and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		UsersRegistered: f.NewCounter(prometheus.CounterOpts{
			Name: "medilens_users_registered_total",
			Help: "Total number of users created, by password or federated sign-in",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medilens_logins_total",
			Help: "Login attempts by method and outcome",
		}, []string{"method", "outcome"}),
		ScansSaved: f.NewCounter(prometheus.CounterOpts{
			Name: "medilens_scans_saved_total",
			Help: "Scan records persisted",
		}),
		ScansDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "medilens_scans_deleted_total",
			Help: "Scan records deleted together with their image",
		}),
		OrphanObjects: f.NewCounter(prometheus.CounterOpts{
			Name: "medilens_orphan_objects_total",
			Help: "Objects uploaded whose scan record could not be persisted",
		}),
		StorageOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "medilens_storage_operations_total",
			Help: "Object storage calls by operation and outcome",
		}, []string{"op", "outcome"}),
	}
}

// OrUnregistered returns m, or a set registered nowhere when m is nil.
func OrUnregistered(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New(prometheus.NewRegistry())
}

func (m *Metrics) ObserveLogin(method string, err error) {
	m.Logins.WithLabelValues(method, outcome(err)).Inc()
}

func (m *Metrics) ObserveStorage(op string, err error) {
	m.StorageOps.WithLabelValues(op, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
