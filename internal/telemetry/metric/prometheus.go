// Package metric provides Prometheus metrics for SeqMesh.
package metric

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
)

// Namespace is the metric namespace shared by every collector.
const Namespace = "seqmesh"

// Result label values.
const (
	ResultOK          = "ok"
	ResultUnavailable = "unavailable"
	ResultCorrupt     = "corrupt"
	ResultInvalid     = "invalid"
	ResultError       = "error"
)

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Store metrics
	StoreOps        *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec
	CASRetries      prometheus.Counter
	StoresOpen      prometheus.Gauge

	// RESP server metrics
	RESPCommands    *prometheus.CounterVec
	RESPConnections prometheus.Gauge

	// Cluster metrics
	ClusterLeader  prometheus.Gauge
	ClusterMembers prometheus.Gauge
}

// NewRegistry creates a registry with every SeqMesh collector registered,
// along with the Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Session store operations by operation and result.",
		}, []string{"op", "result"}),
		StoreOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "operation_duration_seconds",
			Help:      "Latency of session store operations.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		CASRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "counter",
			Name:      "cas_retries_total",
			Help:      "Compare-and-set attempts that lost a race and were retried.",
		}),
		StoresOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "sessions_provisioned",
			Help:      "Session stores provisioned by this process.",
		}),
		RESPCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "resp",
			Name:      "commands_total",
			Help:      "RESP commands handled by command and result.",
		}, []string{"cmd", "result"}),
		RESPConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "resp",
			Name:      "connections_active",
			Help:      "Open RESP client connections.",
		}),
		ClusterLeader: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "cluster",
			Name:      "is_leader",
			Help:      "1 if this node is the Raft leader, 0 otherwise.",
		}),
		ClusterMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "cluster",
			Name:      "members",
			Help:      "Gossip members currently alive.",
		}),
	}

	r.reg.MustRegister(
		r.StoreOps,
		r.StoreOpDuration,
		r.CASRetries,
		r.StoresOpen,
		r.RESPCommands,
		r.RESPConnections,
		r.ClusterLeader,
		r.ClusterMembers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// Prometheus returns the underlying registry so that other packages can
// register their own collectors (e.g. the Badger gauges).
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveStoreOp records one store operation that started at start.
func (r *Registry) ObserveStoreOp(op string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.StoreOps.WithLabelValues(op, Result(err)).Inc()
	r.StoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// IncCASRetry records a lost compare-and-set race.
func (r *Registry) IncCASRetry() {
	if r == nil {
		return
	}
	r.CASRetries.Inc()
}

// IncStoresOpen records a provisioned session store.
func (r *Registry) IncStoresOpen() {
	if r == nil {
		return
	}
	r.StoresOpen.Inc()
}

// ObserveRESPCommand records one handled RESP command.
func (r *Registry) ObserveRESPCommand(cmd string, err error) {
	if r == nil {
		return
	}
	r.RESPCommands.WithLabelValues(cmd, Result(err)).Inc()
}

// RESPConnOpened and RESPConnClosed track open RESP connections.
func (r *Registry) RESPConnOpened() {
	if r == nil {
		return
	}
	r.RESPConnections.Inc()
}

func (r *Registry) RESPConnClosed() {
	if r == nil {
		return
	}
	r.RESPConnections.Dec()
}

// SetLeader records the local Raft leadership state.
func (r *Registry) SetLeader(isLeader bool) {
	if r == nil {
		return
	}
	if isLeader {
		r.ClusterLeader.Set(1)
	} else {
		r.ClusterLeader.Set(0)
	}
}

// SetMembers records the gossip member count.
func (r *Registry) SetMembers(n int) {
	if r == nil {
		return
	}
	r.ClusterMembers.Set(float64(n))
}

// Result maps an error onto a result label value.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case domain.IsUnavailable(err):
		return ResultUnavailable
	case errors.Is(err, domain.ErrCorruptStore):
		return ResultCorrupt
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrSeqNumOutOfRange):
		return ResultInvalid
	default:
		return ResultError
	}
}
