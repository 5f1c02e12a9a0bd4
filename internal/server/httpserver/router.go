package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/seqmesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/seqmesh-go/internal/telemetry/metric"
)

// RouterConfig wires the admin routes.
type RouterConfig struct {
	Handler *handler.Handler
	Metrics *metric.Registry
	// Secret guards /admin routes when set.
	Secret string
	Logger *slog.Logger
}

// NewRouter builds the admin mux.
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := cfg.Handler

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
	}

	admin := http.NewServeMux()
	admin.HandleFunc("GET /admin/v1/status", h.Status)
	admin.HandleFunc("GET /admin/v1/cluster", h.Cluster)
	admin.HandleFunc("POST /admin/v1/backup", h.Backup)
	admin.HandleFunc("POST /admin/v1/gc", h.GC)
	mux.Handle("/admin/", BearerSecret(cfg.Secret)(admin))

	return Chain(mux, RequestID(), ContextLogger(log), Recover(), AccessLog())
}
