package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/server/clusterserver"
	"github.com/yndnr/seqmesh-go/internal/storage"
	"github.com/yndnr/seqmesh-go/pkg/crypto/adaptive"
)

// Storage is implemented by substrates with local files.
type Storage interface {
	Backup(ctx context.Context, w io.Writer) error
	GC(ctx context.Context) (uint64, error)
	Stats(ctx context.Context) (*storage.KVStats, error)
}

// Cluster is implemented by raft nodes.
type Cluster interface {
	Status() clusterserver.Status
}

// Config carries the handler's collaborators. Only Driver is required.
type Config struct {
	Driver string
	// Ready reports whether the substrate can serve. Nil means always.
	Ready   func(ctx context.Context) error
	Storage Storage
	Cluster Cluster
	// BackupPassphrase seals backup streams when non-empty.
	BackupPassphrase []byte
	BackupCipher     adaptive.CipherType
	Logger           *slog.Logger
	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// Handler serves the admin endpoints.
type Handler struct {
	cfg     Config
	logger  *slog.Logger
	started time.Time
}

// New creates a Handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{cfg: cfg, logger: cfg.Logger, started: cfg.Now()}
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(newResponse(r.Header.Get("X-Request-ID"), data)); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(newErrorResponse(r.Header.Get("X-Request-ID"), code, message))
}

// writeDomainError maps a substrate error to a status code.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.GetErrorCode(err)
	status := http.StatusInternalServerError
	switch {
	case domain.IsUnavailable(err):
		status = http.StatusServiceUnavailable
	case domain.IsDomainError(err, domain.ErrInvalidArgument.Code),
		domain.IsDomainError(err, domain.ErrSeqNumOutOfRange.Code):
		status = http.StatusBadRequest
	}
	if code == "" {
		code = "SM-SYS-5000"
	}
	if status >= 500 {
		h.logger.Error("admin request failed", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, r, status, code, err.Error())
}

func (h *Handler) unsupported(w http.ResponseWriter, r *http.Request, what string) {
	h.writeError(w, r, http.StatusNotImplemented, "SM-SYS-5010",
		what+" is not supported by the "+h.cfg.Driver+" driver")
}
