package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yndnr/seqmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/seqmesh-go/internal/storage/sealed"
)

// Status handles GET /admin/v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	now := h.cfg.Now()
	resp := StatusResponse{
		Build:   buildinfo.Get(),
		Driver:  h.cfg.Driver,
		Started: h.started.UTC(),
		Uptime:  now.Sub(h.started).Truncate(time.Second).String(),
	}
	if h.cfg.Storage != nil {
		stats, err := h.cfg.Storage.Stats(r.Context())
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		resp.Storage = stats
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// Cluster handles GET /admin/v1/cluster.
func (h *Handler) Cluster(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Cluster == nil {
		h.unsupported(w, r, "cluster status")
		return
	}
	h.writeJSON(w, r, http.StatusOK, h.cfg.Cluster.Status())
}

// Backup handles POST /admin/v1/backup. The body is badger's backup
// stream, sealed when a backup passphrase is configured. Headers are
// committed before the first byte, so a failure midway truncates the body
// and is only logged.
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Storage == nil {
		h.unsupported(w, r, "backup")
		return
	}

	name := fmt.Sprintf("seqmesh-%s.backup", h.cfg.Now().UTC().Format("20060102T150405Z"))
	seal := len(h.cfg.BackupPassphrase) > 0
	if seal {
		name += ".sealed"
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)

	var sink io.Writer = w
	var sw *sealed.Writer
	if seal {
		var err error
		if sw, err = sealed.NewWriter(w, h.cfg.BackupPassphrase, h.cfg.BackupCipher); err != nil {
			h.logger.Error("backup failed", "error", err)
			return
		}
		sink = sw
	}

	start := h.cfg.Now()
	if err := h.cfg.Storage.Backup(r.Context(), sink); err != nil {
		h.logger.Error("backup failed", "error", err)
		return
	}
	if sw != nil {
		if err := sw.Close(); err != nil {
			h.logger.Error("backup failed", "error", err)
			return
		}
	}
	h.logger.Info("backup streamed", "file", name, "sealed", sw != nil, "duration", h.cfg.Now().Sub(start))
}

// GC handles POST /admin/v1/gc.
func (h *Handler) GC(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Storage == nil {
		h.unsupported(w, r, "gc")
		return
	}

	start := h.cfg.Now()
	n, err := h.cfg.Storage.GC(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, GCResponse{
		FilesRewritten: n,
		Duration:       h.cfg.Now().Sub(start).String(),
	})
}
