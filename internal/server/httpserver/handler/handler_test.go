package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
	"github.com/yndnr/seqmesh-go/internal/server/clusterserver"
	"github.com/yndnr/seqmesh-go/internal/storage"
	"github.com/yndnr/seqmesh-go/internal/storage/sealed"
	"github.com/yndnr/seqmesh-go/pkg/crypto/adaptive"
)

type fakeStorage struct {
	backup   string
	gcFiles  uint64
	err      error
	gcCalled bool
}

func (f *fakeStorage) Backup(_ context.Context, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := io.WriteString(w, f.backup)
	return err
}

func (f *fakeStorage) GC(context.Context) (uint64, error) {
	f.gcCalled = true
	return f.gcFiles, f.err
}

func (f *fakeStorage) Stats(context.Context) (*storage.KVStats, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &storage.KVStats{TotalSize: 3}, nil
}

type fakeCluster struct{ st clusterserver.Status }

func (f fakeCluster) Status() clusterserver.Status { return f.st }

func newHandler(cfg Config) *Handler {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Driver == "" {
		cfg.Driver = "memory"
	}
	return New(cfg)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(Config{}).Health(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decode(t, rec); resp.Code != "OK" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		ready      func(context.Context) error
		wantStatus int
		wantCode   string
	}{
		{"no probe", nil, http.StatusOK, "OK"},
		{"probe ok", func(context.Context) error { return nil }, http.StatusOK, "OK"},
		{"no leader", func(context.Context) error {
			return domain.ErrNotLeader.WithDetails("")
		}, http.StatusServiceUnavailable, domain.ErrNotLeader.Code},
		{"unavailable", func(context.Context) error {
			return domain.ErrStoreUnavailable
		}, http.StatusServiceUnavailable, domain.ErrStoreUnavailable.Code},
		{"plain error", func(context.Context) error {
			return errors.New("boom")
		}, http.StatusInternalServerError, "SM-SYS-5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newHandler(Config{Ready: tt.ready}).Ready(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if resp := decode(t, rec); resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	h := newHandler(Config{
		Driver:  "badger",
		Storage: &fakeStorage{},
		Now:     func() time.Time { return clock },
	})
	clock = now.Add(90 * time.Second)

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest("GET", "/admin/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Data StatusResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Data.Driver != "badger" || body.Data.Uptime != "1m30s" {
		t.Errorf("status = %+v", body.Data)
	}
	if body.Data.Storage == nil || body.Data.Storage.TotalSize != 3 {
		t.Errorf("storage = %+v", body.Data.Storage)
	}
}

func TestCluster(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(Config{}).Cluster(rec, httptest.NewRequest("GET", "/admin/v1/cluster", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("without cluster: status = %d, want 501", rec.Code)
	}

	st := clusterserver.Status{NodeID: "n1", State: "Leader", LeaderID: "n1", Leader: "10.0.0.1:7379"}
	rec = httptest.NewRecorder()
	newHandler(Config{Driver: "raft", Cluster: fakeCluster{st: st}}).
		Cluster(rec, httptest.NewRequest("GET", "/admin/v1/cluster", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"leader_serve_addr":"10.0.0.1:7379"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestBackup(t *testing.T) {
	rec := httptest.NewRecorder()
	newHandler(Config{Storage: &fakeStorage{backup: "BADGERBACKUP"}}).
		Backup(rec, httptest.NewRequest("POST", "/admin/v1/backup", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "BADGERBACKUP" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "seqmesh-") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec = httptest.NewRecorder()
	newHandler(Config{}).Backup(rec, httptest.NewRequest("POST", "/admin/v1/backup", nil))
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("without storage: status = %d, want 501", rec.Code)
	}
}

func TestBackup_Sealed(t *testing.T) {
	pass := []byte("backup passphrase")
	rec := httptest.NewRecorder()
	newHandler(Config{
		Storage:          &fakeStorage{backup: "BADGERBACKUP"},
		BackupPassphrase: pass,
		BackupCipher:     adaptive.CipherChaCha20,
	}).Backup(rec, httptest.NewRequest("POST", "/admin/v1/backup", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, ".backup.sealed") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if strings.Contains(rec.Body.String(), "BADGERBACKUP") {
		t.Fatal("sealed body contains plaintext")
	}

	r, err := sealed.NewReader(rec.Body, pass)
	if err != nil {
		t.Fatal(err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(plain) != "BADGERBACKUP" {
		t.Errorf("unsealed = %q", plain)
	}
}

func TestGC(t *testing.T) {
	fs := &fakeStorage{gcFiles: 2}
	rec := httptest.NewRecorder()
	newHandler(Config{Storage: fs}).GC(rec, httptest.NewRequest("POST", "/admin/v1/gc", bytes.NewReader(nil)))

	if rec.Code != http.StatusOK || !fs.gcCalled {
		t.Fatalf("status = %d, called = %v", rec.Code, fs.gcCalled)
	}
	if !strings.Contains(rec.Body.String(), `"files_rewritten":2`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	newHandler(Config{Storage: &fakeStorage{err: domain.ErrStoreUnavailable}}).
		GC(rec, httptest.NewRequest("POST", "/admin/v1/gc", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("failing gc: status = %d, want 503", rec.Code)
	}
}
