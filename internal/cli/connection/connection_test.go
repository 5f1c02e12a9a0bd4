package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/seqmesh-go/internal/core/domain"
)

func writeEnvelope(w http.ResponseWriter, status int, code, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    data,
	})
}

func newAdmin(t *testing.T, h http.HandlerFunc, secret string) *AdminClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewAdminClient(Options{Admin: srv.URL, Secret: secret, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewAdminClient() error = %v", err)
	}
	return c
}

func TestNewAdminClient_URL(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		want  string
		isErr bool
	}{
		{"bare host", Options{Admin: "127.0.0.1:7380"}, "http://127.0.0.1:7380", false},
		{"tls bare host", Options{Admin: "store:7380", TLS: true}, "https://store:7380", false},
		{"explicit url", Options{Admin: "http://store:7380/"}, "http://store:7380", false},
		{"missing", Options{}, "", true},
		{"bad ca", Options{Admin: "https://store", CAFile: "/does/not/exist.pem"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewAdminClient(tt.opts)
			if tt.isErr {
				if !errors.Is(err, domain.ErrConfiguration) {
					t.Errorf("NewAdminClient() error = %v, want ErrConfiguration", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if c.BaseURL() != tt.want {
				t.Errorf("BaseURL() = %q, want %q", c.BaseURL(), tt.want)
			}
		})
	}
}

func TestAdminClient_Get(t *testing.T) {
	c := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/admin/v1/status" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
			writeEnvelope(w, http.StatusUnauthorized, "SM-AUTH-4010", "bad secret", nil)
			return
		}
		writeEnvelope(w, http.StatusOK, "OK", "Success", map[string]string{"driver": "raft"})
	}, "s3cret")

	var got struct {
		Driver string `json:"driver"`
	}
	if err := c.Get(context.Background(), "/admin/v1/status", &got); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Driver != "raft" {
		t.Errorf("Driver = %q, want raft", got.Driver)
	}
}

func TestAdminClient_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		wantCode string
		wantIs   error
	}{
		{"known code", http.StatusServiceUnavailable, "SM-STORE-5030", "SM-STORE-5030", domain.ErrStoreUnavailable},
		{"unknown code", http.StatusUnauthorized, "SM-AUTH-4010", "SM-AUTH-4010", nil},
		{"no envelope", http.StatusBadGateway, "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.code == "" {
					w.WriteHeader(tt.status)
					return
				}
				writeEnvelope(w, tt.status, tt.code, "nope", nil)
			}, "")

			err := c.Post(context.Background(), "/admin/v1/gc", nil)
			if err == nil {
				t.Fatal("Post() should fail")
			}
			if got := domain.GetErrorCode(err); got != tt.wantCode {
				t.Errorf("code = %q, want %q (err %v)", got, tt.wantCode, err)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want %v", err, tt.wantIs)
			}
		})
	}
}

func TestAdminClient_Download(t *testing.T) {
	payload := strings.Repeat("x", 4096)
	c := newAdmin(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte(payload))
	}, "")

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "/admin/v1/backup", &buf)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if n != int64(len(payload)) || buf.String() != payload {
		t.Errorf("Download() = %d bytes, want %d", n, len(payload))
	}
}

func TestAdminClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := NewAdminClient(Options{Admin: addr, Timeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Get(context.Background(), "/admin/v1/status", nil); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("Get() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestDial(t *testing.T) {
	if _, err := Dial(Options{}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Dial() without server error = %v, want ErrConfiguration", err)
	}
	if _, err := Dial(Options{Server: "127.0.0.1:7379", TLS: true, CAFile: "/does/not/exist.pem"}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("Dial() with bad CA error = %v, want ErrConfiguration", err)
	}

	b, err := Dial(Options{Server: "127.0.0.1:7379", Timeout: time.Second})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer b.Close()
	if b.Addr() != "127.0.0.1:7379" {
		t.Errorf("Addr() = %q", b.Addr())
	}
}
