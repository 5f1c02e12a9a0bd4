package tlsroots

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeKeyPair writes a self-signed certificate for cn and returns the
// certificate's serial number.
func writeKeyPair(t *testing.T, certFile, keyFile, cn string) *big.Int {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return serial
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_AddPEM(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "ca.crt")
	writeKeyPair(t, certFile, filepath.Join(dir, "ca.key"), "ca")

	tests := []struct {
		name    string
		data    func() []byte
		wantErr error
	}{
		{"certificate", func() []byte { b, _ := os.ReadFile(certFile); return b }, nil},
		{"empty", func() []byte { return nil }, ErrNoCertsFound},
		{"not pem", func() []byte { return []byte("hello") }, ErrNoCertsFound},
		{"key only", func() []byte { b, _ := os.ReadFile(filepath.Join(dir, "ca.key")); return b }, ErrNoCertsFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewEmptyPool()
			err := p.AddPEM(tt.data())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddPEM() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && p.Added() != 1 {
				t.Errorf("Added() = %d, want 1", p.Added())
			}
		})
	}
}

func TestPool_AddPEMInvalidCertificate(t *testing.T) {
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("garbage")})
	if err := NewEmptyPool().AddPEM(data); err == nil || errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddPEM() error = %v, want parse error", err)
	}
}

func TestClientConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "c.crt"), filepath.Join(dir, "c.key")
	writeKeyPair(t, certFile, keyFile, "client")

	cfg, err := ClientConfig(ClientOptions{CAFile: certFile, ServerName: "localhost", CertFile: certFile, KeyFile: keyFile})
	if err != nil {
		t.Fatalf("ClientConfig() error = %v", err)
	}
	if cfg.ServerName != "localhost" || len(cfg.Certificates) != 1 || cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("ClientConfig() = %+v", cfg)
	}

	if _, err := ClientConfig(ClientOptions{CAFile: filepath.Join(dir, "missing.crt")}); err == nil {
		t.Error("ClientConfig() with missing CA should fail")
	}
	if _, err := ClientConfig(ClientOptions{CertFile: certFile}); err == nil {
		t.Error("ClientConfig() with cert but no key should fail")
	}
}

func TestNewWatcher_Invalid(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "s.crt"), filepath.Join(dir, "s.key")
	os.WriteFile(certFile, []byte("invalid"), 0o644)
	os.WriteFile(keyFile, []byte("invalid"), 0o600)

	if _, err := NewWatcher(certFile, keyFile); err == nil {
		t.Error("NewWatcher() should fail on invalid key pair")
	}
	if _, err := NewWatcher("/nonexistent/s.crt", "/nonexistent/s.key"); err == nil {
		t.Error("NewWatcher() should fail on missing files")
	}
}

func TestWatcher_ServerConfig(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "s.crt"), filepath.Join(dir, "s.key")
	writeKeyPair(t, certFile, keyFile, "server")

	w, err := NewWatcher(certFile, keyFile, WithLogger(quietLogger()), WithClientCA(certFile))
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	cfg, err := w.ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig() error = %v", err)
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert || cfg.ClientCAs == nil {
		t.Error("ServerConfig() should require client certificates")
	}
	cert, err := cfg.GetCertificate(nil)
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate() = %v, %v", cert, err)
	}
}

func TestWatcher_Reload(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping fsnotify test in short mode")
	}

	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "s.crt"), filepath.Join(dir, "s.key")
	writeKeyPair(t, certFile, keyFile, "first")

	w, err := NewWatcher(certFile, keyFile, WithLogger(quietLogger()), WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)
	want := writeKeyPair(t, certFile, keyFile, "second")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cert, _ := w.GetCertificate(nil)
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil && leaf.SerialNumber.Cmp(want) == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("certificate was not reloaded")
}
