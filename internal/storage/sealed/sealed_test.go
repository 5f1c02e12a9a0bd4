package sealed

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/yndnr/seqmesh-go/pkg/crypto/adaptive"
)

var passphrase = []byte("correct horse battery")

func init() {
	// Cheap key derivation keeps the suite fast.
	kdf = kdfParams{time: 1, memory: 64, threads: 1}
}

func seal(t *testing.T, plain []byte, typ adaptive.CipherType, writes int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, passphrase, typ)
	if err != nil {
		t.Fatal(err)
	}
	step := len(plain)/writes + 1
	for off := 0; off < len(plain); off += step {
		end := off + step
		if end > len(plain) {
			end = len(plain)
		}
		if _, err := w.Write(plain[off:end]); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func open(data, pass []byte) ([]byte, error) {
	r, err := NewReader(bytes.NewReader(data), pass)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

func TestRoundTrip(t *testing.T) {
	big := make([]byte, 3*ChunkSize+17)
	if _, err := rand.Read(big); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		plain  []byte
		typ    adaptive.CipherType
		writes int
	}{
		{"empty", nil, adaptive.CipherAESGCM, 1},
		{"small", []byte("8=FIX.4.4\x0134=1\x01"), adaptive.CipherChaCha20, 1},
		{"exact chunk", big[:ChunkSize], adaptive.CipherAESGCM, 1},
		{"multi chunk one write", big, adaptive.CipherChaCha20, 1},
		{"multi chunk many writes", big, adaptive.CipherAESGCM, 97},
		{"default cipher", big[:100], "", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := seal(t, tt.plain, tt.typ, tt.writes)

			ok, err := IsSealed(bufio.NewReader(bytes.NewReader(data)))
			if err != nil || !ok {
				t.Fatalf("IsSealed() = %v, %v", ok, err)
			}

			got, err := open(data, passphrase)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if !bytes.Equal(got, tt.plain) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(tt.plain))
			}
		})
	}
}

func TestReader_Failures(t *testing.T) {
	plain := bytes.Repeat([]byte("35=D|"), ChunkSize/2)
	data := seal(t, plain, adaptive.CipherAESGCM, 1)

	t.Run("wrong passphrase", func(t *testing.T) {
		if _, err := open(data, []byte("wrong passphrase")); !errors.Is(err, ErrAuth) {
			t.Errorf("error = %v, want ErrAuth", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		if _, err := open(data[:len(data)-10], passphrase); !errors.Is(err, ErrTruncated) {
			t.Errorf("error = %v, want ErrTruncated", err)
		}
	})

	t.Run("final frame dropped", func(t *testing.T) {
		// First frame is complete and authentic but not final.
		first := headerLen + 4 + ChunkSize + 28
		if _, err := open(data[:first], passphrase); !errors.Is(err, ErrTruncated) {
			t.Errorf("error = %v, want ErrTruncated", err)
		}
	})

	t.Run("flipped byte", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[headerLen+20] ^= 0x01
		if _, err := open(bad, passphrase); !errors.Is(err, ErrAuth) {
			t.Errorf("error = %v, want ErrAuth", err)
		}
	})

	t.Run("not sealed", func(t *testing.T) {
		raw := []byte("badger backup bytes that are long enough")
		if _, err := open(raw, passphrase); !errors.Is(err, ErrNotSealed) {
			t.Errorf("error = %v, want ErrNotSealed", err)
		}
		ok, err := IsSealed(bufio.NewReader(bytes.NewReader(raw)))
		if err != nil || ok {
			t.Errorf("IsSealed(raw) = %v, %v", ok, err)
		}
		ok, err = IsSealed(bufio.NewReader(bytes.NewReader(nil)))
		if err != nil || ok {
			t.Errorf("IsSealed(empty) = %v, %v", ok, err)
		}
	})

	t.Run("bad version", func(t *testing.T) {
		bad := append([]byte(nil), data...)
		bad[len(magic)] = 9
		if _, err := open(bad, passphrase); !errors.Is(err, ErrVersion) {
			t.Errorf("error = %v, want ErrVersion", err)
		}
	})
}

func TestNewWriter_Validation(t *testing.T) {
	var buf bytes.Buffer
	if _, err := NewWriter(&buf, []byte("short"), ""); !errors.Is(err, ErrPassphraseTooShort) {
		t.Errorf("short passphrase error = %v", err)
	}
	if _, err := NewWriter(&buf, passphrase, "des"); !errors.Is(err, adaptive.ErrUnknownCipher) {
		t.Errorf("unknown cipher error = %v", err)
	}
	if buf.Len() != 0 {
		t.Error("rejected writer wrote a header")
	}

	w, err := NewWriter(&buf, passphrase, adaptive.CipherChaCha20)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("x")); err == nil {
		t.Error("write after close should fail")
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}

	r, err := NewReader(bytes.NewReader(buf.Bytes()), passphrase)
	if err != nil {
		t.Fatal(err)
	}
	if r.Cipher() != adaptive.CipherChaCha20 {
		t.Errorf("Cipher() = %q", r.Cipher())
	}
}
