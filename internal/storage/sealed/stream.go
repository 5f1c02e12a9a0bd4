package sealed

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/yndnr/seqmesh-go/pkg/crypto/adaptive"
)

// ChunkSize is the plaintext carried by each full frame.
const ChunkSize = 64 * 1024

const (
	version   byte = 1
	finalFlag      = uint32(1) << 31
	// frame payloads never exceed a chunk plus cipher overhead; the slack
	// covers both ciphers.
	maxFrame = ChunkSize + 64
)

var magic = []byte("SMSEAL")

var headerLen = len(magic) + 2 + SaltLength

var (
	ErrPassphraseTooShort = fmt.Errorf("sealed: passphrase shorter than %d bytes", MinPassphraseLength)
	ErrNotSealed          = errors.New("sealed: stream is not a sealed backup")
	ErrVersion            = errors.New("sealed: unsupported format version")
	ErrTruncated          = errors.New("sealed: stream ends before the final frame")
	ErrAuth               = errors.New("sealed: authentication failed; wrong passphrase or corrupted data")
)

var cipherIDs = map[adaptive.CipherType]byte{
	adaptive.CipherAESGCM:   1,
	adaptive.CipherChaCha20: 2,
}

func cipherByID(id byte) (adaptive.CipherType, bool) {
	for typ, v := range cipherIDs {
		if v == id {
			return typ, true
		}
	}
	return "", false
}

// IsSealed reports whether the buffered stream starts with the sealed
// header magic. It does not consume input.
func IsSealed(r *bufio.Reader) (bool, error) {
	prefix, err := r.Peek(len(magic))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, err
	}
	return bytes.Equal(prefix, magic), nil
}

func frameAAD(header []byte, index uint64, final bool) []byte {
	aad := make([]byte, len(header)+9)
	copy(aad, header)
	binary.BigEndian.PutUint64(aad[len(header):], index)
	if final {
		aad[len(aad)-1] = 1
	}
	return aad
}

// Writer seals everything written to it. Close must be called to emit the
// final frame; it does not close the underlying writer.
type Writer struct {
	w      io.Writer
	c      *adaptive.Cipher
	header []byte
	buf    []byte
	index  uint64
	err    error
	closed bool
}

// NewWriter writes the header to w and returns a Writer sealing with a key
// derived from passphrase. An empty typ selects the host default cipher.
func NewWriter(w io.Writer, passphrase []byte, typ adaptive.CipherType) (*Writer, error) {
	if err := ValidatePassphrase(passphrase); err != nil {
		return nil, err
	}
	if typ == "" {
		typ = adaptive.DefaultCipherType()
	}
	id, ok := cipherIDs[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", adaptive.ErrUnknownCipher, typ)
	}

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	key := deriveKey(passphrase, salt)
	defer zero(key)

	c, err := adaptive.NewWithType(key, typ)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 0, headerLen)
	header = append(header, magic...)
	header = append(header, version, id)
	header = append(header, salt...)
	if _, err := w.Write(header); err != nil {
		return nil, fmt.Errorf("sealed: write header: %w", err)
	}

	return &Writer{w: w, c: c, header: header, buf: make([]byte, 0, ChunkSize)}, nil
}

// Write buffers p and emits a frame for every full chunk.
func (sw *Writer) Write(p []byte) (int, error) {
	if sw.closed {
		return 0, errors.New("sealed: write after close")
	}
	if sw.err != nil {
		return 0, sw.err
	}

	n := len(p)
	for len(p) > 0 {
		room := ChunkSize - len(sw.buf)
		if room > len(p) {
			room = len(p)
		}
		sw.buf = append(sw.buf, p[:room]...)
		p = p[room:]

		// A full chunk is only flushed once more data arrives, so the last
		// chunk is always the one Close marks final.
		if len(sw.buf) == ChunkSize && len(p) > 0 {
			if err := sw.flush(false); err != nil {
				return n - len(p), err
			}
		}
	}
	return n, nil
}

// Close seals the buffered remainder as the final frame.
func (sw *Writer) Close() error {
	if sw.closed {
		return sw.err
	}
	sw.closed = true
	if sw.err != nil {
		return sw.err
	}
	return sw.flush(true)
}

func (sw *Writer) flush(final bool) error {
	sealed, err := sw.c.Seal(sw.buf, frameAAD(sw.header, sw.index, final))
	if err != nil {
		sw.err = err
		return err
	}

	length := uint32(len(sealed))
	if final {
		length |= finalFlag
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], length)

	if _, err := sw.w.Write(prefix[:]); err != nil {
		sw.err = fmt.Errorf("sealed: write frame: %w", err)
		return sw.err
	}
	if _, err := sw.w.Write(sealed); err != nil {
		sw.err = fmt.Errorf("sealed: write frame: %w", err)
		return sw.err
	}

	sw.index++
	sw.buf = sw.buf[:0]
	return nil
}

// Reader opens a sealed stream.
type Reader struct {
	r       io.Reader
	c       *adaptive.Cipher
	header  []byte
	index   uint64
	pending []byte
	done    bool
	err     error
}

// NewReader reads and checks the header, then derives the key.
func NewReader(r io.Reader, passphrase []byte) (*Reader, error) {
	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotSealed
		}
		return nil, fmt.Errorf("sealed: read header: %w", err)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return nil, ErrNotSealed
	}
	if header[len(magic)] != version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, header[len(magic)])
	}
	typ, ok := cipherByID(header[len(magic)+1])
	if !ok {
		return nil, fmt.Errorf("%w: id %d", adaptive.ErrUnknownCipher, header[len(magic)+1])
	}

	key := deriveKey(passphrase, header[len(magic)+2:])
	defer zero(key)

	c, err := adaptive.NewWithType(key, typ)
	if err != nil {
		return nil, err
	}
	return &Reader{r: r, c: c, header: header}, nil
}

// Cipher returns the algorithm named in the header.
func (sr *Reader) Cipher() adaptive.CipherType { return sr.c.Type() }

// Read returns decrypted plaintext. Frames are authenticated before any of
// their bytes are returned.
func (sr *Reader) Read(p []byte) (int, error) {
	for len(sr.pending) == 0 {
		if sr.err != nil {
			return 0, sr.err
		}
		if sr.done {
			return 0, io.EOF
		}
		if err := sr.next(); err != nil {
			sr.err = err
			return 0, err
		}
	}
	n := copy(p, sr.pending)
	sr.pending = sr.pending[n:]
	return n, nil
}

func (sr *Reader) next() error {
	var prefix [4]byte
	if _, err := io.ReadFull(sr.r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return fmt.Errorf("sealed: read frame: %w", err)
	}

	length := binary.BigEndian.Uint32(prefix[:])
	final := length&finalFlag != 0
	length &^= finalFlag
	if length > maxFrame {
		return fmt.Errorf("%w: frame of %d bytes", ErrAuth, length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(sr.r, frame); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrTruncated
		}
		return fmt.Errorf("sealed: read frame: %w", err)
	}

	plain, err := sr.c.Open(frame, frameAAD(sr.header, sr.index, final))
	if err != nil {
		return ErrAuth
	}
	sr.index++
	sr.pending = plain
	sr.done = final
	return nil
}
