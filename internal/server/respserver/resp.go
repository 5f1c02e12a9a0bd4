package respserver

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Protocol limits.
const (
	// MaxArrayLen limits the number of elements in a RESP array. The widest
	// command takes four arguments; replies to KV.RANGE may be longer and are
	// bounded separately by MaxReplyLen.
	MaxArrayLen = 64

	// MaxReplyLen limits the element count of an array reply read by a
	// client.
	MaxReplyLen = 1 << 22

	// MaxBulkLen limits the size of a single bulk string. Stored FIX
	// messages are well under this.
	MaxBulkLen = 4 * 1024 * 1024

	// MaxInlineLen limits inline command line length.
	MaxInlineLen = 4 * 1024

	maxHeaderLen = 64
)

var (
	ErrProtocol      = errors.New("resp: protocol error")
	ErrLimitExceeded = errors.New("resp: limit exceeded")
)

// ReadCommand reads one client command: an array of bulk strings or an
// inline command line. A nil result with a nil error is an empty command.
func ReadCommand(r *bufio.Reader) ([][]byte, error) {
	b, err := r.Peek(1)
	if err != nil {
		return nil, err
	}

	if b[0] != '*' {
		// Inline command, as typed into telnet: "PING\r\n"
		line, err := readLine(r, MaxInlineLen)
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil, nil
		}
		out := make([][]byte, len(fields))
		for i, f := range fields {
			out[i] = []byte(f)
		}
		return out, nil
	}

	n, err := readLength(r, '*', MaxArrayLen)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		arg, err := readBulk(r)
		if err != nil {
			return nil, err
		}
		out = append(out, arg)
	}
	return out, nil
}

// readLength reads a "<prefix><n>\r\n" header. -1 is returned as is.
func readLength(r *bufio.Reader, prefix byte, limit int) (int, error) {
	line, err := readLine(r, maxHeaderLen)
	if err != nil {
		return 0, err
	}
	if len(line) < 2 || line[0] != prefix {
		return 0, fmt.Errorf("%w: expected '%c'", ErrProtocol, prefix)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < -1 {
		return 0, fmt.Errorf("%w: invalid length %q", ErrProtocol, line[1:])
	}
	if n > limit {
		return 0, fmt.Errorf("%w: length %d exceeds limit %d", ErrLimitExceeded, n, limit)
	}
	return n, nil
}

func readBulk(r *bufio.Reader) ([]byte, error) {
	n, err := readLength(r, '$', MaxBulkLen)
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	return readBulkBody(r, n)
}

func readBulkBody(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, fmt.Errorf("%w: invalid bulk terminator", ErrProtocol)
	}
	return buf[:n], nil
}

func readLine(r *bufio.Reader, maxLen int) (string, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		buf = append(buf, frag...)
		if len(buf) > maxLen+2 {
			return "", fmt.Errorf("%w: line length exceeds limit %d", ErrLimitExceeded, maxLen)
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return "", err
	}

	if !bytes.HasSuffix(buf, []byte("\r\n")) {
		return "", fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	return string(buf[:len(buf)-2]), nil
}

// ============================================================================
// Writers
// ============================================================================

func WriteSimpleString(w *bufio.Writer, s string) error {
	_, err := w.WriteString("+" + s + "\r\n")
	return err
}

// WriteError writes an error reply. Line breaks in s are flattened so the
// reply stays a single line.
func WriteError(w *bufio.Writer, s string) error {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	_, err := w.WriteString("-" + s + "\r\n")
	return err
}

func WriteInteger(w *bufio.Writer, n int64) error {
	_, err := w.WriteString(":" + strconv.FormatInt(n, 10) + "\r\n")
	return err
}

func WriteBool(w *bufio.Writer, b bool) error {
	if b {
		return WriteInteger(w, 1)
	}
	return WriteInteger(w, 0)
}

func WriteNullBulk(w *bufio.Writer) error {
	_, err := w.WriteString("$-1\r\n")
	return err
}

func WriteBulkString(w *bufio.Writer, s string) error {
	if _, err := w.WriteString("$" + strconv.Itoa(len(s)) + "\r\n"); err != nil {
		return err
	}
	if _, err := w.WriteString(s); err != nil {
		return err
	}
	_, err := w.WriteString("\r\n")
	return err
}

func WriteArrayHeader(w *bufio.Writer, n int) error {
	_, err := w.WriteString("*" + strconv.Itoa(n) + "\r\n")
	return err
}

// WriteCommand writes args as an array of bulk strings, the form clients
// send.
func WriteCommand(w *bufio.Writer, args ...string) error {
	if err := WriteArrayHeader(w, len(args)); err != nil {
		return err
	}
	for _, a := range args {
		if err := WriteBulkString(w, a); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Replies (client side)
// ============================================================================

// ReplyKind identifies the RESP type of a reply.
type ReplyKind byte

const (
	KindSimple  ReplyKind = '+'
	KindError   ReplyKind = '-'
	KindInteger ReplyKind = ':'
	KindBulk    ReplyKind = '$'
	KindArray   ReplyKind = '*'
)

// Reply is one decoded server reply.
type Reply struct {
	Kind ReplyKind
	// Str holds simple strings, error lines and bulk payloads.
	Str string
	Int int64
	// Null is set for null bulk strings and null arrays.
	Null  bool
	Array []Reply
}

// ReadReply reads one server reply.
func ReadReply(r *bufio.Reader) (Reply, error) {
	b, err := r.Peek(1)
	if err != nil {
		return Reply{}, err
	}
	kind := ReplyKind(b[0])

	switch kind {
	case KindSimple, KindError:
		line, err := readLine(r, MaxBulkLen)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: kind, Str: line[1:]}, nil

	case KindInteger:
		line, err := readLine(r, maxHeaderLen)
		if err != nil {
			return Reply{}, err
		}
		n, err := strconv.ParseInt(line[1:], 10, 64)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: invalid integer %q", ErrProtocol, line[1:])
		}
		return Reply{Kind: kind, Int: n}, nil

	case KindBulk:
		n, err := readLength(r, '$', MaxBulkLen)
		if err != nil {
			return Reply{}, err
		}
		if n == -1 {
			return Reply{Kind: kind, Null: true}, nil
		}
		body, err := readBulkBody(r, n)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: kind, Str: string(body)}, nil

	case KindArray:
		n, err := readLength(r, '*', MaxReplyLen)
		if err != nil {
			return Reply{}, err
		}
		if n == -1 {
			return Reply{Kind: kind, Null: true}, nil
		}
		items := make([]Reply, 0, n)
		for i := 0; i < n; i++ {
			item, err := ReadReply(r)
			if err != nil {
				return Reply{}, err
			}
			items = append(items, item)
		}
		return Reply{Kind: kind, Array: items}, nil

	default:
		return Reply{}, fmt.Errorf("%w: unexpected reply type %q", ErrProtocol, b[0])
	}
}

func normalizeCommandName(b []byte) string {
	if bytes.ContainsAny(b, "abcdefghijklmnopqrstuvwxyz") {
		return strings.ToUpper(string(b))
	}
	return string(b)
}
