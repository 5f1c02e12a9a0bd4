package output

import (
	"bytes"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

type record struct {
	Session string        `json:"session" yaml:"session"`
	Next    int           `json:"next_sender" yaml:"next_sender"`
	Age     time.Duration `json:"age" yaml:"age" table:"wide"`
	Secret  string        `json:"-" yaml:"-" table:"-"`
	hidden  string
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{" yaml ", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewFormatter(t *testing.T) {
	if _, ok := NewFormatter(FormatJSON, false).(*JSONFormatter); !ok {
		t.Error("json should give JSONFormatter")
	}
	if _, ok := NewFormatter(FormatYAML, false).(*YAMLFormatter); !ok {
		t.Error("yaml should give YAMLFormatter")
	}
	tf, ok := NewFormatter("unknown", true).(*TableFormatter)
	if !ok || !tf.Wide {
		t.Errorf("unknown format = %#v, want wide TableFormatter", tf)
	}
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	if err := (&JSONFormatter{}).Format(&buf, record{Session: "FIX.4.4:A->B", Next: 7}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`"session": "FIX.4.4:A->B"`, `"next_sender": 7`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Secret") {
		t.Error("json:\"-\" field leaked")
	}
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	data := []record{{Session: "FIX.4.2:X->Y", Next: 3}}
	if err := (&YAMLFormatter{}).Format(&buf, data); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"- session: FIX.4.2:X->Y", "next_sender: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTableFormatter_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := &record{Session: "FIX.4.4:A->B", Next: 12, Age: time.Minute, Secret: "s", hidden: "h"}
	if err := (&TableFormatter{}).Format(&buf, r); err != nil {
		t.Fatal(err)
	}

	out := buf.String()
	for _, want := range []string{"FIELD", "session", "FIX.4.4:A->B", "next_sender", "12"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, reject := range []string{"age", "Secret"} {
		if strings.Contains(out, reject) {
			t.Errorf("output should not contain %q:\n%s", reject, out)
		}
	}
}

func TestTableFormatter_SliceWide(t *testing.T) {
	rows := []record{{Session: "a", Next: 1, Age: time.Second}, {Session: "b", Next: 2}}

	tests := []struct {
		wide    bool
		wantAge bool
	}{
		{false, false},
		{true, true},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		if err := (&TableFormatter{Wide: tt.wide}).Format(&buf, rows); err != nil {
			t.Fatal(err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("wide=%v: got %d lines, want 3:\n%s", tt.wide, len(lines), buf.String())
		}
		if got := strings.Contains(lines[0], "AGE"); got != tt.wantAge {
			t.Errorf("wide=%v: header %q has AGE = %v", tt.wide, lines[0], got)
		}
		if tt.wide && !strings.Contains(lines[1], "1s") {
			t.Errorf("wide row %q missing duration", lines[1])
		}
	}
}

func TestTableFormatter_MapSorted(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{NoHeaders: true}).Format(&buf, map[string]int{"b": 2, "a": 1}); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "a") || !strings.HasPrefix(lines[1], "b") {
		t.Errorf("map rows = %q, want sorted without headers", lines)
	}
}

func TestTableFormatter_Fallbacks(t *testing.T) {
	var buf bytes.Buffer
	if err := (&TableFormatter{}).Format(&buf, nil); err != nil || buf.Len() != 0 {
		t.Errorf("nil data: err=%v out=%q", err, buf.String())
	}

	buf.Reset()
	if err := (&TableFormatter{}).Format(&buf, 42); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "42" {
		t.Errorf("scalar fallback = %q, want JSON 42", buf.String())
	}

	buf.Reset()
	table := &Table{}
	table.SetHeaders("SEQ", "MESSAGE")
	table.AddRow("1", "8=FIX.4.4")
	if err := (&TableFormatter{}).Format(&buf, table); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "8=FIX.4.4") {
		t.Errorf("prebuilt table = %q", buf.String())
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	var nilPtr *int

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"empty string", "", "-"},
		{"int", 42, "42"},
		{"uint", uint64(7), "7"},
		{"float", 1.5, "1.50"},
		{"bool", true, "true"},
		{"time", ts, "2024-03-01 09:30:00Z"},
		{"zero time", time.Time{}, "-"},
		{"duration", 90 * time.Second, "1m30s"},
		{"nil pointer", nilPtr, "-"},
		{"slice", []int{1, 2}, "[2 items]"},
		{"empty map", map[string]int{}, "-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatValue(reflectValue(tt.in)); got != tt.want {
				t.Errorf("formatValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"NextSender": "next_sender",
		"ID":         "i_d",
		"simple":     "simple",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgress(&buf, "backup", 2048)
	if _, err := p.Write(make([]byte, 1024)); err != nil {
		t.Fatal(err)
	}
	if p.Current() != 1024 {
		t.Errorf("Current() = %d, want 1024", p.Current())
	}
	if !strings.Contains(buf.String(), "50%") {
		t.Errorf("render = %q, want 50%%", buf.String())
	}
	p.Finish()
	if !strings.HasSuffix(buf.String(), "\n") || !strings.Contains(buf.String(), "100%") {
		t.Errorf("Finish() output = %q", buf.String())
	}

	buf.Reset()
	unknown := NewProgress(&buf, "backup", 0)
	unknown.Add(10)
	if !strings.Contains(buf.String(), "10 B") {
		t.Errorf("unknown total render = %q", buf.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.in); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSpinner(t *testing.T) {
	var buf syncBuffer
	s := NewSpinner(&buf, "compacting")
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Success("done")
	s.Fail("ignored after Success")
	s.Stop()

	out := buf.String()
	if !strings.Contains(out, "compacting") || !strings.Contains(out, "ok    done") {
		t.Errorf("spinner output = %q", out)
	}
	if strings.Contains(out, "ignored") {
		t.Error("second stop should not print")
	}

	// Stop without Start must not block or panic.
	NewSpinner(&buf, "idle").Stop()
}

func reflectValue(v any) reflect.Value {
	return reflect.ValueOf(v)
}

// syncBuffer is a bytes.Buffer safe for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
