package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func jsonLogger(t *testing.T, buf *bytes.Buffer) Logger {
	t.Helper()
	l, err := New(Config{Level: "info", Format: "json", Output: buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l
}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log %q: %v", buf.String(), err)
	}
	return entry
}

func sampledSpan() (context.Context, trace.TraceID) {
	tid := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     trace.SpanID{0, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	})
	return trace.ContextWithSpanContext(context.Background(), sc), tid
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := jsonLogger(t, &buf)

	FromContext(WithLogger(context.Background(), l)).Info("stored")
	if buf.Len() == 0 {
		t.Error("logger from context should write to its output")
	}

	if FromContext(context.Background()) == nil {
		t.Error("FromContext without a logger should return the default")
	}
}

func TestRequestIDFromContext(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("RequestIDFromContext() = %q, want empty", got)
	}
	ctx := WithRequestID(context.Background(), "req-01J")
	if got := RequestIDFromContext(ctx); got != "req-01J" {
		t.Errorf("RequestIDFromContext() = %q, want req-01J", got)
	}
}

func TestTraceIDFromContext(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext() without span = %q, want empty", got)
	}
	ctx, tid := sampledSpan()
	if got := TraceIDFromContext(ctx); got != tid.String() {
		t.Errorf("TraceIDFromContext() = %q, want %q", got, tid.String())
	}
}

func TestL(t *testing.T) {
	spanCtx, tid := sampledSpan()

	tests := []struct {
		name          string
		ctx           context.Context
		wantRequestID string
		wantTraceID   string
	}{
		{"no ids", context.Background(), "", ""},
		{"request id", WithRequestID(context.Background(), "req-1"), "req-1", ""},
		{"span", spanCtx, "", tid.String()},
		{"both", WithRequestID(spanCtx, "req-2"), "req-2", tid.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			L(WithLogger(tt.ctx, jsonLogger(t, &buf))).Info("reset")

			entry := decode(t, &buf)
			if got, _ := entry["request_id"].(string); got != tt.wantRequestID {
				t.Errorf("request_id = %q, want %q", got, tt.wantRequestID)
			}
			if got, _ := entry["trace_id"].(string); got != tt.wantTraceID {
				t.Errorf("trace_id = %q, want %q", got, tt.wantTraceID)
			}
		})
	}
}

func TestFromSlog(t *testing.T) {
	if FromSlog(nil) == nil {
		t.Fatal("FromSlog(nil) should fall back to the default logger")
	}

	var buf bytes.Buffer
	sl := ToSlog(jsonLogger(t, &buf))
	l := FromSlog(sl)
	if ToSlog(l) != sl {
		t.Error("ToSlog(FromSlog(sl)) should return sl")
	}
	l.With("session_id", "FIX.4.4:A->B").Warn("gap")
	if entry := decode(t, &buf); entry["session_id"] != "FIX.4.4:A->B" {
		t.Errorf("entry = %v", entry)
	}
}
