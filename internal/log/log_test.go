package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/tvdn/tvdn-web/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("parse log line: %v\nraw: %s", err, buf.String())
	}
	return m
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"  warn ", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil || !strings.Contains(err.Error(), "verbose") {
		t.Fatalf("want error naming the bad level, got %v", err)
	}
}

func TestContext_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "tvdn-web"})
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != Logger(l) {
		t.Fatal("FromContext should return the stored logger")
	}
	if _, ok := FromContext(context.Background()).(nop); !ok {
		t.Fatal("empty context should yield Nop")
	}
	var nilLogger Logger
	if _, ok := FromContext(WithContext(context.Background(), nilLogger)).(nop); !ok {
		t.Fatal("nil logger should yield Nop")
	}
}

func TestNop_Safe(t *testing.T) {
	l := Nop().With("a", 1, "odd")
	ctx := context.Background()
	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	l.Warn(ctx, "w")
	l.Error(ctx, nil, "e")
	if err := l.Sync(); err != nil {
		t.Fatal(err)
	}
}

func TestLogger_BaseAttrsAndLevels(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "tvdn-web", Version: "1.2.3", Level: slog.LevelWarn})
	ctx := context.Background()

	l.Debug(ctx, "hidden")
	l.Info(ctx, "hidden")
	if buf.Len() != 0 {
		t.Fatalf("below-level records leaked: %s", buf.String())
	}
	l.Warn(ctx, "cms slow", "slug", "hello")
	m := lastRecord(t, &buf)
	if m["msg"] != "cms slow" || m["app"] != "tvdn-web" || m["version"] != "1.2.3" || m["slug"] != "hello" {
		t.Fatalf("record = %v", m)
	}
	if _, ok := m["source"]; !ok {
		t.Fatal("records should carry source")
	}
}

func TestLogger_SourcePointsAtCaller(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})
	l.Info(context.Background(), "here")
	src, _ := lastRecord(t, &buf)["source"].(map[string]any)
	if fn, _ := src["function"].(string); !strings.Contains(fn, "TestLogger_SourcePointsAtCaller") {
		t.Fatalf("source function = %v", src["function"])
	}
}

func TestLogger_WithIsCopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{App: "x"})
	a := base.With("component", "seo")
	_ = base.With("component", "cms", 42, "dropped", "trailing")

	a.Info(context.Background(), "from a")
	m := lastRecord(t, &buf)
	if m["component"] != "seo" {
		t.Fatalf("component = %v", m["component"])
	}

	buf.Reset()
	base.Info(context.Background(), "from base")
	if _, ok := lastRecord(t, &buf)["component"]; ok {
		t.Fatal("With must not mutate the parent")
	}
}

func TestLogger_ErrorEnrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x", IncludeErrorLinks: true})

	root := errors.New("connection refused")
	err := xerrors.Wrap(xerrors.WithKind(root, xerrors.KindUpstream), "fetch post")
	l.Error(context.Background(), err, "cms lookup failed", "slug", "hello")

	m := lastRecord(t, &buf)
	if m["err"] != "fetch post: connection refused" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["error_kind"] != "upstream" {
		t.Fatalf("error_kind = %v", m["error_kind"])
	}
	if m["cause_type"] != "*errors.errorString" || m["error_type"] != "*errors.errorString" {
		t.Fatalf("types = %v / %v", m["error_type"], m["cause_type"])
	}
	chain, _ := m["error_chain"].([]any)
	if len(chain) != 2 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	links, _ := m["error_links"].([]any)
	if len(links) == 0 {
		t.Fatal("error_links missing")
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("error level should carry a stack")
	}
}

func TestLogger_ErrorNil(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})
	l.Error(context.Background(), nil, "nothing")
	m := lastRecord(t, &buf)
	if _, ok := m["err"]; ok {
		t.Fatal("nil error should not add err")
	}
}

func TestTraceHandler_AddsIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x"})
	tid, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	sid, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")
	m := lastRecord(t, &buf)
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Fatalf("trace ids = %v %v", m["trace_id"], m["span_id"])
	}
}

func TestStackHandler_PrefersErrorStack(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "x", StacktraceLevel: slog.LevelWarn})
	err := makeStackedError()
	l.Error(context.Background(), err, "boom")
	stack, _ := lastRecord(t, &buf)["stack"].(string)
	if !strings.Contains(stack, "makeStackedError") {
		t.Fatalf("stack should come from the error:\n%s", stack)
	}

	buf.Reset()
	l.Info(context.Background(), "quiet")
	if _, ok := lastRecord(t, &buf)["stack"]; ok {
		t.Fatal("info is below the stack level")
	}
}

func makeStackedError() error { return xerrors.New("stacked") }

func TestErrorChain(t *testing.T) {
	base := errors.New("base")
	if got := errorChain(fmt.Errorf("a: %w", base)); len(got) != 2 || got[1] != "base" {
		t.Fatalf("chain = %v", got)
	}
	// identical adjacent messages collapse
	if got := errorChain(xerrors.WithStack(base)); len(got) != 1 {
		t.Fatalf("chain = %v", got)
	}
	joined := errors.Join(errors.New("x"), errors.New("y"))
	if got := errorChain(joined); len(got) != 3 {
		t.Fatalf("joined chain = %v", got)
	}
}

type customError struct{}

func (*customError) Error() string { return "custom" }

func TestErrorTypes_SkipsWrappers(t *testing.T) {
	err := fmt.Errorf("outer: %w", xerrors.Wrap(&customError{}, "mid"))
	surface, root := errorTypes(err)
	if surface != "*log.customError" || root != "*log.customError" {
		t.Fatalf("surface=%s root=%s", surface, root)
	}
	if s, r := errorTypes(nil); s != "" || r != "" {
		t.Fatal("nil should yield empty types")
	}
}

func TestErrorLinks_RespectsMax(t *testing.T) {
	err := xerrors.Wrap(xerrors.Wrap(xerrors.Wrap(errors.New("root"), "a"), "b"), "c")
	if got := errorLinks(err, 2); len(got) != 2 {
		t.Fatalf("links = %d", len(got))
	}
	if got := errorLinks(err, 0); len(got) < 3 {
		t.Fatalf("unbounded links = %d", len(got))
	}
}
