package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Endpoint: "ignored"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown #%d: %v", i+1, err)
		}
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("provider = %T", otel.GetTracerProvider())
	}

	// default sampler with no exporter: spans are real but go nowhere
	_, span := Tracer().Start(context.Background(), "probe")
	if !span.SpanContext().IsValid() {
		t.Fatal("span context should be valid")
	}
	span.End()
}

func TestInit_Disabled_Propagators(t *testing.T) {
	_, _ = Init(context.Background(), Options{})
	fields := otel.GetTextMapPropagator().Fields()
	want := map[string]bool{"traceparent": false, "baggage": false}
	for _, f := range fields {
		if _, ok := want[f]; ok {
			want[f] = true
		}
	}
	for f, seen := range want {
		if !seen {
			t.Errorf("propagator field %q missing from %v", f, fields)
		}
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestInit_EnabledReturnsPromptly(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:   true,
		Endpoint:  "127.0.0.1:1",
		Insecure:  true,
		Sample:    1,
		Service:   "tvdn-web",
		Component: "test",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if d := time.Since(start); d > 5*time.Second {
		t.Fatalf("Init took %s", d)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = shutdown(ctx)
}

func TestServiceName(t *testing.T) {
	tests := map[Options]string{
		{Service: "tvdn-web", Component: "server"}: "tvdn-web.server",
		{Service: "tvdn-web"}:                      "tvdn-web",
		{Component: "server"}:                      "server",
	}
	for o, want := range tests {
		if got := o.ServiceName(); got != want {
			t.Errorf("ServiceName(%+v) = %q, want %q", o, got, want)
		}
	}
}

func TestTracer_UsesInstalledProvider(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(sdktrace.NewTracerProvider()) })

	_, span := Tracer().Start(context.Background(), "ogimage.render")
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "ogimage.render" {
		t.Fatalf("ended = %v", ended)
	}
	if got := ended[0].InstrumentationScope().Name; got != instrumentation {
		t.Fatalf("scope = %q", got)
	}
}
