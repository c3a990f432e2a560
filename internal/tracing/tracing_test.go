package tracing_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/runnerprobe/internal/tracing"
)

func recorder(t *testing.T) (*tracetest.InMemoryExporter, trace.Tracer) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter, tp.Tracer("test")
}

func attr(span tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func boolPtr(b bool) *bool { return &b }

func TestInit(t *testing.T) {
	tests := []struct {
		name          string
		cfg           tracing.Config
		wantErr       bool
		wantPropagate bool
	}{
		{name: "no endpoint", cfg: tracing.Config{}},
		{name: "no endpoint, propagate requested", cfg: tracing.Config{Propagate: boolPtr(true)}},
		{name: "grpc", cfg: tracing.Config{Endpoint: "localhost:4317", SampleRate: 1, Insecure: true}, wantPropagate: true},
		{name: "http", cfg: tracing.Config{Endpoint: "localhost:4318", Protocol: "HTTP", SampleRate: 0.25, Insecure: true}, wantPropagate: true},
		{name: "propagation off", cfg: tracing.Config{Endpoint: "localhost:4317", Insecure: true, Propagate: boolPtr(false)}},
		{name: "bad protocol", cfg: tracing.Config{Endpoint: "localhost:4317", Protocol: "zipkin"}, wantErr: true},
		{name: "negative rate", cfg: tracing.Config{Endpoint: "localhost:4317", SampleRate: -0.1}, wantErr: true},
		{name: "rate above one", cfg: tracing.Config{Endpoint: "localhost:4317", SampleRate: 2}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
			p, err := tracing.Init(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Init() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			defer p.Shutdown(context.Background())
			if got := p.ShouldPropagate(); got != tt.wantPropagate {
				t.Errorf("ShouldPropagate() = %v, want %v", got, tt.wantPropagate)
			}
			_, span := p.Tracer().Start(context.Background(), "probe")
			span.End()
		})
	}
}

func TestInitReadsEndpointFromEnvironment(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	p, err := tracing.Init(context.Background(), tracing.Config{SampleRate: 1, Insecure: true})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer p.Shutdown(context.Background())
	if !p.ShouldPropagate() {
		t.Errorf("ShouldPropagate() = false with an environment endpoint")
	}
}

func TestNilProvider(t *testing.T) {
	var p *tracing.Provider
	if p.ShouldPropagate() {
		t.Error("nil provider propagates")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	_, span := p.Tracer().Start(context.Background(), "probe")
	if span.SpanContext().IsValid() {
		t.Errorf("nil provider produced a recording span")
	}
	span.End()
}

func TestStartCallSpan(t *testing.T) {
	exporter, tracer := recorder(t)

	_, span := tracing.StartCallSpan(context.Background(), tracer, "dispatch", http.MethodPost, "https://api.github.com/repos/o/r/actions/workflows/probe.yml/dispatches")
	span.End()
	_, span = tracing.StartCallSpan(context.Background(), tracer, "", "", "https://api.github.com/repos/o/r/actions/runs")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name != "api dispatch" || spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("first span = %q kind %v", spans[0].Name, spans[0].SpanKind)
	}
	if v, _ := attr(spans[0], "runnerprobe.call"); v.AsString() != "dispatch" {
		t.Errorf("runnerprobe.call = %q", v.AsString())
	}
	if v, _ := attr(spans[0], "http.request.method"); v.AsString() != http.MethodPost {
		t.Errorf("method = %q", v.AsString())
	}
	if spans[1].Name != "api request" {
		t.Errorf("unnamed call span = %q", spans[1].Name)
	}
	if v, _ := attr(spans[1], "http.request.method"); v.AsString() != http.MethodGet {
		t.Errorf("default method = %q", v.AsString())
	}
	if _, ok := attr(spans[1], "runnerprobe.call"); ok {
		t.Errorf("unnamed call carries runnerprobe.call")
	}
}

func TestPhaseSpans(t *testing.T) {
	exporter, tracer := recorder(t)
	const runID = "steady_20240101_000000_abcd1234"

	ctx, run := tracing.StartPhaseSpan(context.Background(), tracer, runID, "run")
	_, drain := tracing.StartPhaseSpan(ctx, tracer, runID, "drain")
	tracing.EndSpan(drain, errors.New("drain stopped with 2 active and 0 pending jobs"), attribute.Int("active", 2))
	tracing.EndSpan(run, nil)

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	drainSpan, runSpan := spans[0], spans[1]
	if drainSpan.Name != "runnerprobe drain" || runSpan.Name != "runnerprobe run" {
		t.Fatalf("span names = %q, %q", drainSpan.Name, runSpan.Name)
	}
	if drainSpan.Parent.SpanID() != runSpan.SpanContext.SpanID() {
		t.Errorf("drain is not a child of run")
	}
	if v, _ := attr(drainSpan, "runnerprobe.run_id"); v.AsString() != runID {
		t.Errorf("run_id = %q", v.AsString())
	}
	if v, _ := attr(drainSpan, "active"); v.AsInt64() != 2 {
		t.Errorf("extra attribute not recorded")
	}
	if drainSpan.Status.Code != codes.Error || !strings.Contains(drainSpan.Status.Description, "2 active") {
		t.Errorf("drain status = %+v", drainSpan.Status)
	}
	if len(drainSpan.Events) == 0 {
		t.Errorf("error event not recorded")
	}
	if runSpan.Status.Code != codes.Ok {
		t.Errorf("run status = %+v", runSpan.Status)
	}
}

func TestInjectHTTPHeaders(t *testing.T) {
	_, tracer := recorder(t)

	headers := http.Header{}
	tracing.InjectHTTPHeaders(context.Background(), headers)
	if got := headers.Get("Traceparent"); got != "" {
		t.Errorf("traceparent without a span = %q", got)
	}

	ctx, span := tracer.Start(context.Background(), "call")
	defer span.End()
	tracing.InjectHTTPHeaders(ctx, headers)
	got := headers.Get("Traceparent")
	if !strings.HasPrefix(got, "00-"+span.SpanContext().TraceID().String()) {
		t.Errorf("traceparent = %q", got)
	}
}
