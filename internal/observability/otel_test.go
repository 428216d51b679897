package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/AishaRafeeq/go-token-backend/internal/config"
)

func TestSetupOTel_DisabledIsNoOp(t *testing.T) {
	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("disabled setup errored: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected a shutdown func")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("no-op shutdown errored: %v", err)
	}
}

func TestSetupOTel_ExporterError(t *testing.T) {
	orig := newOTLPExporterFn
	defer func() { newOTLPExporterFn = orig }()

	newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("dial failed")
	}

	_, err := SetupOTel(context.Background(), config.OTELConfig{
		Enabled: true, Endpoint: "localhost:4317", Insecure: true, ServiceName: "svc",
	}, "test")
	if err == nil {
		t.Fatal("expected exporter error to surface")
	}
}

func TestSetupOTel_ResourceError(t *testing.T) {
	origExp := newOTLPExporterFn
	origRes := newServiceResourceFn
	defer func() {
		newOTLPExporterFn = origExp
		newServiceResourceFn = origRes
	}()

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return &otlptrace.Exporter{}, nil
	}
	newServiceResourceFn = func(context.Context, string, string) (*resource.Resource, error) {
		return nil, errors.New("bad resource")
	}

	_, err := SetupOTel(context.Background(), config.OTELConfig{
		Enabled: true, Endpoint: "localhost:4317", Insecure: true, ServiceName: "svc",
	}, "test")
	if err == nil {
		t.Fatal("expected resource error to surface")
	}
}
