package exporters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"

	DefaultTimeout = 10 * time.Second
)

// Collector ports follow the OTLP defaults.
var defaultEndpoints = map[string]string{
	ProtocolGRPC: "localhost:4317",
	ProtocolHTTP: "localhost:4318",
}

type OTLPConfig struct {
	// Host and port of the collector, without a scheme
	Endpoint string
	// grpc (default) or http
	Protocol string
	Insecure bool
	// Sent with every export, e.g. collector API keys
	Headers map[string]string
	Timeout time.Duration
}

type builder func(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error)

var builders = map[string]builder{
	ProtocolGRPC: grpcExporter,
	ProtocolHTTP: httpExporter,
}

// Normalize fills the protocol, endpoint and timeout defaults and rejects
// protocols without a builder.
func (c OTLPConfig) Normalize() (OTLPConfig, error) {
	c.Protocol = strings.ToLower(strings.TrimSpace(c.Protocol))
	if c.Protocol == "" {
		c.Protocol = ProtocolGRPC
	}
	if _, ok := builders[c.Protocol]; !ok {
		return c, fmt.Errorf("unsupported OTLP protocol %q, expected %s or %s", c.Protocol, ProtocolGRPC, ProtocolHTTP)
	}

	c.Endpoint = strings.TrimSpace(c.Endpoint)
	for _, scheme := range []string{"http://", "https://"} {
		c.Endpoint = strings.TrimPrefix(c.Endpoint, scheme)
	}
	if c.Endpoint == "" {
		c.Endpoint = defaultEndpoints[c.Protocol]
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c, nil
}

// NewOTLPExporter builds a trace exporter for the configured protocol. Neither
// transport connects until the first batch is exported.
func NewOTLPExporter(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error) {
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	return builders[cfg.Protocol](ctx, cfg)
}

func grpcExporter(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func httpExporter(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithTimeout(cfg.Timeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return otlptracehttp.New(ctx, opts...)
}
