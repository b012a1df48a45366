package observability

import (
	"context"
	"fmt"
	"strings"

	"labcrm/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SetupTracing 初始化 OpenTelemetry TracerProvider，返回关闭函数。未启用时返回空操作。
func SetupTracing(ctx context.Context, cfg config.TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpointHost(cfg.Endpoint))}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attribute.String("service.name", serviceName(cfg))),
	)
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg)))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp.Shutdown, nil
}

func serviceName(cfg config.TracingConfig) string {
	if cfg.ServiceName == "" {
		return "labcrm"
	}
	return cfg.ServiceName
}

func sampleRatio(cfg config.TracingConfig) float64 {
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		return 0.1
	}
	return cfg.SampleRatio
}

// endpointHost 从 http://host:port 或 host:port 提取 gRPC 需要的 host:port
func endpointHost(s string) string {
	if s == "" {
		return "localhost:4317"
	}
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(s, scheme) {
			s = strings.TrimPrefix(s, scheme)
			break
		}
	}
	return strings.TrimSuffix(s, "/")
}
