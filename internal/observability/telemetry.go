package observability

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// shutdownTimeout is the maximum time to wait for shutdown.
const shutdownTimeout = 5 * time.Second

// Telemetry holds the meter provider and metric instruments.
type Telemetry struct {
	config        *Config
	meterProvider metric.MeterProvider
	reader        sdkmetric.Reader
	metrics       *Metrics
	shutdownOnce  sync.Once
}

// Init initializes OpenTelemetry metrics with the given configuration.
// Returns a Telemetry manager and a cleanup function for defer.
func Init(ctx context.Context, cfg *Config) (*Telemetry, func(), error) {
	if !cfg.Enabled() {
		return &Telemetry{config: cfg}, func() {}, nil
	}

	reader, err := newReader(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	metrics, err := InitMetrics(mp)
	if err != nil {
		mp.Shutdown(ctx)
		return nil, nil, err
	}

	tel := &Telemetry{
		config:        cfg,
		meterProvider: mp,
		reader:        reader,
		metrics:       metrics,
	}
	return tel, tel.Cleanup, nil
}

func newReader(ctx context.Context, cfg *Config) (sdkmetric.Reader, error) {
	switch cfg.Exporter {
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter), nil
	case "otlp":
		conn, err := grpc.NewClient(cfg.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to OTLP collector: %w", err)
		}
		exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("create OTLP metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter), nil
	default:
		return nil, fmt.Errorf("unknown exporter: %s", cfg.Exporter)
	}
}

// MeterProvider returns the meter provider (global default if disabled).
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	if t.meterProvider != nil {
		return t.meterProvider
	}
	return otel.GetMeterProvider()
}

// Metrics returns the metric instruments (nil if disabled).
func (t *Telemetry) Metrics() *Metrics {
	return t.metrics
}

// Shutdown flushes and closes the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	t.shutdownOnce.Do(func() {
		// ForceFlush is only available on PeriodicReader.
		if fr, ok := t.reader.(interface{ ForceFlush(context.Context) error }); ok {
			if flushErr := fr.ForceFlush(ctx); flushErr != nil {
				err = flushErr
			}
		}
		if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
			if shutdownErr := mp.Shutdown(ctx); shutdownErr != nil && err == nil {
				err = shutdownErr
			}
		}
	})
	return err
}

// Cleanup is a convenience function for defer cleanup.
func (t *Telemetry) Cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = t.Shutdown(ctx)
}
