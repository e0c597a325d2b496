// Package telemetry wires OpenTelemetry traces, metrics and logs to an OTLP
// collector over a single gRPC connection.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Settings identifies the service and where telemetry is exported.
type Settings struct {
	ServiceName  string
	OTLPEndpoint string
	Environment  string
}

// Providers owns the SDK providers and their exporter connection.
type Providers struct {
	conn   *grpc.ClientConn
	Tracer *sdktrace.TracerProvider
	Meter  *sdkmetric.MeterProvider
	Logger *sdklog.LoggerProvider
}

// Setup initializes tracer, meter and logger providers in that order, so that
// the returned logger correlates with spans. On error, anything already
// started is shut down.
func Setup(ctx context.Context, s Settings) (*Providers, *slog.Logger, error) {
	conn, err := grpc.NewClient(s.OTLPEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	res, err := newResource(s)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}

	p := &Providers{conn: conn}

	if p.Tracer, err = InitTracerProvider(ctx, conn, res); err != nil {
		return nil, nil, errors.Join(err, p.Shutdown(ctx))
	}
	if p.Meter, err = InitMeterProvider(ctx, conn, res); err != nil {
		return nil, nil, errors.Join(err, p.Shutdown(ctx))
	}

	lp, logger, err := InitLoggerProvider(ctx, conn, res, s.ServiceName)
	if err != nil {
		return nil, nil, errors.Join(err, p.Shutdown(ctx))
	}
	p.Logger = lp

	return p, logger, nil
}

// Shutdown flushes and stops every provider, then closes the connection.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	if p.Logger != nil {
		errs = append(errs, p.Logger.Shutdown(ctx))
	}
	if p.Meter != nil {
		errs = append(errs, p.Meter.Shutdown(ctx))
	}
	if p.Tracer != nil {
		errs = append(errs, p.Tracer.Shutdown(ctx))
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}

func newResource(s Settings) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(s.ServiceName),
			semconv.DeploymentEnvironment(s.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}
