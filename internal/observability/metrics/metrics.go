package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	bookings        metric.Int64Counter
	bookingRejected metric.Int64Counter
	paymentEvents   metric.Int64Counter
	webhookFailures metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}

// New creates the application instrument set.
func New(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("fstop")

	bookings, err := meter.Int64Counter("fstop_bookings_total",
		metric.WithDescription("Bookings created"))
	if err != nil {
		return nil, err
	}
	rejected, err := meter.Int64Counter("fstop_bookings_rejected_total",
		metric.WithDescription("Booking requests rejected by capacity or schedule"))
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("fstop_payment_events_total",
		metric.WithDescription("Payment provider events applied"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("fstop_webhook_failures_total",
		metric.WithDescription("Webhook envelopes recorded for manual follow-up"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		bookings:        bookings,
		bookingRejected: rejected,
		paymentEvents:   paymentEvents,
		webhookFailures: failures,
	}, nil
}

func (m *Metrics) RecordBooking(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.bookings.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) RecordBookingRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.bookingRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) RecordWebhookFailure(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.webhookFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
