// Package metrics exposes application-level OpenTelemetry instruments for
// debates, usage metering and billing.
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
	debatesStarted   metric.Int64Counter
	debatesCompleted metric.Int64Counter
	turnsCompleted   metric.Int64Counter
	turnErrors       metric.Int64Counter
	tokensMetered    metric.Int64Counter
	usageEvents      metric.Int64Counter
	limitViolations  metric.Int64Counter
	billingSweeps    metric.Int64Counter
	sweepDuration    metric.Float64Histogram
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

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "boardroom"
	}
	meter := provider.Meter(name)

	debatesStarted, err := meter.Int64Counter("boardroom_debates_started_total")
	if err != nil {
		return nil, err
	}
	debatesCompleted, err := meter.Int64Counter("boardroom_debates_completed_total")
	if err != nil {
		return nil, err
	}
	turnsCompleted, err := meter.Int64Counter("boardroom_debate_turns_total")
	if err != nil {
		return nil, err
	}
	turnErrors, err := meter.Int64Counter("boardroom_debate_turn_errors_total")
	if err != nil {
		return nil, err
	}
	tokensMetered, err := meter.Int64Counter("boardroom_tokens_metered_total")
	if err != nil {
		return nil, err
	}
	usageEvents, err := meter.Int64Counter("boardroom_usage_events_total")
	if err != nil {
		return nil, err
	}
	limitViolations, err := meter.Int64Counter("boardroom_limit_violations_total")
	if err != nil {
		return nil, err
	}
	billingSweeps, err := meter.Int64Counter("boardroom_billing_sweeps_total")
	if err != nil {
		return nil, err
	}
	sweepDuration, err := meter.Float64Histogram("boardroom_billing_sweep_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		debatesStarted:   debatesStarted,
		debatesCompleted: debatesCompleted,
		turnsCompleted:   turnsCompleted,
		turnErrors:       turnErrors,
		tokensMetered:    tokensMetered,
		usageEvents:      usageEvents,
		limitViolations:  limitViolations,
		billingSweeps:    billingSweeps,
		sweepDuration:    sweepDuration,
	}, nil
}

func (m *Metrics) RecordDebateStarted(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.debatesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *Metrics) RecordDebateCompleted(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.debatesCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *Metrics) RecordTurnCompleted(ctx context.Context, persona string) {
	if m == nil {
		return
	}
	m.turnsCompleted.Add(ctx, 1, metric.WithAttributes(attribute.String("persona", persona)))
}

func (m *Metrics) RecordTurnError(ctx context.Context, persona string) {
	if m == nil {
		return
	}
	m.turnErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("persona", persona)))
}

func (m *Metrics) RecordTokens(ctx context.Context, model string, tokens int64) {
	if m == nil || tokens <= 0 {
		return
	}
	m.tokensMetered.Add(ctx, tokens, metric.WithAttributes(attribute.String("model", model)))
}

func (m *Metrics) RecordUsageEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.usageEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

func (m *Metrics) RecordLimitViolation(ctx context.Context, feature string) {
	if m == nil {
		return
	}
	m.limitViolations.Add(ctx, 1, metric.WithAttributes(attribute.String("feature", feature)))
}

func (m *Metrics) RecordBillingSweep(ctx context.Context, duration time.Duration, failed int) {
	if m == nil {
		return
	}
	m.billingSweeps.Add(ctx, 1, metric.WithAttributes(attribute.Int("failed", failed)))
	m.sweepDuration.Record(ctx, duration.Seconds())
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
