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
	invoiceIssued    metric.Int64Counter
	invoiceCancelled metric.Int64Counter
	statusChecks     metric.Int64Counter
	quotaConsumed    metric.Int64Counter
	usageRecorded    metric.Int64Counter
	cyclesSealed     metric.Int64Counter
	paymentsRecorded metric.Int64Counter
	providerErrors   metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "taxbill"
	}
	meter := provider.Meter(name)

	invoiceIssued, err := meter.Int64Counter("taxbill_invoices_issued_total")
	if err != nil {
		return nil, err
	}
	invoiceCancelled, err := meter.Int64Counter("taxbill_invoices_cancelled_total")
	if err != nil {
		return nil, err
	}
	statusChecks, err := meter.Int64Counter("taxbill_status_checks_total")
	if err != nil {
		return nil, err
	}
	quotaConsumed, err := meter.Int64Counter("taxbill_quota_consumed_total")
	if err != nil {
		return nil, err
	}
	usageRecorded, err := meter.Int64Counter("taxbill_usage_records_total")
	if err != nil {
		return nil, err
	}
	cyclesSealed, err := meter.Int64Counter("taxbill_billing_cycles_sealed_total")
	if err != nil {
		return nil, err
	}
	paymentsRecorded, err := meter.Int64Counter("taxbill_payments_recorded_total")
	if err != nil {
		return nil, err
	}
	providerErrors, err := meter.Int64Counter("taxbill_provider_errors_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("taxbill_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("taxbill_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invoiceIssued:    invoiceIssued,
		invoiceCancelled: invoiceCancelled,
		statusChecks:     statusChecks,
		quotaConsumed:    quotaConsumed,
		usageRecorded:    usageRecorded,
		cyclesSealed:     cyclesSealed,
		paymentsRecorded: paymentsRecorded,
		providerErrors:   providerErrors,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordInvoiceIssued increments issuance counts.
func (m *Metrics) RecordInvoiceIssued(ctx context.Context, charged bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.Bool("charged", charged))
	m.invoiceIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordInvoiceCancelled increments cancellation counts.
func (m *Metrics) RecordInvoiceCancelled(ctx context.Context) {
	if m == nil {
		return
	}
	m.invoiceCancelled.Add(ctx, 1)
}

// RecordStatusCheck increments invoice status lookup counts.
func (m *Metrics) RecordStatusCheck(ctx context.Context, charged bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.Bool("charged", charged))
	m.statusChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQuotaConsumed increments free quota consumption counts.
func (m *Metrics) RecordQuotaConsumed(ctx context.Context, counter string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("counter", strings.TrimSpace(counter)))
	m.quotaConsumed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsage increments priced usage record counts.
func (m *Metrics) RecordUsage(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.usageRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCycleSealed increments sealed billing cycle counts.
func (m *Metrics) RecordCycleSealed(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("trigger", strings.TrimSpace(trigger)))
	m.cyclesSealed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment increments recorded payment counts.
func (m *Metrics) RecordPayment(ctx context.Context, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("method", strings.TrimSpace(method)))
	m.paymentsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProviderError increments provider failure counts.
func (m *Metrics) RecordProviderError(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.providerErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"event_type":  {},
	"counter":     {},
	"trigger":     {},
	"method":      {},
	"operation":   {},
	"reason":      {},
	"charged":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
