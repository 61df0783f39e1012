package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all telecore metrics instruments: run execution, delivery,
// and lease-reclaim observability.
type Metrics struct {
	IngressDuration      metric.Float64Histogram
	RunDuration          metric.Float64Histogram
	DeliveryEditDuration metric.Float64Histogram
	RunsCompleted        metric.Int64Counter
	RunsFailed           metric.Int64Counter
	RunsCancelled        metric.Int64Counter
	ActiveRuns           metric.Int64UpDownCounter
	CliEventsAppended    metric.Int64Counter
	RateLimitRetries     metric.Int64Counter
	DeliveryErrors       metric.Int64Counter
	LeaseReclaims        metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.IngressDuration, err = meter.Float64Histogram("telecore.ingress.duration",
		metric.WithDescription("Time from update acceptance to UpdateJob completion, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RunDuration, err = meter.Float64Histogram("telecore.run.duration",
		metric.WithDescription("RunJob execution duration in seconds, from claim to terminal state"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DeliveryEditDuration, err = meter.Float64Histogram("telecore.delivery.edit.duration",
		metric.WithDescription("Duration of a single platform message edit call, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsCompleted, err = meter.Int64Counter("telecore.run.completed",
		metric.WithDescription("RunJobs that reached the completed state"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsFailed, err = meter.Int64Counter("telecore.run.failed",
		metric.WithDescription("RunJobs that reached the failed state"),
	)
	if err != nil {
		return nil, err
	}

	m.RunsCancelled, err = meter.Int64Counter("telecore.run.cancelled",
		metric.WithDescription("RunJobs cancelled by user request"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveRuns, err = meter.Int64UpDownCounter("telecore.run.active",
		metric.WithDescription("Number of RunJobs currently leased or in flight"),
	)
	if err != nil {
		return nil, err
	}

	m.CliEventsAppended, err = meter.Int64Counter("telecore.run.cli_events",
		metric.WithDescription("CliEvents persisted across all runs"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRetries, err = meter.Int64Counter("telecore.delivery.rate_limit_retry",
		metric.WithDescription("Times a delivery call was retried after a platform 429 retry_after response"),
	)
	if err != nil {
		return nil, err
	}

	m.DeliveryErrors, err = meter.Int64Counter("telecore.delivery.errors",
		metric.WithDescription("Non-429 delivery errors surfaced to the chat as delivery_error events"),
	)
	if err != nil {
		return nil, err
	}

	m.LeaseReclaims, err = meter.Int64Counter("telecore.lease.reclaims",
		metric.WithDescription("Expired UpdateJob/RunJob leases reclaimed by the janitor"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
