package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"skippy/internal/core"
)

const (
	metricPassesTotal        = "skippy.passes.total"
	metricPassDuration       = "skippy.pass.duration.seconds"
	metricDecisionsTotal     = "skippy.decisions.total"
	metricClassesHashedTotal = "skippy.classes.hashed.total"
	metricTestsExecutedTotal = "skippy.tests.executed.total"
	metricRecoveriesTotal    = "skippy.recoveries.total"

	attrOutcome      = "outcome"
	attrAction       = "action"
	attrReason       = "reason"
	attrFailureClass = "failure_class"
)

// Pass outcomes.
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

var durationBucketBoundaries = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300}

// PassMetrics holds the OTel instruments for analysis passes.
type PassMetrics struct {
	passes        metric.Int64Counter
	passDuration  metric.Float64Histogram
	decisions     metric.Int64Counter
	classesHashed metric.Int64Counter
	testsExecuted metric.Int64Counter
	recoveries    metric.Int64Counter
}

// PassStats summarizes one pass for RecordPass.
type PassStats struct {
	Outcome       string
	Duration      time.Duration
	ClassesHashed int
	TestsExecuted int
	Decisions     []core.Decision
}

// NewPassMetrics creates the pass instruments from mt. Every instrument is
// attempted; all creation errors are reported together.
func NewPassMetrics(mt metric.Meter) (*PassMetrics, error) {
	var errs []error
	counter := func(name, desc, unit string) metric.Int64Counter {
		c, err := mt.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return c
	}

	duration, err := mt.Float64Histogram(metricPassDuration,
		metric.WithDescription("Analysis pass duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", metricPassDuration, err))
	}

	pm := &PassMetrics{
		passes:        counter(metricPassesTotal, "Analysis passes by outcome", "{pass}"),
		passDuration:  duration,
		decisions:     counter(metricDecisionsTotal, "Test decisions by action and reason", "{decision}"),
		classesHashed: counter(metricClassesHashedTotal, "Class files fingerprinted", "{class}"),
		testsExecuted: counter(metricTestsExecutedTotal, "Tests handed to the executor", "{test}"),
		recoveries:    counter(metricRecoveriesTotal, "State wipes by failure class", "{recovery}"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("create pass metrics: %w", err)
	}
	return pm, nil
}

// RecordPass records a finished pass. Safe on a nil receiver.
func (pm *PassMetrics) RecordPass(ctx context.Context, stats PassStats) {
	if pm == nil {
		return
	}

	pm.passes.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, stats.Outcome)))
	pm.passDuration.Record(ctx, stats.Duration.Seconds(),
		metric.WithAttributes(attribute.String(attrOutcome, stats.Outcome)))
	pm.classesHashed.Add(ctx, int64(stats.ClassesHashed))
	pm.testsExecuted.Add(ctx, int64(stats.TestsExecuted))

	for _, d := range stats.Decisions {
		pm.decisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrAction, string(d.Action)),
			attribute.String(attrReason, string(d.Reason)),
		))
	}
}

// RecordRecovery counts one state wipe. Safe on a nil receiver.
func (pm *PassMetrics) RecordRecovery(ctx context.Context, failureClass string) {
	if pm == nil {
		return
	}
	pm.recoveries.Add(ctx, 1, metric.WithAttributes(attribute.String(attrFailureClass, failureClass)))
}
