// Copyright 2025 The Jobexec Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stats is the OpenTelemetry-backed metrics and tracing bridge
// for job execution: a duration histogram, submitted/succeeded/failed
// counters, and a per-job span. A nil *Collector is safe to call every
// method on (no-op), so wiring observability into an executor is opt-in.
package stats

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Collector records job execution metrics and traces.
type Collector struct {
	tracer trace.Tracer

	submittedTotal metric.Int64Counter
	succeededTotal metric.Int64Counter
	failedTotal    metric.Int64Counter
	jobDuration    metric.Float64Histogram

	mu     sync.Mutex
	starts map[string]time.Time
}

// NewCollector builds a Collector from the given meter/tracer providers.
func NewCollector(meterProvider metric.MeterProvider, tracerProvider trace.TracerProvider) (*Collector, error) {
	meter := meterProvider.Meter("jobexec")
	tracer := tracerProvider.Tracer("jobexec")

	c := &Collector{tracer: tracer, starts: make(map[string]time.Time)}

	var err error
	c.submittedTotal, err = meter.Int64Counter("jobexec_jobs_submitted_total",
		metric.WithDescription("Total number of jobs submitted to an executor"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}
	c.succeededTotal, err = meter.Int64Counter("jobexec_jobs_succeeded_total",
		metric.WithDescription("Total number of jobs that completed successfully"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}
	c.failedTotal, err = meter.Int64Counter("jobexec_jobs_failed_total",
		metric.WithDescription("Total number of jobs that failed"),
		metric.WithUnit("{job}"))
	if err != nil {
		return nil, err
	}
	c.jobDuration, err = meter.Float64Histogram("jobexec_job_duration_seconds",
		metric.WithDescription("Wall-clock duration of a successful job from start to post-run completion"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ReportJobStart records that jobID began executing, for later duration
// reporting by ReportJobEnd. Mirrors the Python Stats.report_job_start
// accumulator from the original executor.
func (c *Collector) ReportJobStart(jobID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.starts[jobID] = time.Now()
	c.mu.Unlock()
}

// ReportJobEnd records jobID's wall-clock duration into the histogram,
// if a matching ReportJobStart was recorded.
func (c *Collector) ReportJobEnd(ctx context.Context, jobID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	start, ok := c.starts[jobID]
	if ok {
		delete(c.starts, jobID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	c.jobDuration.Record(ctx, time.Since(start).Seconds())
}

// RecordSubmitted increments the submitted-jobs counter.
func (c *Collector) RecordSubmitted(ctx context.Context, rule string) {
	if c == nil {
		return
	}
	c.submittedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// RecordSucceeded increments the succeeded-jobs counter.
func (c *Collector) RecordSucceeded(ctx context.Context, rule string) {
	if c == nil {
		return
	}
	c.succeededTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// RecordFailed increments the failed-jobs counter.
func (c *Collector) RecordFailed(ctx context.Context, rule string) {
	if c == nil {
		return
	}
	c.failedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", rule)))
}

// StartJobSpan starts a span named "jobexec.<backend>.run" carrying
// jobid/rule/priority attributes. Callers must always call End on the
// returned span, even when c is nil; for a nil Collector this returns ctx
// unchanged and a no-op span.
func (c *Collector) StartJobSpan(ctx context.Context, backend, jobID, rule string, priority int) (context.Context, trace.Span) {
	if c == nil {
		return ctx, trace.SpanFromContext(context.Background())
	}
	return c.tracer.Start(ctx, "jobexec."+backend+".run",
		trace.WithAttributes(
			attribute.String("jobexec.job_id", jobID),
			attribute.String("jobexec.rule", rule),
			attribute.Int("jobexec.priority", priority),
		))
}
