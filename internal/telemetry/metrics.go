package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	StageDuration   metric.Float64Histogram
	StageFailures   metric.Int64Counter
	PapersProcessed metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("research-insight-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageDuration, err := meter.Float64Histogram(
		"pipeline.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	stageFailures, err := meter.Int64Counter(
		"pipeline.stage.failures",
		metric.WithDescription("Pipeline stage failures"),
	)
	if err != nil {
		return nil, err
	}

	papersProcessed, err := meter.Int64Counter(
		"pipeline.papers.processed",
		metric.WithDescription("Papers fetched and processed"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:  requestCounter,
		RequestDuration: requestDuration,
		StageDuration:   stageDuration,
		StageFailures:   stageFailures,
		PapersProcessed: papersProcessed,
	}, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordStage records one pipeline stage execution
func (m *Metrics) RecordStage(stage, outcome string, duration float64) {
	attrs := []attribute.KeyValue{
		attribute.String("pipeline.stage", stage),
		attribute.String("pipeline.outcome", outcome),
	}

	m.StageDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
	if outcome != "success" {
		m.StageFailures.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
}

// RecordPapers records per-document pipeline outcomes
func (m *Metrics) RecordPapers(outcome string, count int64) {
	m.PapersProcessed.Add(context.Background(), count,
		metric.WithAttributes(attribute.String("paper.outcome", outcome)))
}
