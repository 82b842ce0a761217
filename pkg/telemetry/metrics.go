package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/meshwise/depscope/pkg/domain"
)

var (
	metricsOnce         sync.Once
	metricsInitErr      error
	edgeCounter         metric.Int64Counter
	unresolvedCounter   metric.Int64Counter
	notMutualTLSCounter metric.Int64Counter
)

// EdgeMetrics captures the fields needed to record one learned edge.
type EdgeMetrics struct {
	Edge      domain.Edge
	Published bool
	Mutual    bool
}

// RecordEdge emits counters describing the quality and disposition of a
// learned dependency edge.
func RecordEdge(ctx context.Context, metrics EdgeMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("edge.downstream_resolved", metrics.Edge.Downstream != ""),
		attribute.Bool("edge.upstream_resolved", metrics.Edge.Upstream != ""),
		attribute.Bool("edge.published", metrics.Published),
	}

	edgeCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if !metrics.Edge.Resolved() {
		unresolvedCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if !metrics.Mutual {
		notMutualTLSCounter.Add(ctx, 1)
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("depscope.observer")

		edgeCounter, metricsInitErr = meter.Int64Counter(
			"depscope.edges_total",
			metric.WithDescription("Dependency edges learned, partitioned by resolution state"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		unresolvedCounter, metricsInitErr = meter.Int64Counter(
			"depscope.edges_unresolved_total",
			metric.WithDescription("Edges with at least one unresolved side"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		notMutualTLSCounter, metricsInitErr = meter.Int64Counter(
			"depscope.connections_not_mutual_total",
			metric.WithDescription("Transactions observed over a connection that was not mutually authenticated"),
			metric.WithUnit("{count}"),
		)
	})

	return metricsInitErr
}
