package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/meshwise/depscope/pkg/domain"
)

func collectMetrics(t *testing.T, ctx context.Context, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}

	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func TestRecordEdge(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()

	RecordEdge(ctx, EdgeMetrics{
		Edge:      domain.Edge{Upstream: "checkout-svc"},
		Published: true,
		Mutual:    false,
	})

	metrics := collectMetrics(t, ctx, reader)

	sumEdges, ok := metrics["depscope.edges_total"]
	if !ok {
		t.Fatalf("missing depscope.edges_total metric")
	}
	edgeData, ok := sumEdges.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for edges metric")
	}
	if len(edgeData.DataPoints) != 1 {
		t.Fatalf("expected 1 datapoint, got %d", len(edgeData.DataPoints))
	}
	if edgeData.DataPoints[0].Value != 1 {
		t.Fatalf("expected edge count 1, got %d", edgeData.DataPoints[0].Value)
	}
	if value, ok := edgeData.DataPoints[0].Attributes.Value(attribute.Key("edge.downstream_resolved")); !ok || value.AsBool() {
		t.Fatalf("expected edge.downstream_resolved=false, got %v", value)
	}

	sumUnresolved, ok := metrics["depscope.edges_unresolved_total"]
	if !ok {
		t.Fatalf("missing depscope.edges_unresolved_total metric")
	}
	if sumUnresolved.Data.(metricdata.Sum[int64]).DataPoints[0].Value != 1 {
		t.Fatalf("expected one unresolved edge")
	}

	sumNotMutual, ok := metrics["depscope.connections_not_mutual_total"]
	if !ok {
		t.Fatalf("missing depscope.connections_not_mutual_total metric")
	}
	if sumNotMutual.Data.(metricdata.Sum[int64]).DataPoints[0].Value != 1 {
		t.Fatalf("expected one non-mutual connection")
	}
}

func TestRecordEdgeFullyResolved(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
	})

	ResetMetricsForTest()

	RecordEdge(ctx, EdgeMetrics{
		Edge:      domain.Edge{Downstream: "spiffe://cluster/cert-A", Upstream: "checkout-svc"},
		Published: true,
		Mutual:    true,
	})

	metrics := collectMetrics(t, ctx, reader)

	if m, ok := metrics["depscope.edges_unresolved_total"]; ok {
		if data, ok := m.Data.(metricdata.Sum[int64]); ok && len(data.DataPoints) > 0 {
			t.Fatalf("unresolved counter should have no datapoints for a fully resolved edge")
		}
	}
	if m, ok := metrics["depscope.connections_not_mutual_total"]; ok {
		if data, ok := m.Data.(metricdata.Sum[int64]); ok && len(data.DataPoints) > 0 {
			t.Fatalf("non-mutual counter should have no datapoints for a mutual connection")
		}
	}
}
