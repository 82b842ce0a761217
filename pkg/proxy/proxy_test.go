package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwise/depscope/pkg/observer"
	"github.com/meshwise/depscope/pkg/policy"
)

func testHolder(t *testing.T, rawConfig string, onEdge func(observer.Report)) *observer.Holder {
	t.Helper()
	holder := observer.NewHolder(observer.HolderConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnEdge: onEdge,
	})
	if rawConfig != "" {
		require.NoError(t, holder.Configure([]byte(rawConfig)))
	}
	return holder
}

func testTable(t *testing.T, authority, cluster, backend string) *RouteTable {
	t.Helper()
	table := NewRouteTable()
	require.NoError(t, table.LoadFile(writeRoutes(t, fmt.Sprintf(`
routes:
  %s:
    cluster: %s
    backend: %s
`, authority, cluster, backend))))
	return table
}

func TestProxyPublishesEdgeHeader(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	var reports []observer.Report
	p := New(Config{
		Holder: testHolder(t, `{"response_header":"x-dep-edge"}`, func(r observer.Report) {
			reports = append(reports, r)
		}),
		Routes: testTable(t, "checkout.svc.cluster.local", "checkout-svc", backend.URL),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	req := httptest.NewRequest(http.MethodGet, "http://checkout.svc.cluster.local/cart", nil)
	req.TLS = mutualTLSState(t, "spiffe://cluster/cert-A")
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "spiffe://cluster/cert-A -> checkout-svc", rec.Header().Get("x-dep-edge"))

	require.Len(t, reports, 1)
	assert.True(t, reports[0].Published)
	assert.True(t, reports[0].Mutual)
}

func TestProxyRouteMissStillEmitsEdge(t *testing.T) {
	p := New(Config{
		Holder: testHolder(t, `{"response_header":"x-dep-edge"}`, nil),
		Routes: NewRouteTable(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	req := httptest.NewRequest(http.MethodGet, "http://unknown.svc/", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "? -> ?", rec.Header().Get("x-dep-edge"))
}

func TestProxyUpstreamFailureStillEmitsEdge(t *testing.T) {
	// Port 0 is never connectable; forces the error handler path.
	p := New(Config{
		Holder: testHolder(t, `{"response_header":"x-dep-edge"}`, nil),
		Routes: testTable(t, "down.svc", "down-svc", "http://127.0.0.1:0"),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	req := httptest.NewRequest(http.MethodGet, "http://down.svc/", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "? -> down-svc", rec.Header().Get("x-dep-edge"))
}

func TestProxyWithoutResponseHeaderConfigured(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(backend.Close)

	var reports []observer.Report
	p := New(Config{
		Holder: testHolder(t, `{}`, func(r observer.Report) { reports = append(reports, r) }),
		Routes: testTable(t, "checkout.svc", "checkout-svc", backend.URL),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	req := httptest.NewRequest(http.MethodGet, "http://checkout.svc/", nil)
	rec := httptest.NewRecorder()

	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("x-dep-edge"))
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Published)
	assert.Equal(t, "checkout-svc", reports[0].Edge.Upstream)
}

func TestProxyPublishGateSuppressesHeader(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(backend.Close)

	gate, err := policy.NewGate(context.Background(), policy.GateOptions{Module: `package depscope

import rego.v1

default publish := false

publish if not startswith(input.upstream, "internal-")
`})
	require.NoError(t, err)

	table := NewRouteTable()
	require.NoError(t, table.LoadFile(writeRoutes(t, fmt.Sprintf(`
routes:
  internal.svc:
    cluster: internal-audit
    backend: %s
  public.svc:
    cluster: public-api
    backend: %s
`, backend.URL, backend.URL))))

	p := New(Config{
		Holder: testHolder(t, `{"response_header":"x-dep-edge"}`, nil),
		Routes: table,
		Gate:   gate,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://internal.svc/", nil))
	assert.Empty(t, rec.Header().Get("x-dep-edge"), "gate must suppress internal clusters")

	rec = httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://public.svc/", nil))
	assert.Equal(t, "? -> public-api", rec.Header().Get("x-dep-edge"))
}

func TestProxyPreservesBackendResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "yes")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("body"))
	}))
	t.Cleanup(backend.Close)

	p := New(Config{
		Holder: testHolder(t, `{"response_header":"x-dep-edge"}`, nil),
		Routes: testTable(t, "tea.svc", "tea-svc", backend.URL),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://tea.svc/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "yes", rec.Header().Get("X-Backend"))
	assert.Equal(t, "body", rec.Body.String())
	assert.Equal(t, "? -> tea-svc", rec.Header().Get("x-dep-edge"))
}
