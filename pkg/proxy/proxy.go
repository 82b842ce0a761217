package proxy

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/google/uuid"

	"github.com/meshwise/depscope/pkg/domain"
	"github.com/meshwise/depscope/pkg/observer"
	"github.com/meshwise/depscope/pkg/policy"
)

type txStateKey struct{}

// txState carries the per-transaction observer plumbing through the reverse
// proxy's callbacks.
type txState struct {
	obs       *observer.Observer
	tx        *httpTransaction
	route     Route
	start     time.Time
	requestID string
}

// Config holds configuration for creating a Proxy.
type Config struct {
	Holder  *observer.Holder
	Routes  *RouteTable
	Gate    *policy.Gate // optional publish gate
	Logger  *slog.Logger
	Metrics *Metrics
}

// Proxy is the data-plane handler: it resolves the route for each request,
// forwards it upstream, and rides a depscope observer alongside the
// exchange.
type Proxy struct {
	holder  *observer.Holder
	routes  *RouteTable
	gate    *policy.Gate
	logger  *slog.Logger
	metrics *Metrics
	rp      *httputil.ReverseProxy
}

// New constructs the data-plane handler.
func New(cfg Config) *Proxy {
	if cfg.Holder == nil {
		panic("proxy: observer holder is required")
	}
	if cfg.Routes == nil {
		panic("proxy: route table is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	p := &Proxy{
		holder:  cfg.Holder,
		routes:  cfg.Routes,
		gate:    cfg.Gate,
		logger:  logger,
		metrics: metrics,
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			st := stateFrom(pr.In.Context())
			pr.SetURL(st.route.Backend)
			pr.Out.Host = pr.In.Host
		},
		ModifyResponse: func(resp *http.Response) error {
			st := stateFrom(resp.Request.Context())
			st.tx.respHeader = resp.Header
			st.obs.OnResponseHeaders(st.tx, true)
			p.metrics.RecordRequest(st.route.Cluster, resp.StatusCode, time.Since(st.start))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			st := stateFrom(r.Context())
			p.logger.Error("upstream request failed",
				"request_id", st.requestID,
				"cluster", st.route.Cluster,
				"error", err,
			)
			// The transaction still ends with response headers; the observer
			// emits whatever it learned before the failure.
			st.tx.respHeader = w.Header()
			st.obs.OnResponseHeaders(st.tx, true)
			p.metrics.RecordRequest(st.route.Cluster, http.StatusBadGateway, time.Since(st.start))
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	return p
}

// ServeHTTP implements http.Handler: one observed transaction per request.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestID := uuid.NewString()

	obs := p.holder.NewObserver()

	route, routeErr := p.routes.Resolve(r.Host)
	cluster := ""
	if routeErr == nil {
		cluster = route.Cluster
	}

	tx := newTransaction(r, cluster)
	tx.allowPublish = p.publishGate(r.Context(), tx)

	p.logger.Debug("observing transaction",
		"request_id", requestID,
		"method", r.Method,
		"authority", r.Host,
		"path", r.URL.RequestURI(),
		"cluster", cluster,
	)

	obs.OnRequestHeaders(tx, true)

	if routeErr != nil {
		p.logger.Warn("no route for authority",
			"request_id", requestID,
			"authority", r.Host,
		)
		p.metrics.RecordRouteMiss()

		// Local reply: the transaction ends here, so the observer fires on
		// the synthesized response head.
		tx.respHeader = w.Header()
		obs.OnResponseHeaders(tx, true)
		p.metrics.RecordRequest("", http.StatusBadGateway, time.Since(start))
		http.Error(w, "no route for authority", http.StatusBadGateway)
		return
	}

	state := &txState{obs: obs, tx: tx, route: route, start: start, requestID: requestID}
	ctx := context.WithValue(r.Context(), txStateKey{}, state)
	p.rp.ServeHTTP(w, r.WithContext(ctx))
}

// publishGate returns the per-transaction gate decision, or nil when no
// gate is configured. Gate failures fail open: a broken policy must never
// strip observability from a passive rider.
func (p *Proxy) publishGate(ctx context.Context, tx *httpTransaction) func() bool {
	if p.gate == nil {
		return nil
	}
	return func() bool {
		edge := domain.Edge{Downstream: tx.identity.PeerURI, Upstream: tx.cluster}
		allowed, err := p.gate.Allow(ctx, edge)
		if err != nil {
			p.logger.Warn("publish gate evaluation failed, publishing anyway", "error", err)
			return true
		}
		if !allowed {
			p.logger.Debug("publish gate suppressed edge", "edge", edge.String())
		}
		return allowed
	}
}

func stateFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(txStateKey{}).(*txState)
	if state == nil {
		// Reverse proxy callbacks only run for requests routed by ServeHTTP.
		panic("proxy: transaction state missing from context")
	}
	return state
}
