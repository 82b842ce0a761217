package observer

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/meshwise/depscope/pkg/domain"
)

// Pseudo-headers exposed by the host for request routing identity.
const (
	HeaderAuthority = ":authority"
	HeaderPath      = ":path"
)

// Property paths consumed from the host's connection and routing metadata.
var (
	PropConnectionMTLS = []string{"connection", "mtls"}
	PropPeerCertURI    = []string{"connection", "uri_san_peer_certificate"}
	PropClusterName    = []string{"xds", "cluster_name"}
)

// LevelTrace is one step below slog.LevelDebug; edge emissions are logged
// here so they can be silenced independently of debug output.
const LevelTrace = slog.Level(-8)

// Action is the disposition signal returned to the host after each
// callback. The observer never alters traffic flow, so ActionContinue is
// the only value it produces.
type Action int

// ActionContinue tells the host to keep processing the transaction.
const ActionContinue Action = iota

// Transaction is the host boundary for one HTTP transaction. All lookups
// are synchronous and may report absence; the observer treats every miss
// as "unknown" rather than an error.
type Transaction interface {
	// RequestHeader returns the value of a request header (including the
	// :authority and :path pseudo-headers) and whether it was present.
	RequestHeader(name string) (string, bool)

	// Property returns the raw bytes of a host-provided connection or
	// routing property and whether it was present.
	Property(path ...string) ([]byte, bool)

	// SetResponseHeader sets a response header before the response head is
	// forwarded downstream.
	SetResponseHeader(name, value string)
}

// propState classifies a property lookup: present with valid text, present
// but undecodable, or absent entirely. The two failure states collapse to
// "unknown" at the point of use.
type propState int

const (
	propAbsent propState = iota
	propValid
	propInvalid
)

// Observer correlates the signals of a single HTTP transaction into one
// dependency edge. It is exclusively owned by the callback sequence the
// host issues for its transaction, so no locking is required.
type Observer struct {
	cfg    Config
	logger *slog.Logger
	onEdge func(Report)

	notified                  bool
	mutual                    bool
	authority                 string
	path                      string
	upstreamCluster           string
	downstreamPeerCertificate string
}

// OnRequestHeaders captures the routing authority and path once the full
// request header set is available. Non-final frames are ignored.
func (o *Observer) OnRequestHeaders(tx Transaction, endOfStream bool) Action {
	if !endOfStream {
		return ActionContinue
	}

	if authority, ok := tx.RequestHeader(HeaderAuthority); ok {
		o.authority = authority
	}
	if path, ok := tx.RequestHeader(HeaderPath); ok {
		o.path = path
	}

	return ActionContinue
}

// OnResponseHeaders correlates the downstream peer identity with the
// resolved upstream target and emits the edge at most once: as soon as the
// upstream resolves, or unconditionally at the final response-header frame.
func (o *Observer) OnResponseHeaders(tx Transaction, endOfStream bool) Action {
	if o.notified {
		return ActionContinue
	}

	o.mutual = o.mutualTLS(tx)
	if !o.mutual {
		o.logger.Warn("connection not mTLS; will not be able to infer downstream peer")
	}

	if cert, state := o.textProperty(tx, PropPeerCertURI); state == propValid {
		o.downstreamPeerCertificate = cert
	}
	if cluster, state := o.textProperty(tx, PropClusterName); state == propValid {
		o.upstreamCluster = cluster
	}

	// An empty cluster name is not a resolution; emission then waits for
	// the final frame.
	if o.upstreamCluster != "" || endOfStream {
		o.emit(tx)
	}

	return ActionContinue
}

// mutualTLS reports whether the downstream connection is mutually
// authenticated. The host encodes the state as a single byte.
func (o *Observer) mutualTLS(tx Transaction) bool {
	raw, ok := tx.Property(PropConnectionMTLS...)
	return ok && len(raw) == 1 && raw[0] > 0
}

// textProperty reads a property expected to carry UTF-8 text. Undecodable
// bytes degrade to absent with a warning; they never fail the transaction.
func (o *Observer) textProperty(tx Transaction, path []string) (string, propState) {
	raw, ok := tx.Property(path...)
	if !ok {
		return "", propAbsent
	}
	if !utf8.Valid(raw) {
		o.logger.Warn("property is not valid utf-8, treating as absent",
			"property", propKey(path),
		)
		return "", propInvalid
	}
	return string(raw), propValid
}

// emit publishes the edge fact and seals the observer. Missing sides render
// as the "?" placeholder; once notified, later response-header events are
// no-ops.
func (o *Observer) emit(tx Transaction) {
	edge := domain.Edge{
		Downstream: o.downstreamPeerCertificate,
		Upstream:   o.upstreamCluster,
	}

	o.logger.Log(context.Background(), LevelTrace, "dependency learned",
		"edge", edge.String(),
		"authority", o.authority,
		"path", o.path,
	)

	published := o.cfg.ResponseHeader != ""
	if published {
		tx.SetResponseHeader(o.cfg.ResponseHeader, edge.String())
	}
	if o.onEdge != nil {
		o.onEdge(Report{Edge: edge, Published: published, Mutual: o.mutual})
	}

	o.notified = true
}

func propKey(path []string) string {
	return strings.Join(path, ".")
}
