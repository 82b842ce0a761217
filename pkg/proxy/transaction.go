package proxy

import (
	"net/http"
	"strings"

	tlsid "github.com/meshwise/depscope/internal/tls"
	"github.com/meshwise/depscope/pkg/observer"
)

// httpTransaction adapts one net/http exchange to the observer's host
// boundary. Pseudo-headers and connection properties are derived from the
// inbound request; the response header map is bound once the response head
// is available.
type httpTransaction struct {
	req      *http.Request
	identity tlsid.ConnectionIdentity
	cluster  string

	// respHeader is nil until the response phase begins.
	respHeader http.Header

	// allowPublish, when set, is consulted before honoring a header write.
	allowPublish func() bool
}

var _ observer.Transaction = (*httpTransaction)(nil)

func newTransaction(r *http.Request, cluster string) *httpTransaction {
	return &httpTransaction{
		req:      r,
		identity: tlsid.IdentityFromState(r.TLS),
		cluster:  cluster,
	}
}

// RequestHeader resolves the :authority and :path pseudo-headers to their
// net/http equivalents and everything else to the header map.
func (t *httpTransaction) RequestHeader(name string) (string, bool) {
	switch name {
	case observer.HeaderAuthority:
		return t.req.Host, t.req.Host != ""
	case observer.HeaderPath:
		return t.req.URL.RequestURI(), true
	default:
		values := t.req.Header.Values(name)
		if len(values) == 0 {
			return "", false
		}
		return values[0], true
	}
}

// Property exposes connection and routing metadata in the byte encoding the
// observer expects: mtls as a single boolean byte, identities as UTF-8.
func (t *httpTransaction) Property(path ...string) ([]byte, bool) {
	switch propKey(path) {
	case "connection.mtls":
		if t.req.TLS == nil {
			return nil, false
		}
		if t.identity.Mutual {
			return []byte{1}, true
		}
		return []byte{0}, true
	case "connection.uri_san_peer_certificate":
		if !t.identity.HasPeer {
			return nil, false
		}
		return []byte(t.identity.PeerURI), true
	case "xds.cluster_name":
		if t.cluster == "" {
			return nil, false
		}
		return []byte(t.cluster), true
	default:
		return nil, false
	}
}

// SetResponseHeader honors the observer's publication request, subject to
// the host's publish gate.
func (t *httpTransaction) SetResponseHeader(name, value string) {
	if t.respHeader == nil {
		return
	}
	if t.allowPublish != nil && !t.allowPublish() {
		return
	}
	t.respHeader.Set(name, value)
}

func propKey(path []string) string {
	return strings.Join(path, ".")
}
