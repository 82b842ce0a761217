// Package observer implements the per-transaction dependency correlation
// state machine. A process-wide Holder validates the observer configuration
// and stamps out one Observer per HTTP transaction; each Observer combines
// the request-phase routing identity with the response-phase connection and
// routing metadata into a single dependency edge, emitted at most once.
//
// The surrounding host (proxy, filter chain, test harness) drives an
// Observer through exactly two callbacks, OnRequestHeaders then
// OnResponseHeaders, and satisfies the Transaction interface to expose
// headers and connection properties. The observer is a passive rider: it
// never blocks, buffers, or alters traffic beyond one optional response
// header.
package observer
