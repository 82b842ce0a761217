package domain

import "fmt"

// Unknown is the placeholder rendered for any identity that could not be
// resolved during a transaction.
const Unknown = "?"

// Edge is the inferred directed dependency fact for one HTTP transaction:
// the downstream peer identity calling into the resolved upstream target.
// Either side may be empty when the corresponding signal was unavailable.
type Edge struct {
	Downstream string
	Upstream   string
}

// String renders the edge in its wire form, substituting the Unknown
// placeholder for any unresolved side.
func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", orUnknown(e.Downstream), orUnknown(e.Upstream))
}

// Resolved reports whether both sides of the edge carry a real identity.
func (e Edge) Resolved() bool {
	return e.Downstream != "" && e.Upstream != ""
}

func orUnknown(s string) string {
	if s == "" {
		return Unknown
	}
	return s
}
