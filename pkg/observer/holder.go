package observer

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/meshwise/depscope/pkg/domain"
)

// Config is the observer's own configuration payload, delivered to the
// Holder as raw JSON bytes. Unknown fields are ignored for forward
// compatibility.
type Config struct {
	// ResponseHeader names the response header used to publish the inferred
	// edge. When empty the edge is still computed and logged but never
	// published on the wire.
	ResponseHeader string `json:"response_header"`
}

// Report describes one emitted edge and how the observer handled it.
type Report struct {
	Edge domain.Edge
	// Published is true when a response header was configured, so the edge
	// was handed to the host for publication.
	Published bool
	// Mutual is true when the downstream connection was mutually
	// authenticated at emission time.
	Mutual bool
}

// HolderConfig holds construction options for a Holder.
type HolderConfig struct {
	Logger *slog.Logger
	// OnEdge, when set, is invoked exactly once per emitted edge. Hosts use
	// it to feed metrics without coupling the observer to an instrumentation
	// backend.
	OnEdge func(Report)
}

// Holder is the process-wide configuration holder and Observer factory.
// It is configured once at startup and read-only afterwards; every
// Observer receives a value copy of the validated configuration.
type Holder struct {
	cfg    Config
	logger *slog.Logger
	onEdge func(Report)
}

// NewHolder constructs a Holder with default (unset) configuration.
func NewHolder(cfg HolderConfig) *Holder {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{logger: logger, onEdge: cfg.OnEdge}
}

// Configure parses and applies the raw configuration payload. A nil or
// empty payload keeps the defaults. A malformed payload returns an error
// wrapping domain.ErrConfigInvalid and leaves the previous configuration
// untouched; the host treats that as fatal and refuses to activate.
func (h *Holder) Configure(raw []byte) error {
	if len(raw) == 0 {
		return nil
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("%w: parse observer config: %v", domain.ErrConfigInvalid, err)
	}

	h.cfg = cfg
	return nil
}

// ResponseHeader returns the configured publication header name, empty when
// publication is disabled.
func (h *Holder) ResponseHeader() string {
	return h.cfg.ResponseHeader
}

// NewObserver produces a fresh Observer carrying a value copy of the
// current configuration and all-empty observation state.
func (h *Holder) NewObserver() *Observer {
	return &Observer{
		cfg:    h.cfg,
		logger: h.logger,
		onEdge: h.onEdge,
	}
}
