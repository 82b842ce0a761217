// Package domain defines the core business types for depscope.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. All types in this package are:
//
// - Independent of infrastructure (no HTTP, TLS, metrics, etc.)
// - Technology-agnostic (no framework coupling)
// - Testable in isolation without mocks
//
// Other packages (observer, proxy, policy, telemetry) depend on these types;
// the dependency direction is always Infrastructure → Domain, never the reverse.
package domain
