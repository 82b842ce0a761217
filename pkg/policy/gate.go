// Package policy implements the optional Rego-driven publish gate: a small
// embedded OPA evaluation that decides, per learned edge, whether the edge
// may be published on the wire. Edges suppressed by the gate are still
// logged and counted; only the response header is withheld.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/meshwise/depscope/pkg/domain"
)

const defaultEntrypoint = "depscope/publish"

// GateOptions control gate construction.
type GateOptions struct {
	// Entrypoint is the boolean decision path, default "depscope/publish".
	Entrypoint string
	// Module is the Rego source gating publication.
	Module string
	// ModuleName labels the module in compile errors, default "publish.rego".
	ModuleName string
}

// Gate evaluates the publish decision for learned edges using an embedded
// OPA prepared query.
type Gate struct {
	entrypoint string
	module     *ast.Module

	mu       sync.Mutex
	prepared *rego.PreparedEvalQuery
}

// NewGate compiles the Rego module and warms the entrypoint so syntax
// errors surface at startup instead of on the first transaction.
func NewGate(ctx context.Context, opts GateOptions) (*Gate, error) {
	if strings.TrimSpace(opts.Module) == "" {
		return nil, errors.New("publish gate requires a rego module")
	}

	entry := strings.TrimSpace(opts.Entrypoint)
	if entry == "" {
		entry = defaultEntrypoint
	}
	name := opts.ModuleName
	if name == "" {
		name = "publish.rego"
	}

	module, err := ast.ParseModuleWithOpts(name, opts.Module, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return nil, fmt.Errorf("parse rego module %q: %w", name, err)
	}

	gate := &Gate{entrypoint: entry, module: module}
	if _, err := gate.preparedQuery(ctx); err != nil {
		return nil, fmt.Errorf("compile rego module: %w", err)
	}
	return gate, nil
}

// Allow reports whether the edge may be published. An undefined decision
// denies publication; evaluation errors wrap domain.ErrPolicyEval.
func (g *Gate) Allow(ctx context.Context, edge domain.Edge) (bool, error) {
	prepared, err := g.preparedQuery(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: prepare query: %v", domain.ErrPolicyEval, err)
	}

	// Unresolved sides are presented to the policy exactly as they appear on
	// the wire.
	input := map[string]any{
		"downstream": renderSide(edge.Downstream),
		"upstream":   renderSide(edge.Upstream),
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, &domain.Error{
			Err:     domain.ErrPolicyEval,
			Code:    "publish_gate_eval",
			Message: err.Error(),
			Details: map[string]any{"entrypoint": g.entrypoint},
		}
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, &domain.Error{
			Err:     domain.ErrPolicyEval,
			Code:    "publish_gate_result",
			Message: fmt.Sprintf("unexpected result type %T", results[0].Expressions[0].Value),
			Details: map[string]any{"entrypoint": g.entrypoint},
		}
	}
	return allowed, nil
}

func renderSide(s string) string {
	if s == "" {
		return domain.Unknown
	}
	return s
}

func (g *Gate) preparedQuery(ctx context.Context) (*rego.PreparedEvalQuery, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.prepared != nil {
		return g.prepared, nil
	}

	query := "data." + strings.ReplaceAll(g.entrypoint, "/", ".")
	prepared, err := rego.New(
		rego.Query(query),
		rego.ParsedModule(g.module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	g.prepared = &prepared
	return g.prepared, nil
}
