// Package connector abstracts the external answer-generation providers
// behind a single polymorphic contract. Callers never branch on provider
// identity outside this package.
package connector

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/brandlens/geo-audit/internal/model"
)

// Connector executes one panel query against one surface and returns the
// provider-agnostic answer envelope. A connector failure is scoped to the
// query being executed; the caller decides run-level consequences.
type Connector interface {
	Surface() model.Surface
	UsesWebSearch() bool
	Invoke(ctx context.Context, query model.Query, brand model.BrandContext) (*model.AnswerEnvelope, error)
}

// Registry resolves surfaces to connectors.
type Registry struct {
	connectors map[model.Surface]Connector
}

// NewRegistry builds a registry from the given connectors.
func NewRegistry(connectors ...Connector) *Registry {
	m := make(map[model.Surface]Connector, len(connectors))
	for _, c := range connectors {
		m[c.Surface()] = c
	}
	return &Registry{connectors: m}
}

// Get returns the connector for a surface.
func (r *Registry) Get(surface model.Surface) (Connector, error) {
	c, ok := r.connectors[surface]
	if !ok {
		return nil, eris.Errorf("connector: unknown surface %s", surface)
	}
	return c, nil
}

// Surfaces lists the registered surfaces.
func (r *Registry) Surfaces() []model.Surface {
	out := make([]model.Surface, 0, len(r.connectors))
	for s := range r.connectors {
		out = append(out, s)
	}
	return out
}
