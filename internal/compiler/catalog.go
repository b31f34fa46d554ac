package compiler

import (
	"github.com/hanpama/entityplan/internal/directive"
	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/schema"
)

// Catalog is what the compiler needs to know about the schema.
type Catalog interface {
	// QueryContextType is the data context query operations run against.
	QueryContextType() *expr.Type
	// MutationType is nil when the schema has no mutations.
	MutationType() *expr.Type
	SchemaType(t *expr.Type) (*schema.Type, error)
	Type(name string) (*schema.Type, error)
	Directive(name string) (directive.Processor, error)
	FieldNamer() schema.Namer

	ResolveTypeRef(ref *schema.TypeRef) *expr.Type
	CoerceValue(value any, t *schema.TypeRef) (any, error)
}

type catalog struct {
	*schema.Schema
	directives *directive.Registry
}

// NewCatalog serves s with the directives of r, or the default directives
// when r is nil.
func NewCatalog(s *schema.Schema, r *directive.Registry) Catalog {
	if r == nil {
		r = directive.Default()
	}
	return &catalog{Schema: s, directives: r}
}

func (c *catalog) Directive(name string) (directive.Processor, error) {
	return c.directives.Lookup(name)
}
