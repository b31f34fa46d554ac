package directive

import (
	"github.com/hanpama/entityplan/internal/gqlerror"
	"github.com/hanpama/entityplan/internal/schema"
)

// Registry maps directive names to processors.
type Registry struct {
	processors map[string]Processor
	order      []string
}

func NewRegistry(processors ...Processor) *Registry {
	r := &Registry{processors: map[string]Processor{}}
	for _, p := range processors {
		r.Register(p)
	}
	return r
}

// Default holds @include and @skip.
func Default() *Registry {
	return NewRegistry(NewInclude(), NewSkip())
}

// Register adds p, replacing any processor of the same name.
func (r *Registry) Register(p Processor) *Registry {
	if _, ok := r.processors[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.processors[p.Name()] = p
	return r
}

func (r *Registry) Directive(name string) (Processor, bool) {
	p, ok := r.processors[name]
	return p, ok
}

// Lookup is Directive reporting an absent name as UnknownDirective.
func (r *Registry) Lookup(name string) (Processor, error) {
	p, ok := r.processors[name]
	if !ok {
		return nil, gqlerror.New(gqlerror.UnknownDirective, "directive @%s is not defined", name)
	}
	return p, nil
}

// Processors lists the registered processors in registration order.
func (r *Registry) Processors() []Processor {
	out := make([]Processor, len(r.order))
	for i, name := range r.order {
		out[i] = r.processors[name]
	}
	return out
}

// Declare adds the definition of every registered processor to s.
func (r *Registry) Declare(s *schema.Schema) {
	for _, p := range r.Processors() {
		s.AddDirective(Definition(p, s.FieldNamer()))
	}
}
