package plan

import (
	"context"
	"iter"
	"sync"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	"github.com/hanpama/entityplan/internal/schema"
)

// Field is a compiled selection. The set of implementations is closed; switch
// over *ScalarField, *ObjectProjectionField, *ListSelectionField,
// *CollectionToSingleField, *MutationField and *FragmentField.
type Field interface {
	Node
	// Name is the response name: the alias, or the schema field name.
	Name() string
	// SchemaField is nil for fragment spreads.
	SchemaField() *schema.Field
	Parent() NodeID
	ConstantParameters() map[*expr.Param]any
	AddConstantParameters(map[*expr.Param]any)
	Services() []string
	AddServices(...string)

	HasAnyServices(fragments Fragments) bool
	Expand(fragments Fragments, withoutServiceFields bool) iter.Seq[Field]
	GetNodeExpression(bc BuildContext) (expr.Expr, error)

	isField()
}

// BuildContext parameterises GetNodeExpression.
type BuildContext struct {
	Fragments            Fragments
	WithoutServiceFields bool
	// Replacement stands in for the enclosing context when ContextChanged is
	// set.
	Replacement    expr.Expr
	ContextChanged bool
}

// nested is the build context for the children of a container.
func (bc BuildContext) nested(replacement expr.Expr) BuildContext {
	bc.Replacement = replacement
	bc.ContextChanged = replacement != nil
	return bc
}

type base struct {
	node
	parent    NodeID
	name      string
	field     *schema.Field
	root      *expr.Param
	constants map[*expr.Param]any
	services  []string
	ext       *extraction
}

type extraction struct {
	once   sync.Once
	fields []Field
}

func newBase(parent Node, name string, field *schema.Field) base {
	return base{
		node:      node{id: NoNode, arena: parent.self().arena},
		parent:    parent.ID(),
		name:      name,
		field:     field,
		root:      rootOf(parent),
		constants: map[*expr.Param]any{},
		ext:       &extraction{},
	}
}

// rootOf is the parameter children of parent close over.
func rootOf(parent Node) *expr.Param {
	if p, ok := parent.NextContext().(*expr.Param); ok {
		return p
	}
	return parent.RootParameter()
}

func (b *base) Name() string               { return b.name }
func (b *base) SchemaField() *schema.Field { return b.field }
func (b *base) Parent() NodeID             { return b.parent }
func (b *base) RootParameter() *expr.Param { return b.root }
func (b *base) Services() []string         { return b.services }
func (b *base) ParentNode() Node           { return b.arena.get(b.parent) }
func (*base) isField()                     {}

func (b *base) ConstantParameters() map[*expr.Param]any { return b.constants }

func (b *base) AddConstantParameters(c map[*expr.Param]any) { mergeConstants(b.constants, c) }

func (b *base) AddServices(names ...string) { b.services = mergeServices(b.services, names) }

// parentContextType is the type of the context this field was compiled
// against.
func (b *base) parentContextType() *expr.Type {
	if p := b.ParentNode(); p != nil {
		return p.NextContext().Type()
	}
	return b.root.Type()
}

// extractedName is the response name of a member split off a service field.
// Names starting with "__" are reserved in GraphQL, so no alias can take it.
func extractedName(member string) string { return "__m_" + member }

// replaceContext rebuilds e against bc.Replacement. Members of the root that
// the first pass materialised are read back under their extracted names; any
// remaining value of the parent context type is replaced by type.
func (b *base) replaceContext(e expr.Expr, bc BuildContext) (expr.Expr, error) {
	rt := bc.Replacement.Type()
	e, err := expr.Rewrite(e, func(n expr.Expr) (expr.Expr, error) {
		m, ok := n.(*expr.Member)
		if !ok || m.Target != expr.Expr(b.root) {
			return n, nil
		}
		name := extractedName(m.Name)
		if _, ok := rt.Field(name); !ok {
			return n, nil
		}
		return expr.NewMember(bc.Replacement, name)
	})
	if err != nil {
		return nil, err
	}
	return expr.ReplaceByType(e, b.parentContextType(), bc.Replacement)
}

// extract splits e into scalar fields reading the members of the root
// parameter it needs. The result is computed once. Extracted fields carry no
// schema field: they are plain reads, not the field they were split from.
func (b *base) extract(e expr.Expr) ([]Field, bool) {
	b.ext.once.Do(func() {
		members, ok := expr.ExtractMembersOf(e, b.root)
		if !ok {
			return
		}
		b.ext.fields = make([]Field, 0, len(members))
		for _, m := range members {
			f := &ScalarField{base: base{
				node:      node{id: NoNode, arena: b.arena},
				parent:    b.parent,
				name:      extractedName(m.Name),
				root:      b.root,
				constants: map[*expr.Param]any{},
				ext:       &extraction{},
			}, expression: m.Expr}
			b.ext.fields = append(b.ext.fields, f)
		}
	})
	return b.ext.fields, b.ext.fields != nil
}

func (b *base) attach(f Field) {
	register(b.arena, f)
}

func yieldAll(fields []Field, yield func(Field) bool) bool {
	for _, f := range fields {
		if !yield(f) {
			return false
		}
	}
	return true
}

// ScalarField is a leaf computed from the enclosing context.
type ScalarField struct {
	base
	expression expr.Expr
}

func NewScalarField(parent Node, name string, field *schema.Field, expression expr.Expr) *ScalarField {
	f := &ScalarField{base: newBase(parent, name, field), expression: expression}
	f.attach(f)
	return f
}

func (f *ScalarField) Expression() expr.Expr  { return f.expression }
func (f *ScalarField) NextContext() expr.Expr { return f.expression }

func (f *ScalarField) HasAnyServices(Fragments) bool { return len(f.services) > 0 }

// Expand yields the field itself, or, when service fields are excluded and
// this one needs a service, the members of its context it reads.
func (f *ScalarField) Expand(_ Fragments, withoutServiceFields bool) iter.Seq[Field] {
	return func(yield func(Field) bool) {
		if withoutServiceFields && len(f.services) > 0 {
			if fields, ok := f.extract(f.expression); ok {
				yieldAll(fields, yield)
				return
			}
		}
		yield(f)
	}
}

func (f *ScalarField) GetNodeExpression(bc BuildContext) (expr.Expr, error) {
	if bc.WithoutServiceFields && len(f.services) > 0 {
		return nil, nil
	}
	e := f.expression
	if f.field != nil {
		for _, ext := range f.field.Extensions {
			var err error
			if e, err = ext.GetExpression(f.field, e, f.root); err != nil {
				return nil, gqlerror.Wrap(gqlerror.GetExpressionFailed, err, "extension of field %s", f.field.Name)
			}
		}
	}
	if bc.ContextChanged && f.name != "__typename" {
		if _, ok := bc.Replacement.Type().Field(f.name); ok && len(f.services) == 0 {
			return expr.NewMember(bc.Replacement, f.name)
		}
		return f.replaceContext(e, bc)
	}
	return e, nil
}

// ObjectProjectionField selects sub-fields of a single object. Its children
// are compiled against a context parameter of the object's type, which is
// bound to the object expression when the projection is built.
type ObjectProjectionField struct {
	base
	source expr.Expr
	ctx    *expr.Param
	fields []Field
}

// NewObjectProjectionField builds a projection of source. When source is not
// a parameter, ctx is the parameter the children are compiled against.
func NewObjectProjectionField(parent Node, name string, field *schema.Field, source expr.Expr, ctx *expr.Param) *ObjectProjectionField {
	if p, ok := source.(*expr.Param); ok {
		ctx = p
	}
	f := &ObjectProjectionField{base: newBase(parent, name, field), source: source, ctx: ctx}
	f.attach(f)
	return f
}

func (f *ObjectProjectionField) Source() expr.Expr      { return f.source }
func (f *ObjectProjectionField) Context() *expr.Param   { return f.ctx }
func (f *ObjectProjectionField) NextContext() expr.Expr { return f.ctx }
func (f *ObjectProjectionField) Fields() []Field        { return f.fields }

func (f *ObjectProjectionField) AddField(c Field) {
	f.fields = append(f.fields, c)
	f.AddConstantParameters(c.ConstantParameters())
	f.AddServices(c.Services()...)
}

func (f *ObjectProjectionField) ownServices() bool { return len(expr.Services(f.source)) > 0 }

func (f *ObjectProjectionField) HasAnyServices(frags Fragments) bool {
	return len(f.services) > 0 || f.ownServices() || anyServices(f.fields, frags)
}

func (f *ObjectProjectionField) Expand(_ Fragments, withoutServiceFields bool) iter.Seq[Field] {
	return expandContainer(f, &f.base, f.source, withoutServiceFields && f.ownServices())
}

func (f *ObjectProjectionField) GetNodeExpression(bc BuildContext) (expr.Expr, error) {
	if bc.WithoutServiceFields && f.ownServices() {
		return nil, nil
	}
	obj, ctx, child := f.source, f.ctx, bc.nested(nil)
	if bc.ContextChanged {
		if t, ok := bc.Replacement.Type().Field(f.name); ok && !f.ownServices() {
			m, err := expr.NewMember(bc.Replacement, f.name)
			if err != nil {
				return nil, err
			}
			obj, ctx = m, expr.NewParam(f.ctx.Name, t)
			child = bc.nested(ctx)
		} else {
			var err error
			if obj, err = f.replaceContext(f.source, bc); err != nil {
				return nil, err
			}
		}
	}
	fields, err := buildChildren(f.fields, child, ctx)
	if err != nil {
		return nil, err
	}
	proj := expr.NewProjection(obj, fields...)
	if obj == expr.Expr(ctx) {
		return proj, nil
	}
	return expr.ReplaceParam(proj, ctx, obj)
}

// ListSelectionField projects every element of a list through its children.
type ListSelectionField struct {
	base
	source  expr.Expr
	element *expr.Param
	fields  []Field
}

func NewListSelectionField(parent Node, name string, field *schema.Field, source expr.Expr, element *expr.Param) *ListSelectionField {
	f := &ListSelectionField{base: newBase(parent, name, field), source: source, element: element}
	f.attach(f)
	return f
}

func (f *ListSelectionField) Source() expr.Expr      { return f.source }
func (f *ListSelectionField) Element() *expr.Param   { return f.element }
func (f *ListSelectionField) NextContext() expr.Expr { return f.element }
func (f *ListSelectionField) Fields() []Field        { return f.fields }

func (f *ListSelectionField) AddField(c Field) {
	f.fields = append(f.fields, c)
	f.AddConstantParameters(c.ConstantParameters())
	f.AddServices(c.Services()...)
}

func (f *ListSelectionField) ownServices() bool { return len(expr.Services(f.source)) > 0 }

func (f *ListSelectionField) HasAnyServices(frags Fragments) bool {
	return len(f.services) > 0 || f.ownServices() || anyServices(f.fields, frags)
}

func (f *ListSelectionField) Expand(_ Fragments, withoutServiceFields bool) iter.Seq[Field] {
	return expandContainer(f, &f.base, f.source, withoutServiceFields && f.ownServices())
}

func (f *ListSelectionField) GetNodeExpression(bc BuildContext) (expr.Expr, error) {
	if bc.WithoutServiceFields && f.ownServices() {
		return nil, nil
	}
	src, elem, child := f.source, f.element, bc.nested(nil)
	if bc.ContextChanged {
		if t, ok := bc.Replacement.Type().Field(f.name); ok && t.IsList() && !f.ownServices() {
			m, err := expr.NewMember(bc.Replacement, f.name)
			if err != nil {
				return nil, err
			}
			src, elem = m, expr.NewParam(f.element.Name, t.Elem())
			child = bc.nested(elem)
		} else {
			var err error
			if src, err = f.replaceContext(f.source, bc); err != nil {
				return nil, err
			}
		}
	}
	fields, err := buildChildren(f.fields, child, elem)
	if err != nil {
		return nil, err
	}
	return expr.NewCall(expr.Select, src, expr.NewLambda(expr.NewProjection(nil, fields...), elem))
}

// CollectionToSingleField reduces a list to one element after projecting it.
// Collection and Single hold the same child fields.
type CollectionToSingleField struct {
	base
	collection *ListSelectionField
	single     *ObjectProjectionField
	reduce     *expr.Call
}

func NewCollectionToSingleField(parent Node, collection *ListSelectionField, single *ObjectProjectionField, reduce *expr.Call) *CollectionToSingleField {
	f := &CollectionToSingleField{
		base:       newBase(parent, single.name, single.field),
		collection: collection,
		single:     single,
		reduce:     reduce,
	}
	f.AddConstantParameters(collection.constants)
	f.AddConstantParameters(single.constants)
	f.AddServices(collection.services...)
	f.AddServices(single.services...)
	f.attach(f)
	return f
}

func (f *CollectionToSingleField) Collection() *ListSelectionField { return f.collection }
func (f *CollectionToSingleField) Single() *ObjectProjectionField  { return f.single }
func (f *CollectionToSingleField) Reduce() *expr.Call              { return f.reduce }
func (f *CollectionToSingleField) NextContext() expr.Expr          { return f.single.NextContext() }

func (f *CollectionToSingleField) HasAnyServices(frags Fragments) bool {
	return f.collection.HasAnyServices(frags) || f.single.HasAnyServices(frags)
}

func (f *CollectionToSingleField) Expand(Fragments, bool) iter.Seq[Field] {
	return func(yield func(Field) bool) { yield(f) }
}

// GetNodeExpression builds reduce(list.Select(projection)). Once the context
// has changed the single element is already materialised, so the object
// projection is used instead.
func (f *CollectionToSingleField) GetNodeExpression(bc BuildContext) (expr.Expr, error) {
	if bc.ContextChanged {
		return f.single.GetNodeExpression(bc)
	}
	list, err := f.collection.GetNodeExpression(bc)
	if err != nil || list == nil {
		return nil, err
	}
	return f.reduce.WithSource(list)
}

// MutationField calls a bound mutation. Its placeholder stands for the call
// result when the result selection is evaluated.
type MutationField struct {
	base
	arguments   map[string]any
	placeholder *expr.Param
	result      Field
}

func NewMutationField(parent Node, name string, field *schema.Field, arguments map[string]any, placeholder *expr.Param) *MutationField {
	f := &MutationField{base: newBase(parent, name, field), arguments: arguments, placeholder: placeholder}
	f.attach(f)
	return f
}

func (f *MutationField) Arguments() map[string]any { return f.arguments }
func (f *MutationField) Placeholder() *expr.Param  { return f.placeholder }
func (f *MutationField) NextContext() expr.Expr    { return f.placeholder }
func (f *MutationField) ResultSelection() Field    { return f.result }

func (f *MutationField) SetResultSelection(sel Field) {
	f.result = sel
	f.AddConstantParameters(sel.ConstantParameters())
	f.AddServices(sel.Services()...)
}

func (f *MutationField) HasAnyServices(frags Fragments) bool {
	return f.result != nil && f.result.HasAnyServices(frags)
}

func (f *MutationField) Expand(Fragments, bool) iter.Seq[Field] {
	return func(yield func(Field) bool) { yield(f) }
}

// GetNodeExpression builds the selection over the call result, or the result
// itself when nothing was selected.
func (f *MutationField) GetNodeExpression(bc BuildContext) (expr.Expr, error) {
	if f.result == nil {
		return f.placeholder, nil
	}
	return f.result.GetNodeExpression(bc)
}

// Call invokes the bound mutation with source as its context value.
func (f *MutationField) Call(ctx context.Context, source any, v *schema.Validator, services schema.ServiceProvider, variableParam *expr.Param, variables map[string]any) (any, error) {
	if f.field.Method == nil {
		return nil, gqlerror.New(gqlerror.ExecutionFailed, "mutation %s is not bound", f.field.Name)
	}
	return f.field.Method.Call(ctx, source, f.arguments, v, services, variableParam, variables)
}

// FragmentField is a spread of a named fragment. It has no expression of its
// own: containers replace it by the fragment's fields.
type FragmentField struct {
	base
}

func NewFragmentField(parent Node, name string) *FragmentField {
	f := &FragmentField{base: newBase(parent, name, nil)}
	f.attach(f)
	return f
}

func (f *FragmentField) NextContext() expr.Expr { return f.root }

func (f *FragmentField) HasAnyServices(frags Fragments) bool {
	def, ok := frags[f.name]
	return ok && (len(def.services) > 0 || anyServices(def.fields, frags))
}

func (f *FragmentField) Expand(frags Fragments, withoutServiceFields bool) iter.Seq[Field] {
	return func(yield func(Field) bool) {
		def, ok := frags[f.name]
		if !ok {
			return
		}
		for _, c := range def.fields {
			for leaf := range c.Expand(frags, withoutServiceFields) {
				if !yield(leaf) {
					return
				}
			}
		}
	}
}

func (f *FragmentField) GetNodeExpression(BuildContext) (expr.Expr, error) {
	return nil, gqlerror.New(gqlerror.MalformedContext, "fragment spread %s must be expanded by its container", f.name)
}
