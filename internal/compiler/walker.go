package compiler

import (
	"errors"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/hanpama/entityplan/internal/directive"
	"github.com/hanpama/entityplan/internal/eql"
	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	language "github.com/hanpama/entityplan/internal/language"
	"github.com/hanpama/entityplan/internal/plan"
	"github.com/hanpama/entityplan/internal/schema"
)

// walker holds the state of one compile.
type walker struct {
	catalog    Catalog
	directives *directive.Registry
	vars       map[string]any
	log        zerolog.Logger

	doc *plan.Document
	// varParam is shared by every operation so that fragments can read
	// variables; its type has one field per declared variable, so operations
	// redeclaring a variable must agree on its type.
	varParam *expr.Param
	varDefs  map[string]plan.VariableDefinition
	spreads  []spread
}

type spread struct {
	name     string
	typeName string
	pos      *language.Position
}

type boundDirective struct {
	p    directive.Processor
	args any
}

func (w *walker) visitDocument(doc *language.QueryDocument, parent plan.Node) (*plan.Document, error) {
	if parent != nil {
		return nil, gqlerror.New(gqlerror.MalformedContext, "a document must be compiled from an empty context")
	}
	w.doc = plan.NewDocument(w.catalog.FieldNamer())
	w.varDefs = map[string]plan.VariableDefinition{}
	varType := expr.NewObject("Variables")
	w.varParam = expr.NewParam("vars", varType)

	type pending struct {
		op  *plan.Operation
		def *language.OperationDefinition
	}
	var ops []pending
	for _, od := range doc.Operations {
		op, err := w.visitOperation(od, varType)
		if err != nil {
			return nil, err
		}
		if op != nil {
			ops = append(ops, pending{op, od})
		}
	}
	for _, fd := range doc.Fragments {
		if err := w.visitFragmentDefinition(fd); err != nil {
			return nil, err
		}
	}
	for _, p := range ops {
		fields, err := w.selectionSet(p.op, p.op.NextContext(), p.def.SelectionSet)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			p.op.AddField(f)
		}
		w.log.Debug().
			Str("operation", operationLabel(p.def)).
			Str("kind", string(p.op.Kind)).
			Int("fields", len(fields)).
			Strs("services", p.op.Services()).
			Msg("operation compiled")
	}
	if err := w.checkSpreads(); err != nil {
		return nil, err
	}
	return w.doc, nil
}

func operationLabel(od *language.OperationDefinition) string {
	if od.Name == "" {
		return "(anonymous)"
	}
	return od.Name
}

// visitOperation declares an operation and its variables. Its fields are
// compiled once every fragment is defined.
func (w *walker) visitOperation(od *language.OperationDefinition, varType *expr.Type) (*plan.Operation, error) {
	var (
		kind    plan.OperationKind
		ctxName string
		ctxType *expr.Type
	)
	switch od.Operation {
	case language.Query:
		kind, ctxName, ctxType = plan.Query, "ctx", w.catalog.QueryContextType()
	case language.Mutation:
		if ctxType = w.catalog.MutationType(); ctxType == nil {
			return nil, gqlerror.New(gqlerror.UnknownType, "operation %s is a mutation but the schema has no mutation type", operationLabel(od)).At(od.Position)
		}
		kind, ctxName = plan.Mutation, "mut"
	default:
		w.log.Debug().Str("operation", operationLabel(od)).Str("kind", string(od.Operation)).Msg("operation not supported, skipped")
		return nil, nil
	}
	vars, err := w.variableDefinitions(od, varType)
	if err != nil {
		return nil, err
	}
	return w.doc.AddOperation(kind, od.Name, expr.NewParam(ctxName, ctxType), vars, w.varParam), nil
}

func (w *walker) variableDefinitions(od *language.OperationDefinition, varType *expr.Type) (map[string]plan.VariableDefinition, error) {
	out := make(map[string]plan.VariableDefinition, len(od.VariableDefinitions))
	for _, vd := range od.VariableDefinitions {
		ref := schema.TypeRefFromAST(vd.Type)
		if prev, ok := w.varDefs[vd.Variable]; ok && prev.Type.String() != ref.String() {
			return nil, gqlerror.New(gqlerror.InvalidValue, "variable $%s of operation %s is %s but another operation declares it as %s",
				vd.Variable, operationLabel(od), ref, prev.Type).At(vd.Position)
		}
		if _, err := w.catalog.Type(ref.GetNamedType()); err != nil {
			return nil, gqlerror.New(gqlerror.UnknownType, "variable $%s of operation %s has unknown type %s",
				vd.Variable, operationLabel(od), ref.GetNamedType()).At(vd.Position)
		}
		def := plan.VariableDefinition{Type: ref}
		if vd.DefaultValue != nil {
			v, err := w.catalog.CoerceValue(schema.ValueFromAST(vd.DefaultValue), ref)
			if err != nil {
				return nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "default of variable $%s", vd.Variable).At(vd.DefaultValue.Position)
			}
			def.Default, def.HasDefault = v, true
		}
		if ref.IsNonNull() && !def.HasDefault {
			if v, ok := w.vars[vd.Variable]; !ok || v == nil {
				return nil, gqlerror.New(gqlerror.MissingRequiredVariable, "variable $%s of operation %s is required",
					vd.Variable, operationLabel(od)).At(vd.Position)
			}
		}
		out[vd.Variable] = def
		w.varDefs[vd.Variable] = def
		varType.AddField(vd.Variable, w.catalog.ResolveTypeRef(ref))
	}
	return out, nil
}

func (w *walker) visitFragmentDefinition(fd *language.FragmentDefinition) error {
	st, err := w.catalog.Type(fd.TypeCondition)
	if err != nil {
		return gqlerror.New(gqlerror.UnknownType, "fragment %s is defined on unknown type %s", fd.Name, fd.TypeCondition).At(fd.Position)
	}
	p := expr.NewParam("frag_"+st.Name, st.ExprType())
	def := w.doc.AddFragment(fd.Name, fd.TypeCondition, p)
	fields, err := w.selectionSet(def, p, fd.SelectionSet)
	if err != nil {
		return err
	}
	for _, f := range fields {
		def.AddField(f)
	}
	w.log.Debug().Str("fragment", fd.Name).Str("on", fd.TypeCondition).Int("fields", len(fields)).Msg("fragment compiled")
	return nil
}

func (w *walker) checkSpreads() error {
	for _, s := range w.spreads {
		def, ok := w.doc.Fragments[s.name]
		if !ok {
			return gqlerror.New(gqlerror.InvalidFragmentSpread, "fragment %s is not defined", s.name).At(s.pos)
		}
		if def.TypeCondition != s.typeName {
			return gqlerror.New(gqlerror.InvalidFragmentSpread, "fragment %s on %s cannot be spread on %s",
				s.name, def.TypeCondition, s.typeName).At(s.pos)
		}
	}
	return nil
}

// selectionSet compiles the selections of set against ctx. The fields are
// returned rather than attached so that the caller controls when their
// constants and services reach the parent.
func (w *walker) selectionSet(parent plan.Node, ctx expr.Expr, set language.SelectionSet) ([]plan.Field, error) {
	var out []plan.Field
	for _, sel := range set {
		switch sel := sel.(type) {
		case *language.Field:
			f, err := w.field(parent, ctx, sel)
			if err != nil {
				return nil, err
			}
			if f != nil {
				out = append(out, f)
			}
		case *language.FragmentSpread:
			f, err := w.fragmentSpread(parent, ctx, sel)
			if err != nil {
				return nil, err
			}
			if f != nil {
				out = append(out, f)
			}
		case *language.InlineFragment:
			fields, err := w.inlineFragment(parent, ctx, sel)
			if err != nil {
				return nil, err
			}
			out = append(out, fields...)
		}
	}
	return out, nil
}

func (w *walker) children(c plan.Container, ctx expr.Expr, set language.SelectionSet) error {
	fields, err := w.selectionSet(c, ctx, set)
	if err != nil {
		return err
	}
	for _, f := range fields {
		c.AddField(f)
	}
	return nil
}

func (w *walker) schemaType(ctx expr.Expr, pos *language.Position) (*schema.Type, error) {
	if ctx == nil {
		return nil, gqlerror.New(gqlerror.MalformedContext, "selection has no context").At(pos)
	}
	st, err := w.catalog.SchemaType(ctx.Type())
	if err != nil {
		return nil, gqlerror.Wrap(gqlerror.MalformedContext, err, "context %s", ctx).At(pos)
	}
	return st, nil
}

func (w *walker) field(parent plan.Node, ctx expr.Expr, f *language.Field) (plan.Field, error) {
	name := f.Alias
	if name == "" {
		name = f.Name
	}
	bound, err := w.bindDirectives(f.Directives)
	if err != nil {
		return nil, err
	}
	st, err := w.schemaType(ctx, f.Position)
	if err != nil {
		return nil, err
	}
	if f.Name == "__typename" {
		return w.processField(plan.NewScalarField(parent, name, nil, expr.NewConstant(st.Name, expr.String)), bound)
	}
	sf, err := st.Field(f.Name)
	if err != nil {
		return nil, gqlerror.New(gqlerror.UnknownField, "field %s not found on type %s", f.Name, st.Name).At(f.Position)
	}
	values, err := w.arguments(sf, f)
	if err != nil {
		return nil, err
	}
	if op, ok := parent.(*plan.Operation); ok && op.Kind == plan.Mutation {
		mf, err := w.mutationField(parent, name, sf, values, f)
		if err != nil {
			return nil, err
		}
		return w.processField(mf, bound)
	}

	res, err := sf.GetExpression(ctx, values)
	if err != nil {
		return nil, at(err, f.Position)
	}
	e := res.Expr
	for _, b := range bound {
		if e, err = b.p.ProcessExpression(e, b.args); err != nil {
			return nil, gqlerror.Wrap(gqlerror.GetExpressionFailed, err, "directive @%s on field %s", b.p.Name(), name).At(f.Position)
		}
		if e == nil {
			w.log.Debug().Str("field", name).Str("directive", b.p.Name()).Msg("field removed")
			return nil, nil
		}
	}

	var out plan.Field
	if len(f.SelectionSet) > 0 {
		if out, err = w.fieldSelect(parent, name, sf, e, f.SelectionSet); err != nil {
			return nil, at(err, f.Position)
		}
	} else {
		out = plan.NewScalarField(parent, name, sf, e)
	}
	out.AddConstantParameters(res.ConstantParameters)
	out.AddServices(res.Services...)
	return w.processField(out, bound)
}

// mutationField compiles a call of a mutation. The selection over its
// result is compiled against a placeholder of the declared return type.
func (w *walker) mutationField(parent plan.Node, name string, sf *schema.Field, values map[string]any, f *language.Field) (plan.Field, error) {
	ph := expr.NewParam("mut_"+sf.Name, sf.ReturnType())
	mf := plan.NewMutationField(parent, name, sf, values, ph)
	if len(f.SelectionSet) > 0 {
		sel, err := w.fieldSelect(mf, name, sf, ph, f.SelectionSet)
		if err != nil {
			return nil, at(err, f.Position)
		}
		mf.SetResultSelection(sel)
	}
	return mf, nil
}

// fieldSelect compiles a field with a selection set. A single object read
// out of a list is also compiled as a projection of that list so that the
// reduction can run after the projection.
func (w *walker) fieldSelect(parent plan.Node, name string, sf *schema.Field, source expr.Expr, set language.SelectionSet) (plan.Field, error) {
	t := source.Type()
	if sf.Type.IsList() || t.IsList() {
		if !t.IsList() {
			return nil, gqlerror.New(gqlerror.GetExpressionFailed, "field %s is declared as a list but its expression is %s", sf.Name, t.Name())
		}
		elem := expr.NewParam("p_"+t.Elem().Name(), t.Elem())
		list := plan.NewListSelectionField(parent, name, sf, source, elem)
		if err := w.children(list, elem, set); err != nil {
			return nil, err
		}
		return list, nil
	}

	obj := plan.NewObjectProjectionField(parent, name, sf, source, expr.NewParam("o_"+t.Name(), t))
	if err := w.children(obj, obj.Context(), set); err != nil {
		return nil, err
	}
	coll, reduce, ok := expr.FindEnumerable(source)
	if !ok {
		return obj, nil
	}
	elemType := coll.Type().Elem()
	elem := expr.NewParam("p_"+elemType.Name(), elemType)
	list := plan.NewListSelectionField(parent, name, sf, coll, elem)
	if err := w.children(list, elem, set); err != nil {
		return nil, err
	}
	w.log.Debug().Str("field", name).Str("reduce", string(reduce.Method)).Msg("collection to single")
	return plan.NewCollectionToSingleField(parent, list, obj, reduce), nil
}

func (w *walker) fragmentSpread(parent plan.Node, ctx expr.Expr, sel *language.FragmentSpread) (plan.Field, error) {
	if parent.RootParameter() == nil {
		return nil, gqlerror.New(gqlerror.InvalidFragmentSpread, "fragment %s spread outside of a selection", sel.Name).At(sel.Position)
	}
	bound, err := w.bindDirectives(sel.Directives)
	if err != nil {
		return nil, err
	}
	st, err := w.schemaType(ctx, sel.Position)
	if err != nil {
		return nil, err
	}
	w.spreads = append(w.spreads, spread{name: sel.Name, typeName: st.Name, pos: sel.Position})
	return w.processField(plan.NewFragmentField(parent, sel.Name), bound)
}

// inlineFragment compiles the selections of an inline fragment into the
// enclosing selection, applying its directives to each of them.
func (w *walker) inlineFragment(parent plan.Node, ctx expr.Expr, sel *language.InlineFragment) ([]plan.Field, error) {
	st, err := w.schemaType(ctx, sel.Position)
	if err != nil {
		return nil, err
	}
	if sel.TypeCondition != "" && sel.TypeCondition != st.Name {
		return nil, gqlerror.New(gqlerror.UnknownField, "inline fragment on %s cannot be applied to %s", sel.TypeCondition, st.Name).At(sel.Position)
	}
	bound, err := w.bindDirectives(sel.Directives)
	if err != nil {
		return nil, err
	}
	fields, err := w.selectionSet(parent, ctx, sel.SelectionSet)
	if err != nil {
		return nil, err
	}
	out := make([]plan.Field, 0, len(fields))
	for _, f := range fields {
		if f, err = w.processField(f, bound); err != nil {
			return nil, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}

// processField runs the directives of a field in order. A directive that
// drops the field ends the chain.
func (w *walker) processField(f plan.Field, bound []boundDirective) (plan.Field, error) {
	for _, b := range bound {
		out, err := b.p.ProcessField(f, b.args)
		if err != nil {
			return nil, err
		}
		if out == nil {
			w.log.Debug().Str("field", f.Name()).Str("directive", b.p.Name()).Msg("field removed")
			return nil, nil
		}
		f = out
	}
	return f, nil
}

func (w *walker) processor(name string) (directive.Processor, error) {
	if p, ok := w.directives.Directive(name); ok {
		return p, nil
	}
	return w.catalog.Directive(name)
}

func (w *walker) bindDirectives(list language.DirectiveList) ([]boundDirective, error) {
	out := make([]boundDirective, 0, len(list))
	namer := w.catalog.FieldNamer()
	for _, d := range list {
		p, err := w.processor(d.Name)
		if err != nil {
			return nil, at(err, d.Position)
		}
		decl := p.Arguments(namer)
		values := make(map[string]any, len(d.Arguments))
		for _, a := range d.Arguments {
			var ref *schema.TypeRef
			if ad, ok := lo.Find(decl, func(x *schema.ArgType) bool { return x.Name == a.Name }); ok {
				ref = ad.Type
			}
			v, err := w.constValue(a.Value, ref)
			if err != nil {
				return nil, err
			}
			values[a.Name] = v
		}
		args, err := directive.Bind(p, namer, values)
		if err != nil {
			return nil, at(err, d.Position)
		}
		out = append(out, boundDirective{p: p, args: args})
	}
	return out, nil
}

// constValue resolves a value at compile time, reading variables from the
// request and falling back to their declared defaults.
func (w *walker) constValue(v *language.Value, ref *schema.TypeRef) (any, error) {
	var raw any
	if v.Kind == language.Variable {
		val, ok := w.vars[v.Raw]
		if !ok {
			if def, declared := w.varDefs[v.Raw]; declared && def.HasDefault {
				return def.Default, nil
			}
			return nil, nil
		}
		raw = val
	} else {
		raw = schema.ValueFromAST(v)
	}
	if ref == nil || raw == nil {
		return raw, nil
	}
	c, err := w.catalog.CoerceValue(raw, ref)
	if err != nil {
		return nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "value %s", v.String()).At(v.Position)
	}
	return c, nil
}

func (w *walker) arguments(sf *schema.Field, f *language.Field) (map[string]any, error) {
	values := map[string]any{}
	for _, a := range f.Arguments {
		decl, ok := sf.Argument(a.Name)
		if !ok {
			return nil, gqlerror.New(gqlerror.UnknownArgument, "argument %s not declared on field %s.%s", a.Name, sf.Owner().Name, sf.Name).At(a.Position)
		}
		v, present, err := w.argumentValue(sf, decl, a.Value)
		if err != nil {
			return nil, err
		}
		if present {
			values[a.Name] = v
		}
	}
	for _, decl := range sf.Arguments {
		if _, ok := values[decl.Name]; ok {
			continue
		}
		if decl.HasDefault {
			if decl.QueryType == "" {
				values[decl.Name] = decl.DefaultValue
				continue
			}
			src, _ := decl.DefaultValue.(string)
			e, err := w.deferredQuery(sf, decl, src)
			if err != nil {
				return nil, at(err, f.Position)
			}
			values[decl.Name] = e
			continue
		}
		if decl.Required() {
			return nil, gqlerror.New(gqlerror.MissingRequiredArgument, "field %s.%s requires argument %s", sf.Owner().Name, sf.Name, decl.Name).At(f.Position)
		}
	}
	return values, nil
}

// argumentValue resolves one argument. Variables become reads of the
// variables parameter; literals are coerced to the declared type. A null
// argument is reported as absent.
func (w *walker) argumentValue(sf *schema.Field, decl *schema.ArgType, v *language.Value) (any, bool, error) {
	if v.Kind == language.NullValue {
		return nil, false, nil
	}
	if decl.QueryType != "" {
		src, err := w.constValue(v, decl.Type)
		if err != nil {
			return nil, false, err
		}
		if src == nil {
			return nil, false, nil
		}
		s, ok := src.(string)
		if !ok {
			return nil, false, gqlerror.New(gqlerror.InvalidValue, "query argument %s of field %s must be a string", decl.Name, sf.Name).At(v.Position)
		}
		e, err := w.deferredQuery(sf, decl, s)
		if err != nil {
			return nil, false, at(err, v.Position)
		}
		return e, true, nil
	}
	if v.Kind == language.Variable {
		m, err := expr.NewMember(w.varParam, v.Raw)
		if err != nil {
			return nil, false, gqlerror.New(gqlerror.MissingRequiredVariable, "variable $%s is not defined", v.Raw).At(v.Position)
		}
		return m, true, nil
	}
	c, err := w.catalog.CoerceValue(schema.ValueFromAST(v), decl.Type)
	if err != nil {
		return nil, false, gqlerror.Wrap(gqlerror.InvalidValue, err, "argument %s of field %s", decl.Name, sf.Name).At(v.Position)
	}
	return c, true, nil
}

// deferredQuery compiles a query argument into a predicate over a fresh
// parameter of the queried type. An empty query is an explicit null.
func (w *walker) deferredQuery(sf *schema.Field, decl *schema.ArgType, src string) (expr.Expr, error) {
	if src == "" {
		return expr.Null(expr.Any), nil
	}
	st, err := w.catalog.Type(decl.QueryType)
	if err != nil {
		return nil, err
	}
	lam, err := eql.Compile(src, expr.NewParam("q_"+st.Name, st.ExprType()), w.catalog)
	if err != nil {
		return nil, gqlerror.Wrap(gqlerror.GetExpressionFailed, err, "query argument %s of field %s", decl.Name, sf.Name)
	}
	return lam, nil
}

// at records pos on err when it is a gqlerror without a position.
func at(err error, pos *language.Position) error {
	var ge *gqlerror.Error
	if errors.As(err, &ge) && ge.Pos == nil {
		ge.At(pos)
	}
	return err
}
