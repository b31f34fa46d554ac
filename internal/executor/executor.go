// Package executor evaluates compiled plan documents against an in-memory
// root value.
//
// Query fields are turned into expressions with GetNodeExpression and
// evaluated with expr.Eval. A field that depends on services is evaluated in
// two passes: the service-free expansion of the field is materialised first,
// then the field is rebuilt against that value and evaluated with the
// services available. Mutation fields are called one after another in
// document order; the selection over a result is evaluated with the mutation
// placeholder bound to the returned value.
//
// Errors are collected per top-level field with their path. A failed field
// is null in the result and never affects the others or the Document, which
// may be executed again with other variables.
package executor

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/hanpama/entityplan/internal/eventbus"
	"github.com/hanpama/entityplan/internal/events"
	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	"github.com/hanpama/entityplan/internal/plan"
	"github.com/hanpama/entityplan/internal/reqid"
	"github.com/hanpama/entityplan/internal/schema"
)

// Services resolves services by name for expression service calls and by
// type for mutation parameters. *schema.Services implements it.
type Services interface {
	expr.ServiceResolver
	schema.ServiceProvider
}

// Coercer coerces variable values to their declared types.
type Coercer interface {
	CoerceValue(value any, t *schema.TypeRef) (any, error)
}

type Option func(*Executor)

func WithServices(s Services) Option {
	return func(e *Executor) { e.services = s }
}

// WithCoercer coerces request variables before evaluation. Without one the
// values are used as given.
func WithCoercer(c Coercer) Option {
	return func(e *Executor) { e.coercer = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

type Executor struct {
	services Services
	coercer  Coercer
	log      zerolog.Logger
}

func NewExecutor(opts ...Option) *Executor {
	e := &Executor{log: zerolog.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// executionState holds the state of one Execute call.
type executionState struct {
	ctx     context.Context
	doc     *plan.Document
	op      *plan.Operation
	env     *expr.Env
	vars    map[string]any
	records []GraphQLError
}

func (e *Executor) Execute(
	ctx context.Context,
	doc *plan.Document,
	operationName string,
	variables map[string]any,
	root any,
) *ExecutionResult {
	ctx, _ = reqid.Ensure(ctx)
	op, err := getOperation(doc, operationName)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{locate(err, nil)}}
	}
	eventbus.Publish(ctx, events.ExecuteStart{OperationName: op.Name, OperationType: string(op.Kind)})
	start := time.Now()

	result := e.execute(ctx, doc, op, variables, root)

	errs := make([]error, len(result.Errors))
	for i := range result.Errors {
		errs[i] = result.Errors[i]
	}
	eventbus.Publish(ctx, events.ExecuteFinish{
		OperationName: op.Name,
		OperationType: string(op.Kind),
		Errors:        errs,
		Duration:      time.Since(start),
	})
	e.log.Debug().
		Str("operation", op.Name).
		Str("kind", string(op.Kind)).
		Int("errors", len(result.Errors)).
		Dur("took", time.Since(start)).
		Msg("operation executed")
	return result
}

func (e *Executor) execute(ctx context.Context, doc *plan.Document, op *plan.Operation, variables map[string]any, root any) *ExecutionResult {
	vars, err := e.variableValues(op, variables)
	if err != nil {
		return &ExecutionResult{Errors: []GraphQLError{locate(err, nil)}}
	}

	var services expr.ServiceResolver
	if e.services != nil {
		services = e.services
	}
	env := expr.NewEnv(services).With(op.RootParameter(), root)
	if op.VariableParam != nil {
		env = env.With(op.VariableParam, vars)
	}
	for p, v := range doc.ConstantParameters() {
		env = env.With(p, v)
	}
	// fields spread into the operation read the root through their
	// fragment's parameter
	for _, def := range doc.Fragments {
		if expr.Same(def.RootParameter().Type(), op.RootParameter().Type()) {
			env = env.With(def.RootParameter(), root)
		}
	}

	state := &executionState{ctx: ctx, doc: doc, op: op, env: env, vars: vars, records: []GraphQLError{}}
	data := map[string]any{}
	for _, top := range op.Fields() {
		for f := range top.Expand(doc.Fragments, false) {
			path := Path{f.Name()}
			var v any
			if mf, ok := f.(*plan.MutationField); ok {
				v, err = e.callMutation(state, mf, root)
			} else {
				v, err = state.evalField(f, env)
			}
			if err != nil {
				state.records = append(state.records, locate(err, path))
				v = nil
			}
			data[f.Name()] = v
		}
	}
	return &ExecutionResult{Data: data, Errors: state.records}
}

func getOperation(doc *plan.Document, name string) (*plan.Operation, error) {
	if name == "" {
		if len(doc.Operations) != 1 {
			return nil, gqlerror.New(gqlerror.ExecutionFailed, "operation name is required when the document has %d operations", len(doc.Operations))
		}
		return doc.Operations[0], nil
	}
	op, ok := doc.Operation(name)
	if !ok {
		return nil, gqlerror.New(gqlerror.ExecutionFailed, "operation %s not found", name)
	}
	return op, nil
}

// variableValues merges the declared defaults into the request variables.
func (e *Executor) variableValues(op *plan.Operation, in map[string]any) (map[string]any, error) {
	out := maps.Clone(in)
	if out == nil {
		out = map[string]any{}
	}
	for name, def := range op.Variables {
		v, ok := out[name]
		if !ok || v == nil {
			if def.HasDefault {
				out[name] = def.Default
				continue
			}
			if def.Type.IsNonNull() {
				return nil, gqlerror.New(gqlerror.MissingRequiredVariable, "variable $%s of type %s is required", name, def.Type)
			}
			continue
		}
		if e.coercer == nil {
			continue
		}
		c, err := e.coercer.CoerceValue(v, def.Type)
		if err != nil {
			return nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "variable $%s", name)
		}
		out[name] = c
	}
	return out, nil
}

// evalField evaluates one field against env, in two passes when it needs
// services.
func (s *executionState) evalField(f plan.Field, env *expr.Env) (any, error) {
	frags := s.doc.Fragments
	if !f.HasAnyServices(frags) {
		e, err := f.GetNodeExpression(plan.BuildContext{Fragments: frags})
		if err != nil {
			return nil, err
		}
		return expr.Eval(e, env)
	}

	first, err := f.GetNodeExpression(plan.BuildContext{Fragments: frags, WithoutServiceFields: true})
	if err != nil {
		return nil, err
	}
	if first == nil {
		// the field's own source needs a service; nothing can be split off
		e, err := f.GetNodeExpression(plan.BuildContext{Fragments: frags})
		if err != nil {
			return nil, err
		}
		return expr.Eval(e, env)
	}
	v1, err := expr.Eval(first, env)
	if err != nil {
		return nil, fmt.Errorf("first pass: %w", err)
	}
	shape := expr.NewProjection(nil, expr.ProjectionField{Name: f.Name(), Expr: first})
	r := expr.NewParam("r", shape.Type())
	second, err := f.GetNodeExpression(plan.BuildContext{Fragments: frags, Replacement: r, ContextChanged: true})
	if err != nil {
		return nil, err
	}
	return expr.Eval(second, env.With(r, map[string]any{f.Name(): v1}))
}

func (e *Executor) callMutation(s *executionState, mf *plan.MutationField, root any) (any, error) {
	sf := mf.SchemaField()
	async := sf.Method != nil && sf.Method.IsAsync()
	eventbus.Publish(s.ctx, events.MutationCallStart{Field: sf.Name, Async: async})
	start := time.Now()

	var services schema.ServiceProvider
	if e.services != nil {
		services = e.services
	}
	result, err := mf.Call(s.ctx, root, &schema.Validator{}, services, s.op.VariableParam, s.vars)

	eventbus.Publish(s.ctx, events.MutationCallFinish{Field: sf.Name, Async: async, Err: err, Duration: time.Since(start)})
	e.log.Debug().Err(err).Str("field", mf.Name()).Bool("async", async).Msg("mutation called")
	if err != nil {
		return nil, err
	}
	sel := mf.ResultSelection()
	if sel == nil {
		return result, nil
	}
	return s.evalField(sel, s.env.With(mf.Placeholder(), result))
}
