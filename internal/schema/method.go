package schema

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
)

// Validator collects validation messages raised by a mutation while it runs.
// A mutation receives it by declaring a *Validator parameter.
type Validator struct {
	mu     sync.Mutex
	errors []string
}

func (v *Validator) AddError(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}

func (v *Validator) Errors() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.errors...)
}

// ArgumentValidatorContext is handed to argument validators before a call.
// Arguments is the populated arguments struct when the method takes one,
// otherwise the named argument values in parameter order.
type ArgumentValidatorContext struct {
	Field     *Field
	Arguments any
	errors    []string
}

func (c *ArgumentValidatorContext) AddError(format string, args ...any) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

type ArgumentValidator func(*ArgumentValidatorContext)

type MethodOption func(*MethodField)

// Params names the parameters of the bound func positionally. A named
// parameter is bound to the argument of that name; an empty name leaves the
// parameter to be injected.
func Params(names ...string) MethodOption {
	return func(m *MethodField) { m.names = names }
}

// Async makes Call run the func on its own goroutine and wait for it, or for
// the call context to be done.
func Async() MethodOption {
	return func(m *MethodField) { m.async = true }
}

func WithArgumentValidator(v ArgumentValidator) MethodOption {
	return func(m *MethodField) { m.validators = append(m.validators, v) }
}

// MethodField backs a mutation field with a Go func.
type MethodField struct {
	field      *Field
	fn         reflect.Value
	names      []string
	async      bool
	validators []ArgumentValidator
	args       *argsStruct
	validate   *validator.Validate
	namer      Namer
}

var (
	contextType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	validatorType = reflect.TypeOf((*Validator)(nil))
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
)

func newMethodField(f *Field, fn any, namer Namer, opts ...MethodOption) (*MethodField, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return nil, fmt.Errorf("mutation %s: expected a func, got %T", f.Name, fn)
	}
	m := &MethodField{field: f, fn: v, namer: namer}
	for _, o := range opts {
		o(m)
	}
	t := v.Type()
	if len(m.names) > t.NumIn() {
		return nil, fmt.Errorf("mutation %s: %d parameter names for %d parameters", f.Name, len(m.names), t.NumIn())
	}
	for i := 0; i < t.NumIn(); i++ {
		if isArgsStruct(t.In(i)) {
			if m.args != nil {
				return nil, fmt.Errorf("mutation %s: more than one arguments struct", f.Name)
			}
			m.args = newArgsStruct(t.In(i), namer)
		}
	}
	switch t.NumOut() {
	case 0, 1:
	case 2:
		if t.Out(1) != errorType {
			return nil, fmt.Errorf("mutation %s: second result must be error", f.Name)
		}
	default:
		return nil, fmt.Errorf("mutation %s: too many results", f.Name)
	}

	m.validate = validator.New()
	m.validate.RegisterTagNameFunc(func(sf reflect.StructField) string {
		name := strings.Split(sf.Tag.Get(tagName), ",")[0]
		if name == "" {
			name = namer(sf.Name)
		}
		return name
	})
	return m, nil
}

// IsAsync reports whether the func runs on its own goroutine.
func (m *MethodField) IsAsync() bool { return m.async }

func (m *MethodField) paramName(i int) string {
	if i < len(m.names) {
		return m.names[i]
	}
	return ""
}

// Call invokes the mutation. Argument values that are expressions are
// evaluated against docVariables bound to variableParam. Parameters are
// bound, in order of preference, to the arguments struct, a named argument,
// the source value, the validator, the call context, a declared default and
// finally a service of the parameter's type.
func (m *MethodField) Call(
	ctx context.Context,
	source any,
	requestArgs map[string]any,
	v *Validator,
	services ServiceProvider,
	variableParam *expr.Param,
	docVariables map[string]any,
) (any, error) {
	if source == nil {
		return nil, nil
	}
	if v == nil {
		v = &Validator{}
	}
	args, err := m.resolveArgs(requestArgs, variableParam, docVariables)
	if err != nil {
		return nil, err
	}

	t := m.fn.Type()
	in := make([]reflect.Value, t.NumIn())
	var messages []string
	var argsInstance reflect.Value
	var named []any

	for i := 0; i < t.NumIn(); i++ {
		pt := t.In(i)
		name := m.paramName(i)
		switch {
		case m.args != nil && isArgsStruct(pt):
			inst, msgs, err := m.buildArgsStruct(args)
			if err != nil {
				return nil, err
			}
			messages = append(messages, msgs...)
			argsInstance = inst
			if pt.Kind() == reflect.Pointer {
				in[i] = inst
			} else {
				in[i] = inst.Elem()
			}
		case name != "" && hasKey(args, name):
			pv := reflect.New(pt).Elem()
			if err := assign(pv, args[name], m.namer); err != nil {
				return nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "argument %s of mutation %s", name, m.field.Name)
			}
			in[i] = pv
			named = append(named, pv.Interface())
		case reflect.TypeOf(source) == pt:
			in[i] = reflect.ValueOf(source)
		case pt == validatorType:
			in[i] = reflect.ValueOf(v)
		case pt == contextType:
			in[i] = reflect.ValueOf(ctx)
		case name != "":
			pv := reflect.New(pt).Elem()
			if a, ok := m.field.Argument(name); ok && a.HasDefault {
				if err := assign(pv, a.DefaultValue, m.namer); err != nil {
					return nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "default of argument %s", name)
				}
			} else if ok && a.Required() {
				messages = append(messages, fmt.Sprintf("missing required argument %s", name))
			}
			in[i] = pv
			named = append(named, pv.Interface())
		default:
			svc, ok := lookupService(services, pt)
			if !ok {
				return nil, gqlerror.New(gqlerror.ServiceNotFound, "service %s not found for mutation %s", pt, m.field.Name)
			}
			in[i] = reflect.ValueOf(svc)
		}
	}

	if len(m.validators) > 0 {
		vc := &ArgumentValidatorContext{Field: m.field, Arguments: named}
		if argsInstance.IsValid() {
			vc.Arguments = argsInstance.Interface()
		}
		for _, av := range m.validators {
			av(vc)
		}
		messages = append(messages, vc.errors...)
	}
	if len(messages) > 0 {
		return nil, &gqlerror.ValidationError{Messages: messages}
	}

	var result any
	if m.async {
		result, err = m.invokeAsync(ctx, in)
	} else {
		result, err = m.invoke(in)
	}
	if err != nil {
		return nil, err
	}
	if msgs := v.Errors(); len(msgs) > 0 {
		return nil, &gqlerror.ValidationError{Messages: msgs}
	}
	return result, nil
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}

func lookupService(services ServiceProvider, t reflect.Type) (any, bool) {
	if services == nil {
		return nil, false
	}
	return services.ServiceFor(t)
}

func (m *MethodField) resolveArgs(requestArgs map[string]any, variableParam *expr.Param, docVariables map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(requestArgs))
	for name, val := range requestArgs {
		if e, ok := val.(expr.Expr); ok {
			if variableParam == nil {
				return nil, gqlerror.New(gqlerror.ExecutionFailed, "argument %s refers to variables but none were bound", name)
			}
			resolved, err := expr.Eval(e, expr.NewEnv(nil).With(variableParam, docVariables))
			if err != nil {
				return nil, gqlerror.Wrap(gqlerror.ExecutionFailed, err, "argument %s", name)
			}
			val = resolved
		}
		out[name] = val
	}
	return out, nil
}

func (m *MethodField) buildArgsStruct(args map[string]any) (reflect.Value, []string, error) {
	values := make(map[string]any, len(m.field.Arguments))
	var messages []string
	for _, a := range m.field.Arguments {
		if _, ok := m.args.field(a.Name); !ok {
			continue
		}
		val, ok := args[a.Name]
		switch {
		case ok:
			values[a.Name] = val
		case a.HasDefault:
			values[a.Name] = a.DefaultValue
		case a.Required():
			messages = append(messages, fmt.Sprintf("missing required argument %s", a.Name))
		}
	}
	inst, err := m.args.decode(values, m.namer)
	if err != nil {
		return reflect.Value{}, nil, gqlerror.Wrap(gqlerror.InvalidValue, err, "arguments of mutation %s", m.field.Name)
	}
	if err := m.validate.Struct(inst.Interface()); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return reflect.Value{}, nil, err
		}
		for _, fe := range verrs {
			messages = append(messages, fmt.Sprintf("argument %s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return inst, messages, nil
}

// invoke calls the func, converting a panic into the error it carried.
func (m *MethodField) invoke(in []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("mutation %s: %v", m.field.Name, r)
		}
	}()
	out := m.fn.Call(in)
	switch len(out) {
	case 0:
		return true, nil
	case 1:
		if out[0].Type() == errorType {
			if e, _ := out[0].Interface().(error); e != nil {
				return nil, e
			}
			return true, nil
		}
		return out[0].Interface(), nil
	}
	if e, _ := out[1].Interface().(error); e != nil {
		return nil, e
	}
	return out[0].Interface(), nil
}

func (m *MethodField) invokeAsync(ctx context.Context, in []reflect.Value) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := m.invoke(in)
		done <- outcome{r, err}
	}()
	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
