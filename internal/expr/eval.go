package expr

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/hanpama/entityplan/internal/gqlerror"
)

// ServiceResolver looks up service instances by name.
type ServiceResolver interface {
	Service(name string) (any, bool)
}

// ServiceMap is a ServiceResolver over a fixed map.
type ServiceMap map[string]any

func (m ServiceMap) Service(name string) (any, bool) {
	s, ok := m[name]
	return s, ok
}

// Env binds parameters to values for Eval. Envs are immutable; With returns a
// child scope.
type Env struct {
	parent   *Env
	param    *Param
	value    any
	services ServiceResolver
}

func NewEnv(services ServiceResolver) *Env {
	return &Env{services: services}
}

func (e *Env) With(p *Param, v any) *Env {
	return &Env{parent: e, param: p, value: v, services: e.services}
}

func (e *Env) Lookup(p *Param) (any, bool) {
	for s := e; s != nil; s = s.parent {
		if s.param == p {
			return s.value, true
		}
	}
	return nil, false
}

// Eval computes the value of e. Member reads on null yield null, so a missing
// object short-circuits the rest of a path.
func Eval(e Expr, env *Env) (any, error) {
	switch n := e.(type) {
	case *Param:
		v, ok := env.Lookup(n)
		if !ok {
			return nil, fmt.Errorf("unbound parameter %s", n.Name)
		}
		return v, nil
	case *Constant:
		return n.Value, nil
	case *Member:
		target, err := Eval(n.Target, env)
		if err != nil {
			return nil, err
		}
		return member(target, n.Name), nil
	case *Call:
		return evalCall(n, env)
	case *Lambda:
		return nil, fmt.Errorf("lambda %s evaluated outside of a call", n)
	case *Binary:
		return evalBinary(n, env)
	case *Unary:
		v, err := Eval(n.Operand, env)
		if err != nil || v == nil {
			return nil, err
		}
		if n.Op == OpNot {
			b, _ := v.(bool)
			return !b, nil
		}
		if i, ok := toInt(v); ok {
			return -i, nil
		}
		f, _ := toFloat(v)
		return -f, nil
	case *Projection:
		if n.Guard != nil {
			g, err := Eval(n.Guard, env)
			if err != nil {
				return nil, err
			}
			if isNull(g) {
				return nil, nil
			}
		}
		out := make(map[string]any, len(n.Fields))
		for _, f := range n.Fields {
			v, err := Eval(f.Expr, env)
			if err != nil {
				return nil, err
			}
			out[f.Name] = v
		}
		return out, nil
	case *ServiceCall:
		var svc any
		ok := false
		if env.services != nil {
			svc, ok = env.services.Service(n.Service)
		}
		if !ok {
			return nil, gqlerror.New(gqlerror.ServiceNotFound, "service %s is not registered", n.Service)
		}
		args := make([]any, len(n.Args))
		for i, a := range n.Args {
			v, err := Eval(a, env)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		return n.Fn(svc, args)
	default:
		return nil, fmt.Errorf("cannot evaluate %T", e)
	}
}

func member(target any, name string) any {
	if isNull(target) {
		return nil
	}
	if m, ok := target.(map[string]any); ok {
		return m[name]
	}
	rv := reflect.ValueOf(target)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		f := rv.FieldByNameFunc(func(s string) bool { return strings.EqualFold(s, name) })
		if f.IsValid() && f.CanInterface() {
			return f.Interface()
		}
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			v := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
			if v.IsValid() {
				return v.Interface()
			}
		}
	}
	return nil
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func toSlice(v any) ([]any, bool) {
	if isNull(v) {
		return nil, true
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func applyLambda(l *Lambda, env *Env, v any) (any, error) {
	return Eval(l.Body, env.With(l.Params[0], v))
}

func filter(c *Call, env *Env, items []any) ([]any, error) {
	if len(c.Args) == 0 {
		return items, nil
	}
	l := c.Args[0].(*Lambda)
	var out []any
	for _, it := range items {
		ok, err := applyLambda(l, env, it)
		if err != nil {
			return nil, err
		}
		if b, _ := ok.(bool); b {
			out = append(out, it)
		}
	}
	return out, nil
}

func evalCall(c *Call, env *Env) (any, error) {
	src, err := Eval(c.Source, env)
	if err != nil {
		return nil, err
	}
	if c.Method == Contains {
		if s, ok := src.(string); ok {
			arg, err := Eval(c.Args[0], env)
			if err != nil {
				return nil, err
			}
			sub, _ := arg.(string)
			return strings.Contains(s, sub), nil
		}
	}
	items, ok := toSlice(src)
	if !ok {
		return nil, fmt.Errorf("%s: source is %T, not a list", c.Method, src)
	}
	if src == nil || isNull(src) {
		switch c.Method {
		case Count:
			return 0, nil
		case AnyOf, Contains:
			return false, nil
		case First, Single, Last:
			return nil, fmt.Errorf("%s: sequence is null", c.Method)
		}
		return nil, nil
	}

	switch c.Method {
	case Where:
		out, err := filter(c, env, items)
		if out == nil && err == nil {
			out = []any{}
		}
		return out, err
	case Select:
		l := c.Args[0].(*Lambda)
		out := make([]any, len(items))
		for i, it := range items {
			if out[i], err = applyLambda(l, env, it); err != nil {
				return nil, err
			}
		}
		return out, nil
	case First, FirstOrDefault, Last, LastOrDefault, Single:
		matched, err := filter(c, env, items)
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			if c.Method == FirstOrDefault || c.Method == LastOrDefault {
				return nil, nil
			}
			return nil, fmt.Errorf("%s: sequence contains no matching element", c.Method)
		}
		switch c.Method {
		case Last, LastOrDefault:
			return matched[len(matched)-1], nil
		case Single:
			if len(matched) > 1 {
				return nil, fmt.Errorf("Single: sequence contains more than one matching element")
			}
		}
		return matched[0], nil
	case Count:
		matched, err := filter(c, env, items)
		return len(matched), err
	case AnyOf:
		matched, err := filter(c, env, items)
		return len(matched) > 0, err
	case Take, Skip:
		nv, err := Eval(c.Args[0], env)
		if err != nil {
			return nil, err
		}
		n, _ := toInt(nv)
		n = max(0, min(n, int64(len(items))))
		if c.Method == Take {
			return items[:n], nil
		}
		return items[n:], nil
	case OrderBy, OrderByDescending:
		l := c.Args[0].(*Lambda)
		keys := make([]any, len(items))
		for i, it := range items {
			if keys[i], err = applyLambda(l, env, it); err != nil {
				return nil, err
			}
		}
		idx := make([]int, len(items))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool {
			cmp := compare(keys[idx[a]], keys[idx[b]])
			if c.Method == OrderByDescending {
				return cmp > 0
			}
			return cmp < 0
		})
		out := make([]any, len(items))
		for i, j := range idx {
			out[i] = items[j]
		}
		return out, nil
	case Contains:
		v, err := Eval(c.Args[0], env)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if equal(it, v) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("unknown method %q", c.Method)
}

func evalBinary(b *Binary, env *Env) (any, error) {
	l, err := Eval(b.Left, env)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case OpAnd, OpOr:
		lb, _ := l.(bool)
		if b.Op == OpAnd && !lb {
			return false, nil
		}
		if b.Op == OpOr && lb {
			return true, nil
		}
		r, err := Eval(b.Right, env)
		if err != nil {
			return nil, err
		}
		rb, _ := r.(bool)
		return rb, nil
	}
	r, err := Eval(b.Right, env)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case OpEq:
		return equal(l, r), nil
	case OpNe:
		return !equal(l, r), nil
	case OpLt, OpLe, OpGt, OpGe:
		if isNull(l) || isNull(r) {
			return false, nil
		}
		c := compare(l, r)
		switch b.Op {
		case OpLt:
			return c < 0, nil
		case OpLe:
			return c <= 0, nil
		case OpGt:
			return c > 0, nil
		}
		return c >= 0, nil
	}
	if isNull(l) || isNull(r) {
		return nil, nil
	}
	if ls, ok := l.(string); ok && b.Op == OpAdd {
		return ls + fmt.Sprint(r), nil
	}
	li, lInt := toInt(l)
	ri, rInt := toInt(r)
	if lInt && rInt {
		switch b.Op {
		case OpAdd:
			return li + ri, nil
		case OpSub:
			return li - ri, nil
		case OpMul:
			return li * ri, nil
		case OpDiv, OpMod:
			if ri == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			if b.Op == OpDiv {
				return li / ri, nil
			}
			return li % ri, nil
		}
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("operator %s not defined on %T and %T", b.Op, l, r)
	}
	switch b.Op {
	case OpAdd:
		return lf + rf, nil
	case OpSub:
		return lf - rf, nil
	case OpMul:
		return lf * rf, nil
	case OpDiv:
		return lf / rf, nil
	}
	return math.Mod(lf, rf), nil
}

func toInt(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Float32 || rv.Kind() == reflect.Float64 {
		return rv.Float(), true
	}
	return 0, false
}

func equal(a, b any) bool {
	if isNull(a) || isNull(b) {
		return isNull(a) && isNull(b)
	}
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	switch {
	case aNum && bNum:
		return af == bf
	case aNum:
		// IDs arrive as strings from the query but may be numbers in the data.
		bs, ok := b.(string)
		return ok && bs == fmt.Sprint(af)
	case bNum:
		as, ok := a.(string)
		return ok && as == fmt.Sprint(bf)
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) int {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
