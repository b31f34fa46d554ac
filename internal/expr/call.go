package expr

import "fmt"

type Method string

const (
	Where             Method = "Where"
	Select            Method = "Select"
	First             Method = "First"
	FirstOrDefault    Method = "FirstOrDefault"
	Last              Method = "Last"
	LastOrDefault     Method = "LastOrDefault"
	Single            Method = "Single"
	Take              Method = "Take"
	Skip              Method = "Skip"
	Count             Method = "Count"
	AnyOf             Method = "Any"
	OrderBy           Method = "OrderBy"
	OrderByDescending Method = "OrderByDescending"
	Contains          Method = "Contains"
)

// Call applies a collection method to Source. Lambda arguments take the
// element of Source as their only parameter.
type Call struct {
	Method Method
	Source Expr
	Args   []Expr
	typ    *Type
}

func NewCall(method Method, source Expr, args ...Expr) (*Call, error) {
	st := source.Type()
	if method == Contains && (st == String || st == Any) && len(args) == 1 {
		return &Call{Method: method, Source: source, Args: args, typ: Boolean}, nil
	}
	if !st.IsList() && st != Any {
		return nil, fmt.Errorf("%s requires a list source, got %s", method, st.Name())
	}
	elem := st.Elem()
	if elem == nil {
		elem = Any
	}

	var typ *Type
	switch method {
	case Where:
		if err := wantLambda(method, args, elem, Boolean, true); err != nil {
			return nil, err
		}
		typ = st
	case Select:
		if err := wantLambda(method, args, elem, nil, true); err != nil {
			return nil, err
		}
		typ = ListOf(args[0].Type())
	case First, FirstOrDefault, Last, LastOrDefault, Single:
		if err := wantLambda(method, args, elem, Boolean, false); err != nil {
			return nil, err
		}
		typ = elem
	case Count, AnyOf:
		if err := wantLambda(method, args, elem, Boolean, false); err != nil {
			return nil, err
		}
		typ = Int
		if method == AnyOf {
			typ = Boolean
		}
	case OrderBy, OrderByDescending:
		if err := wantLambda(method, args, elem, nil, true); err != nil {
			return nil, err
		}
		typ = st
	case Take, Skip:
		if len(args) != 1 || !Assignable(Int, args[0].Type()) {
			return nil, fmt.Errorf("%s requires one Int argument", method)
		}
		typ = st
	case Contains:
		if len(args) != 1 {
			return nil, fmt.Errorf("Contains requires one argument")
		}
		typ = Boolean
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
	return &Call{Method: method, Source: source, Args: args, typ: typ}, nil
}

func wantLambda(method Method, args []Expr, elem, result *Type, required bool) error {
	if len(args) == 0 && !required {
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("%s takes exactly one lambda argument", method)
	}
	l, ok := args[0].(*Lambda)
	if !ok || len(l.Params) != 1 {
		return fmt.Errorf("%s requires a single-parameter lambda", method)
	}
	if !Assignable(l.Params[0].Type(), elem) {
		return fmt.Errorf("%s lambda parameter %s is %s, list element is %s",
			method, l.Params[0].Name, l.Params[0].Type().Name(), elem.Name())
	}
	if result != nil && !Assignable(result, l.Body.Type()) {
		return fmt.Errorf("%s lambda must return %s, got %s", method, result.Name(), l.Body.Type().Name())
	}
	return nil
}

// Reduces reports whether the call turns a list into one of its elements.
func (c *Call) Reduces() bool {
	switch c.Method {
	case First, FirstOrDefault, Last, LastOrDefault, Single:
		return true
	}
	return false
}

// WithSource rebuilds the call over a different source.
func (c *Call) WithSource(source Expr) (*Call, error) {
	return NewCall(c.Method, source, c.Args...)
}

func (c *Call) Type() *Type { return c.typ }

func (c *Call) String() string {
	return c.Source.String() + "." + string(c.Method) + "(" + joinExprs(c.Args) + ")"
}

func (*Call) exprNode() {}
