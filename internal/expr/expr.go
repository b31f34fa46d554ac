// Package expr is the typed computation model plans are built from. An Expr
// tree describes how a value is derived from a symbolic context (a Param); it
// can be rewritten, inspected for service dependencies and evaluated against
// live Go values.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a node of an expression tree. The set of implementations is closed:
// *Param, *Constant, *Member, *Call, *Lambda, *Binary, *Unary, *Projection and
// *ServiceCall.
type Expr interface {
	Type() *Type
	String() string
	exprNode()
}

// Param is a symbolic placeholder substituted with a concrete value at
// evaluation. Params are compared by identity.
type Param struct {
	Name string
	typ  *Type
}

func NewParam(name string, typ *Type) *Param {
	return &Param{Name: name, typ: typ}
}

func (p *Param) Type() *Type    { return p.typ }
func (p *Param) String() string { return p.Name }
func (*Param) exprNode()        {}

type Constant struct {
	Value any
	typ   *Type
}

func NewConstant(value any, typ *Type) *Constant {
	if typ == nil {
		typ = TypeOf(value)
	}
	return &Constant{Value: value, typ: typ}
}

// Null is the explicit "no value" constant.
func Null(typ *Type) *Constant {
	if typ == nil {
		typ = Any
	}
	return &Constant{typ: typ}
}

func (c *Constant) Type() *Type { return c.typ }

func (c *Constant) String() string {
	switch v := c.Value.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (*Constant) exprNode() {}

// TypeOf guesses the type of a Go literal value.
func TypeOf(v any) *Type {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Int
	case float32, float64:
		return Float
	case string:
		return String
	case bool:
		return Boolean
	default:
		return Any
	}
}

// Member reads a named field of Target.
type Member struct {
	Target Expr
	Name   string
	typ    *Type
}

func NewMember(target Expr, name string) (*Member, error) {
	tt := target.Type()
	if tt == Any {
		return &Member{Target: target, Name: name, typ: Any}, nil
	}
	ft, ok := tt.Field(name)
	if !ok {
		return nil, fmt.Errorf("type %s has no field %q", tt.Name(), name)
	}
	return &Member{Target: target, Name: name, typ: ft}, nil
}

func (m *Member) Type() *Type    { return m.typ }
func (m *Member) String() string { return m.Target.String() + "." + m.Name }
func (*Member) exprNode()        {}

// Lambda is a function literal used as a Call argument.
type Lambda struct {
	Params []*Param
	Body   Expr
}

func NewLambda(body Expr, params ...*Param) *Lambda {
	return &Lambda{Params: params, Body: body}
}

// Type of a lambda is the type of its body.
func (l *Lambda) Type() *Type { return l.Body.Type() }

func (l *Lambda) String() string {
	names := make([]string, len(l.Params))
	for i, p := range l.Params {
		names[i] = p.Name
	}
	head := strings.Join(names, ", ")
	if len(l.Params) != 1 {
		head = "(" + head + ")"
	}
	return head + " => " + l.Body.String()
}

func (*Lambda) exprNode() {}

type BinaryOp string

const (
	OpEq  BinaryOp = "=="
	OpNe  BinaryOp = "!="
	OpLt  BinaryOp = "<"
	OpLe  BinaryOp = "<="
	OpGt  BinaryOp = ">"
	OpGe  BinaryOp = ">="
	OpAnd BinaryOp = "&&"
	OpOr  BinaryOp = "||"
	OpAdd BinaryOp = "+"
	OpSub BinaryOp = "-"
	OpMul BinaryOp = "*"
	OpDiv BinaryOp = "/"
	OpMod BinaryOp = "%"
)

type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	typ   *Type
}

func NewBinary(op BinaryOp, left, right Expr) (*Binary, error) {
	lt, rt := left.Type(), right.Type()
	var typ *Type
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		typ = Boolean
	case OpAnd, OpOr:
		if !Assignable(Boolean, lt) || !Assignable(Boolean, rt) {
			return nil, fmt.Errorf("operator %s requires Boolean operands, got %s and %s", op, lt.Name(), rt.Name())
		}
		typ = Boolean
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		switch {
		case op == OpAdd && lt == String && rt == String:
			typ = String
		case lt == Any || rt == Any:
			typ = Any
		case lt == Float || rt == Float:
			typ = Float
		case lt == Int && rt == Int:
			typ = Int
		default:
			return nil, fmt.Errorf("operator %s not defined on %s and %s", op, lt.Name(), rt.Name())
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	return &Binary{Op: op, Left: left, Right: right, typ: typ}, nil
}

func (b *Binary) Type() *Type { return b.typ }

func (b *Binary) String() string {
	return operand(b.Left) + " " + string(b.Op) + " " + operand(b.Right)
}

func (*Binary) exprNode() {}

type UnaryOp string

const (
	OpNot UnaryOp = "!"
	OpNeg UnaryOp = "-"
)

type Unary struct {
	Op      UnaryOp
	Operand Expr
}

func NewUnary(op UnaryOp, operand Expr) (*Unary, error) {
	switch op {
	case OpNot:
		if !Assignable(Boolean, operand.Type()) {
			return nil, fmt.Errorf("operator ! requires a Boolean operand, got %s", operand.Type().Name())
		}
	case OpNeg:
		if t := operand.Type(); t != Int && t != Float && t != Any {
			return nil, fmt.Errorf("operator - requires a numeric operand, got %s", t.Name())
		}
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
	return &Unary{Op: op, Operand: operand}, nil
}

func (u *Unary) Type() *Type {
	if u.Op == OpNot {
		return Boolean
	}
	return u.Operand.Type()
}

func (u *Unary) String() string { return string(u.Op) + operand(u.Operand) }
func (*Unary) exprNode()        {}

func operand(e Expr) string {
	if _, ok := e.(*Binary); ok {
		return "(" + e.String() + ")"
	}
	return e.String()
}

// Projection builds an object out of named expressions. When Guard is set and
// evaluates to null the projection is null as well.
type Projection struct {
	Guard  Expr
	Fields []ProjectionField
	typ    *Type
}

type ProjectionField struct {
	Name string
	Expr Expr
}

func NewProjection(guard Expr, fields ...ProjectionField) *Projection {
	tf := make([]TypeField, len(fields))
	for i, f := range fields {
		tf[i] = TypeField{Name: f.Name, Type: f.Expr.Type()}
	}
	typ := NewObject(describeFields(tf))
	for _, f := range tf {
		typ.AddField(f.Name, f.Type)
	}
	return &Projection{Guard: guard, Fields: fields, typ: typ}
}

func (p *Projection) Type() *Type { return p.typ }

func (p *Projection) String() string {
	parts := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		parts[i] = f.Name + " = " + f.Expr.String()
	}
	s := "new {" + strings.Join(parts, ", ") + "}"
	if p.Guard != nil {
		s = p.Guard.String() + " == null ? null : " + s
	}
	return s
}

func (*Projection) exprNode() {}

// ServiceFunc computes a value using a resolved service instance.
type ServiceFunc func(service any, args []any) (any, error)

// ServiceCall is a computation that needs an external service. Its arguments
// are ordinary expressions over the data context.
type ServiceCall struct {
	Service string
	Name    string
	Args    []Expr
	Fn      ServiceFunc
	typ     *Type
}

func NewServiceCall(service, name string, result *Type, fn ServiceFunc, args ...Expr) *ServiceCall {
	return &ServiceCall{Service: service, Name: name, Args: args, Fn: fn, typ: result}
}

func (s *ServiceCall) Type() *Type { return s.typ }

func (s *ServiceCall) String() string {
	return s.Service + "." + s.Name + "(" + joinExprs(s.Args) + ")"
}

func (*ServiceCall) exprNode() {}

func joinExprs(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}
