// Package eql compiles the small filter language accepted by @query
// arguments into expressions.
//
// A query is evaluated against one element of a list. Bare identifiers read
// fields of that element; lists offer any, count, where, first, last, take,
// skip, orderBy and orderByDesc; strings offer contains:
//
//	name == "Bob" && friends.any(age > 30)
//	friends.count(name.contains("o")) >= 2 or id == 5
//
// Predicates passed to list methods are scoped to the list element.
package eql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/samber/lo"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	"github.com/hanpama/entityplan/internal/schema"
)

// TypeResolver finds the schema type describing an expression type.
type TypeResolver interface {
	SchemaType(t *expr.Type) (*schema.Type, error)
}

// Compile parses src into a single-parameter lambda over ctx.
func Compile(src string, ctx *expr.Param, types TypeResolver) (l *expr.Lambda, err error) {
	p := &parser{lex: newLexer(src), types: types, scope: ctx}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch r := r.(type) {
		case syntaxError:
			err = gqlerror.Wrap(gqlerror.GetExpressionFailed, r, "query %q", src)
		case failure:
			var ge *gqlerror.Error
			if errors.As(r.err, &ge) {
				err = r.err
				return
			}
			err = gqlerror.Wrap(gqlerror.GetExpressionFailed, r.err, "query %q", src)
		default:
			panic(r)
		}
	}()
	p.advance()
	if p.tok.kind == scanner.EOF {
		return nil, gqlerror.New(gqlerror.GetExpressionFailed, "empty query")
	}
	body := p.or()
	if p.tok.kind != scanner.EOF {
		p.unexpected()
	}
	return expr.NewLambda(body, ctx), nil
}

type failure struct{ err error }

type parser struct {
	lex   *lexer
	tok   token
	types TypeResolver
	scope expr.Expr
}

func (p *parser) advance() { p.tok = p.lex.next() }

func (p *parser) fail(err error) { panic(failure{err}) }

func (p *parser) unexpected() {
	panic(syntaxError{pos: p.tok.pos, msg: "unexpected " + p.tok.String()})
}

func (p *parser) check(e expr.Expr, err error) expr.Expr {
	if err != nil {
		p.fail(err)
	}
	return e
}

// at reports whether the current token is the operator or keyword text.
func (p *parser) at(texts ...string) bool {
	if p.tok.kind != punct && p.tok.kind != scanner.Ident {
		return false
	}
	return lo.Contains(texts, p.tok.text)
}

func (p *parser) expect(text string) {
	if p.tok.kind != punct || p.tok.text != text {
		panic(syntaxError{pos: p.tok.pos, msg: fmt.Sprintf("expected %q, got %s", text, p.tok)})
	}
	p.advance()
}

func (p *parser) or() expr.Expr {
	left := p.and()
	for p.at("||", "or") {
		p.advance()
		left = p.check(expr.NewBinary(expr.OpOr, left, p.and()))
	}
	return left
}

func (p *parser) and() expr.Expr {
	left := p.comparison()
	for p.at("&&", "and") {
		p.advance()
		left = p.check(expr.NewBinary(expr.OpAnd, left, p.comparison()))
	}
	return left
}

func (p *parser) comparison() expr.Expr {
	left := p.additive()
	if p.tok.kind == punct && lo.Contains([]string{"==", "!=", "<", "<=", ">", ">="}, p.tok.text) {
		op := expr.BinaryOp(p.tok.text)
		p.advance()
		return p.check(expr.NewBinary(op, left, p.additive()))
	}
	return left
}

func (p *parser) additive() expr.Expr {
	left := p.multiplicative()
	for p.tok.kind == punct && (p.tok.text == "+" || p.tok.text == "-") {
		op := expr.BinaryOp(p.tok.text)
		p.advance()
		left = p.check(expr.NewBinary(op, left, p.multiplicative()))
	}
	return left
}

func (p *parser) multiplicative() expr.Expr {
	left := p.unary()
	for p.tok.kind == punct && (p.tok.text == "*" || p.tok.text == "/" || p.tok.text == "%") {
		op := expr.BinaryOp(p.tok.text)
		p.advance()
		left = p.check(expr.NewBinary(op, left, p.unary()))
	}
	return left
}

func (p *parser) unary() expr.Expr {
	if p.tok.kind == punct && (p.tok.text == "!" || p.tok.text == "-") {
		op := expr.UnaryOp(p.tok.text)
		p.advance()
		return p.check(expr.NewUnary(op, p.unary()))
	}
	return p.postfix(p.primary())
}

func (p *parser) primary() expr.Expr {
	t := p.tok
	switch t.kind {
	case scanner.Int:
		n, err := strconv.ParseInt(t.text, 0, 64)
		if err != nil {
			panic(syntaxError{pos: t.pos, msg: err.Error()})
		}
		p.advance()
		return expr.NewConstant(n, expr.Int)
	case scanner.Float:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			panic(syntaxError{pos: t.pos, msg: err.Error()})
		}
		p.advance()
		return expr.NewConstant(f, expr.Float)
	case scanner.String:
		s, err := strconv.Unquote(t.text)
		if err != nil {
			panic(syntaxError{pos: t.pos, msg: err.Error()})
		}
		p.advance()
		return expr.NewConstant(s, expr.String)
	case scanner.Ident:
		p.advance()
		switch t.text {
		case "true", "false":
			return expr.NewConstant(t.text == "true", expr.Boolean)
		case "null":
			return expr.Null(expr.Any)
		}
		return p.member(p.scope, t.text)
	case punct:
		if t.text == "(" {
			p.advance()
			e := p.or()
			p.expect(")")
			return e
		}
	}
	p.unexpected()
	return nil
}

func (p *parser) postfix(e expr.Expr) expr.Expr {
	for p.tok.kind == punct && p.tok.text == "." {
		p.advance()
		if p.tok.kind != scanner.Ident {
			p.unexpected()
		}
		name := p.tok.text
		p.advance()
		if p.tok.kind == punct && p.tok.text == "(" {
			p.advance()
			e = p.method(e, name)
			continue
		}
		e = p.member(e, name)
	}
	return e
}

// member reads a schema field of target, going through the field's own
// expression so computed fields work as well as plain members.
func (p *parser) member(target expr.Expr, name string) expr.Expr {
	if target.Type().IsList() {
		p.fail(fmt.Errorf("cannot read %s of list %s, use a list method", name, target))
	}
	st, err := p.types.SchemaType(target.Type())
	if err != nil {
		p.fail(err)
	}
	f, err := st.Field(name)
	if err != nil {
		p.fail(err)
	}
	if a, ok := lo.Find(f.Arguments, func(a *schema.ArgType) bool { return a.Required() }); ok {
		p.fail(gqlerror.New(gqlerror.MissingRequiredArgument, "field %s requires argument %s and cannot be used in a query", name, a.Name))
	}
	res, err := f.GetExpression(target, nil)
	if err != nil {
		p.fail(err)
	}
	return res.Expr
}

var listMethods = map[string]expr.Method{
	"any":         expr.AnyOf,
	"count":       expr.Count,
	"where":       expr.Where,
	"first":       expr.First,
	"last":        expr.Last,
	"orderby":     expr.OrderBy,
	"orderbydesc": expr.OrderByDescending,
	"take":        expr.Take,
	"skip":        expr.Skip,
}

// method parses the arguments of a method call whose "(" was consumed.
func (p *parser) method(target expr.Expr, name string) expr.Expr {
	lower := strings.ToLower(name)
	if lower == "contains" {
		arg := p.or()
		p.expect(")")
		return p.check(expr.NewCall(expr.Contains, target, arg))
	}
	m, ok := listMethods[lower]
	if !ok {
		p.fail(fmt.Errorf("unknown method %s", name))
	}
	var args []expr.Expr
	if !(p.tok.kind == punct && p.tok.text == ")") {
		if m == expr.Take || m == expr.Skip {
			args = append(args, p.or())
		} else {
			args = append(args, p.lambda(target))
		}
	}
	p.expect(")")
	return p.check(expr.NewCall(m, target, args...))
}

// lambda parses an expression scoped to the element of list.
func (p *parser) lambda(list expr.Expr) *expr.Lambda {
	elem := list.Type().Elem()
	if elem == nil {
		p.fail(fmt.Errorf("%s is not a list", list))
	}
	param := expr.NewParam("p_"+elem.Name(), elem)
	outer := p.scope
	p.scope = param
	body := p.or()
	p.scope = outer
	return expr.NewLambda(body, param)
}
