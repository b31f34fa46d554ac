package expr

import "github.com/samber/lo"

// Children returns the direct sub-expressions of e in evaluation order.
func Children(e Expr) []Expr {
	switch n := e.(type) {
	case *Member:
		return []Expr{n.Target}
	case *Call:
		return append([]Expr{n.Source}, n.Args...)
	case *Lambda:
		return []Expr{n.Body}
	case *Binary:
		return []Expr{n.Left, n.Right}
	case *Unary:
		return []Expr{n.Operand}
	case *Projection:
		out := make([]Expr, 0, len(n.Fields)+1)
		if n.Guard != nil {
			out = append(out, n.Guard)
		}
		for _, f := range n.Fields {
			out = append(out, f.Expr)
		}
		return out
	case *ServiceCall:
		return append([]Expr(nil), n.Args...)
	default:
		return nil
	}
}

// rebuild returns a copy of e with its children replaced, in the order
// Children reports them. Unchanged nodes are returned as is.
func rebuild(e Expr, kids []Expr) (Expr, error) {
	old := Children(e)
	changed := false
	for i := range old {
		if old[i] != kids[i] {
			changed = true
			break
		}
	}
	if !changed {
		return e, nil
	}
	switch n := e.(type) {
	case *Member:
		return NewMember(kids[0], n.Name)
	case *Call:
		return NewCall(n.Method, kids[0], kids[1:]...)
	case *Lambda:
		return NewLambda(kids[0], n.Params...), nil
	case *Binary:
		return NewBinary(n.Op, kids[0], kids[1])
	case *Unary:
		return NewUnary(n.Op, kids[0])
	case *Projection:
		var guard Expr
		if n.Guard != nil {
			guard, kids = kids[0], kids[1:]
		}
		fields := make([]ProjectionField, len(n.Fields))
		for i, f := range n.Fields {
			fields[i] = ProjectionField{Name: f.Name, Expr: kids[i]}
		}
		return NewProjection(guard, fields...), nil
	case *ServiceCall:
		return NewServiceCall(n.Service, n.Name, n.typ, n.Fn, kids...), nil
	default:
		return e, nil
	}
}

// Rewrite rebuilds e bottom-up, offering every node to fn after its children
// have been rewritten.
func Rewrite(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	kids := Children(e)
	if len(kids) > 0 {
		next := make([]Expr, len(kids))
		for i, k := range kids {
			r, err := Rewrite(k, fn)
			if err != nil {
				return nil, err
			}
			next[i] = r
		}
		var err error
		if e, err = rebuild(e, next); err != nil {
			return nil, err
		}
	}
	return fn(e)
}

// ReplaceParam substitutes every occurrence of p in e.
func ReplaceParam(e Expr, p *Param, with Expr) (Expr, error) {
	return Rewrite(e, func(n Expr) (Expr, error) {
		if n == Expr(p) {
			return with, nil
		}
		return n, nil
	})
}

// ReplaceByType replaces the outermost sub-expressions of type typ with
// with. Parameters bound by an enclosing lambda are never replaced.
func ReplaceByType(e Expr, typ *Type, with Expr) (Expr, error) {
	return replaceByType(e, typ, with, nil)
}

func replaceByType(e Expr, typ *Type, with Expr, bound []*Param) (Expr, error) {
	if _, isLambda := e.(*Lambda); !isLambda && Same(e.Type(), typ) {
		p, isParam := e.(*Param)
		if !isParam || !lo.Contains(bound, p) {
			return with, nil
		}
	}
	if l, ok := e.(*Lambda); ok {
		bound = append(bound[:len(bound):len(bound)], l.Params...)
	}
	kids := Children(e)
	if len(kids) == 0 {
		return e, nil
	}
	next := make([]Expr, len(kids))
	for i, k := range kids {
		r, err := replaceByType(k, typ, with, bound)
		if err != nil {
			return nil, err
		}
		next[i] = r
	}
	return rebuild(e, next)
}

// FindEnumerable reports whether e takes a single element out of a list,
// returning the list expression and the reducing call. A reducer with a
// predicate is split so that the returned call takes no arguments:
// xs.First(p) gives xs.Where(p) and First().
func FindEnumerable(e Expr) (Expr, *Call, bool) {
	c, ok := e.(*Call)
	if !ok || !c.Reduces() || !c.Source.Type().IsList() {
		return nil, nil, false
	}
	if len(c.Args) == 0 {
		return c.Source, c, true
	}
	list, err := NewCall(Where, c.Source, c.Args...)
	if err != nil {
		return nil, nil, false
	}
	reduce, err := NewCall(c.Method, list)
	if err != nil {
		return nil, nil, false
	}
	return list, reduce, true
}

// Services lists the names of the services e depends on, in first-use order.
func Services(e Expr) []string {
	var out []string
	walk(e, func(n Expr) {
		if s, ok := n.(*ServiceCall); ok && !lo.Contains(out, s.Service) {
			out = append(out, s.Service)
		}
	})
	return out
}

// Params lists the free parameters of e.
func Params(e Expr) []*Param {
	var out []*Param
	var visit func(Expr, []*Param)
	visit = func(n Expr, bound []*Param) {
		switch t := n.(type) {
		case *Param:
			if !lo.Contains(bound, t) && !lo.Contains(out, t) {
				out = append(out, t)
			}
			return
		case *Lambda:
			bound = append(bound[:len(bound):len(bound)], t.Params...)
		}
		for _, k := range Children(n) {
			visit(k, bound)
		}
	}
	visit(e, nil)
	return out
}

// ExtractMembersOf collects the direct member reads on root that e performs.
// It fails when root itself is used other than as a member target, since the
// whole value would then be needed.
func ExtractMembersOf(e Expr, root *Param) ([]ProjectionField, bool) {
	var out []ProjectionField
	ok := true
	var visit func(Expr)
	visit = func(n Expr) {
		if !ok {
			return
		}
		if m, isMember := n.(*Member); isMember && m.Target == Expr(root) {
			if !lo.ContainsBy(out, func(f ProjectionField) bool { return f.Name == m.Name }) {
				out = append(out, ProjectionField{Name: m.Name, Expr: m})
			}
			return
		}
		if n == Expr(root) {
			ok = false
			return
		}
		for _, k := range Children(n) {
			visit(k)
		}
	}
	visit(e)
	if !ok {
		return nil, false
	}
	return out, true
}

func walk(e Expr, fn func(Expr)) {
	fn(e)
	for _, k := range Children(e) {
		walk(k, fn)
	}
}
