package plan

import (
	"iter"

	"github.com/samber/lo"

	"github.com/hanpama/entityplan/internal/expr"
)

func anyServices(fields []Field, frags Fragments) bool {
	return lo.SomeBy(fields, func(f Field) bool { return f.HasAnyServices(frags) })
}

// expandContainer yields a container itself, or the members it reads from its
// context when extract is set and they can be isolated.
func expandContainer(f Field, b *base, source expr.Expr, extract bool) iter.Seq[Field] {
	return func(yield func(Field) bool) {
		if extract {
			if fields, ok := b.extract(source); ok {
				yieldAll(fields, yield)
				return
			}
		}
		yield(f)
	}
}

// buildChildren expands children and builds one projection entry per distinct
// response name. Fields left out by the build context are skipped, and
// expressions coming from fragments are rebound to scope.
func buildChildren(children []Field, bc BuildContext, scope *expr.Param) ([]expr.ProjectionField, error) {
	var out []expr.ProjectionField
	seen := map[string]bool{}
	for _, c := range children {
		for leaf := range c.Expand(bc.Fragments, bc.WithoutServiceFields) {
			if seen[leaf.Name()] {
				continue
			}
			e, err := leaf.GetNodeExpression(bc)
			if err != nil {
				return nil, err
			}
			if e == nil {
				continue
			}
			if e, err = rerootFragments(e, bc.Fragments, scope); err != nil {
				return nil, err
			}
			seen[leaf.Name()] = true
			out = append(out, expr.ProjectionField{Name: leaf.Name(), Expr: e})
		}
	}
	return out, nil
}

// rerootFragments replaces fragment context parameters left in e by scope.
func rerootFragments(e expr.Expr, frags Fragments, scope *expr.Param) (expr.Expr, error) {
	for _, p := range expr.Params(e) {
		if p == scope {
			continue
		}
		isFragment := lo.SomeBy(lo.Values(frags), func(d *FragmentDefinition) bool { return d.ctx == p })
		if !isFragment {
			continue
		}
		var err error
		if e, err = expr.ReplaceParam(e, p, scope); err != nil {
			return nil, err
		}
	}
	return e, nil
}
