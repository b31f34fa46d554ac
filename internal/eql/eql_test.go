package eql

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	"github.com/hanpama/entityplan/internal/schema"
)

const sdl = `
type Query { people(filter: String @query): [Person] }
type Person {
  id: ID!
  name: String
  age: Int
  friends: [Person]
}
`

func newSchema(t *testing.T) (*schema.Schema, *expr.Param) {
	t.Helper()
	s, err := schema.FromSDL("eql.graphql", sdl)
	require.NoError(t, err)
	return s, expr.NewParam("q_Person", s.ExprType("Person"))
}

func TestCompile(t *testing.T) {
	s, ctx := newSchema(t)
	cases := []struct {
		src  string
		want string
	}{
		{`name == "Bob"`, `q_Person.name == "Bob"`},
		{`age > 30 and id == 5`, `(q_Person.age > 30) && (q_Person.id == 5)`},
		{`friends.any(age >= 18)`, `q_Person.friends.Any(p_Person => p_Person.age >= 18)`},
		{`friends.count() > 2 || !(name.contains("o"))`, `(q_Person.friends.Count() > 2) || !q_Person.name.Contains("o")`},
		{`-age + 1 * 2 != 0`, `(-q_Person.age + (1 * 2)) != 0`},
		{`friends.where(name == "x").first().name == name`, `q_Person.friends.Where(p_Person => p_Person.name == "x").First().name == q_Person.name`},
		{`friends.orderBy(age).take(2).count() == 2`, `q_Person.friends.OrderBy(p_Person => p_Person.age).Take(2).Count() == 2`},
		{`age >= 1.5 or name == null`, `(q_Person.age >= 1.5) || (q_Person.name == null)`},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			l, err := Compile(tc.src, ctx, s)
			require.NoError(t, err)
			require.Same(t, ctx, l.Params[0])
			if diff := cmp.Diff(tc.want, l.Body.String()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileErrors(t *testing.T) {
	s, ctx := newSchema(t)
	cases := []struct {
		src  string
		kind gqlerror.Kind
	}{
		{`nope == 1`, gqlerror.UnknownField},
		{`name ==`, gqlerror.GetExpressionFailed},
		{`name = "x"`, gqlerror.GetExpressionFailed},
		{`name == "x" )`, gqlerror.GetExpressionFailed},
		{`friends.name == "x"`, gqlerror.GetExpressionFailed},
		{`name && true`, gqlerror.GetExpressionFailed},
		{`name.shout()`, gqlerror.GetExpressionFailed},
		{`name == "unterminated`, gqlerror.GetExpressionFailed},
		{`  `, gqlerror.GetExpressionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			_, err := Compile(tc.src, ctx, s)
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.kind), "got %v", err)
		})
	}
}

func TestCompiledFilter(t *testing.T) {
	s, ctx := newSchema(t)
	l, err := Compile(`age > 30 && name.contains("o")`, ctx, s)
	require.NoError(t, err)

	people := expr.NewParam("people", expr.ListOf(s.ExprType("Person")))
	where, err := expr.NewCall(expr.Where, people, l)
	require.NoError(t, err)

	data := []any{
		map[string]any{"id": "1", "name": "Bob", "age": 41},
		map[string]any{"id": "2", "name": "Tom", "age": 20},
		map[string]any{"id": "3", "name": "Ann", "age": 50},
	}
	got, err := expr.Eval(where, expr.NewEnv(nil).With(people, data))
	require.NoError(t, err)
	if diff := cmp.Diff([]any{data[0]}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
