package executor

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/entityplan/internal/compiler"
	"github.com/hanpama/entityplan/internal/eventbus"
	"github.com/hanpama/entityplan/internal/events"
	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	language "github.com/hanpama/entityplan/internal/language"
	"github.com/hanpama/entityplan/internal/plan"
	"github.com/hanpama/entityplan/internal/schema"
)

const sdl = `
type Query {
  people(filter: String @query): [Person!]!
}

type Person {
  id: ID!
  name: String
  birthday: String
  age: Int
}

type Mutation {
  addPerson(name: String!, age: Int = 30): Person
  rename(name: String!): String
  fail: Boolean
}
`

type mutationRoot struct{}

type renameArgs struct {
	Name string `gql:"name" validate:"min=2"`
}

type fixture struct {
	schema   *schema.Schema
	services *schema.Services
	added    []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := schema.FromSDL("people.graphql", sdl)
	require.NoError(t, err)
	s.WithIDArguments()
	f := &fixture{schema: s, services: schema.NewServices()}
	f.services.Register("ages", func(birthday string) int { return len(birthday) * 10 })

	require.NoError(t, s.BindService("Person", "age", "ages", func(svc any, args []any) (any, error) {
		return svc.(func(string) int)(args[0].(string)), nil
	}, "birthday"))
	require.NoError(t, s.BindMutation("addPerson", func(name string, age int) map[string]any {
		f.added = append(f.added, name)
		return map[string]any{"id": strconv.Itoa(len(f.added)), "name": name, "birthday": "1990"}
	}, schema.Params("name", "age")))
	require.NoError(t, s.BindMutation("rename", func(args renameArgs) string { return args.Name }))
	require.NoError(t, s.BindMutation("fail", func() error { return errors.New("boom") }))
	return f
}

var data = map[string]any{
	"people": []any{
		map[string]any{"id": "1", "name": "Ann", "birthday": "1990"},
		map[string]any{"id": "5", "name": "Bob", "birthday": "20000"},
	},
}

func mustParseQuery(t *testing.T, src string) *language.QueryDocument {
	t.Helper()
	doc, err := language.ParseQuery(src)
	require.NoError(t, err)
	return doc
}

func (f *fixture) compile(t *testing.T, src string, vars map[string]any) *plan.Document {
	t.Helper()
	doc, err := compiler.Compile(context.Background(), mustParseQuery(t, src), compiler.NewCatalog(f.schema, nil), compiler.Request{Variables: vars})
	require.NoError(t, err)
	return doc
}

func (f *fixture) executor() *Executor {
	return NewExecutor(WithServices(f.services), WithCoercer(f.schema))
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	doc := f.compile(t, `{ people { id name age } }`, nil)

	got := f.executor().Execute(context.Background(), doc, "", nil, data)
	want := &ExecutionResult{
		Data: map[string]any{"people": []any{
			map[string]any{"id": "1", "name": "Ann", "age": 40},
			map[string]any{"id": "5", "name": "Bob", "age": 50},
		}},
		Errors: []GraphQLError{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}

	t.Run("documents are reusable", func(t *testing.T) {
		again := f.executor().Execute(context.Background(), doc, "", nil, data)
		if diff := cmp.Diff(want, again); diff != "" {
			t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing service", func(t *testing.T) {
		got := NewExecutor().Execute(context.Background(), doc, "", nil, data)
		require.Len(t, got.Errors, 1)
		require.Equal(t, Path{"people"}, got.Errors[0].Path)
		require.Nil(t, got.Data.(map[string]any)["people"])
	})
}

type plusOne struct{}

func (plusOne) GetExpression(_ *schema.Field, e expr.Expr, _ expr.Expr) (expr.Expr, error) {
	return expr.NewBinary(expr.OpAdd, e, expr.NewConstant(1, expr.Int))
}

func TestServiceFields(t *testing.T) {
	t.Run("alias named like a member the service reads", func(t *testing.T) {
		f := newFixture(t)
		doc := f.compile(t, `{ people { age birthday: name } }`, nil)
		got := f.executor().Execute(context.Background(), doc, "", nil, data)
		require.Empty(t, got.Errors)
		want := map[string]any{"people": []any{
			map[string]any{"age": 40, "birthday": "Ann"},
			map[string]any{"age": 50, "birthday": "Bob"},
		}}
		if diff := cmp.Diff(want, got.Data); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("field extension", func(t *testing.T) {
		f := newFixture(t)
		age, err := f.schema.Types["Person"].Field("age")
		require.NoError(t, err)
		age.AddExtension(plusOne{})

		doc := f.compile(t, `{ people { name age } }`, nil)
		got := f.executor().Execute(context.Background(), doc, "", nil, data)
		require.Empty(t, got.Errors)
		want := map[string]any{"people": []any{
			map[string]any{"name": "Ann", "age": int64(41)},
			map[string]any{"name": "Bob", "age": int64(51)},
		}}
		if diff := cmp.Diff(want, got.Data); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestFilters(t *testing.T) {
	f := newFixture(t)
	doc := f.compile(t, `{ people(filter: "name == \"Bob\"") { id } }`, nil)
	got := f.executor().Execute(context.Background(), doc, "", nil, data)
	require.Empty(t, got.Errors)
	require.Equal(t, map[string]any{"people": []any{map[string]any{"id": "5"}}}, got.Data)
}

func TestCollectionToSingle(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		src  string
		vars map[string]any
		want any
	}{
		{"literal", `{ person(id: 5) { name } }`, nil, map[string]any{"name": "Bob"}},
		{"not found", `{ person(id: 7) { name } }`, nil, nil},
		{"variable", `query P($id: ID!) { person(id: $id) { name age } }`, map[string]any{"id": 1}, map[string]any{"name": "Ann", "age": 40}},
		{"variable default", `query P($id: ID = "5") { person(id: $id) { name } }`, nil, map[string]any{"name": "Bob"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := f.compile(t, tc.src, tc.vars)
			got := f.executor().Execute(context.Background(), doc, "", tc.vars, data)
			require.Empty(t, got.Errors)
			if diff := cmp.Diff(map[string]any{"person": tc.want}, got.Data); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFragments(t *testing.T) {
	f := newFixture(t)
	doc := f.compile(t, `
		query { ...Q }
		fragment Q on Query { people { ...F } }
		fragment F on Person { name }
	`, nil)
	got := f.executor().Execute(context.Background(), doc, "", nil, data)
	require.Empty(t, got.Errors)
	require.Equal(t, map[string]any{"people": []any{
		map[string]any{"name": "Ann"},
		map[string]any{"name": "Bob"},
	}}, got.Data)
}

func TestMutations(t *testing.T) {
	f := newFixture(t)
	doc := f.compile(t, `mutation {
		a: addPerson(name: "Ann") { id name age }
		fail
		b: addPerson(name: "Bob") { name }
	}`, nil)

	got := f.executor().Execute(context.Background(), doc, "", nil, &mutationRoot{})
	want := &ExecutionResult{
		Data: map[string]any{
			"a":    map[string]any{"id": "1", "name": "Ann", "age": 40},
			"fail": nil,
			"b":    map[string]any{"name": "Bob"},
		},
		Errors: []GraphQLError{{Message: "boom", Path: Path{"fail"}}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ExecutionResult mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"Ann", "Bob"}, f.added)

	t.Run("validation", func(t *testing.T) {
		doc := f.compile(t, `mutation { rename(name: "x") }`, nil)
		got := f.executor().Execute(context.Background(), doc, "", nil, &mutationRoot{})
		require.Len(t, got.Errors, 1)
		require.Equal(t, string(gqlerror.ValidationFailed), got.Errors[0].Extensions["kind"])
		require.Equal(t, []string{"argument name failed min validation"}, got.Errors[0].Extensions["messages"])
	})

	t.Run("variables", func(t *testing.T) {
		doc := f.compile(t, `mutation R($n: String!) { rename(name: $n) }`, map[string]any{"n": "Zed"})
		got := f.executor().Execute(context.Background(), doc, "R", map[string]any{"n": "Zed"}, &mutationRoot{})
		require.Empty(t, got.Errors)
		require.Equal(t, map[string]any{"rename": "Zed"}, got.Data)
	})
}

func TestOperationSelection(t *testing.T) {
	f := newFixture(t)
	doc := f.compile(t, `query A { people { id } } query B { people { name } }`, nil)

	got := f.executor().Execute(context.Background(), doc, "B", nil, data)
	require.Empty(t, got.Errors)
	require.Equal(t, map[string]any{"people": []any{map[string]any{"name": "Ann"}, map[string]any{"name": "Bob"}}}, got.Data)

	for _, name := range []string{"", "C"} {
		got := f.executor().Execute(context.Background(), doc, name, nil, data)
		require.Nil(t, got.Data)
		require.Len(t, got.Errors, 1)
		require.Equal(t, string(gqlerror.ExecutionFailed), got.Errors[0].Extensions["kind"])
	}

	t.Run("missing variable", func(t *testing.T) {
		doc := f.compile(t, `query P($id: ID!) { person(id: $id) { name } }`, map[string]any{"id": "1"})
		got := f.executor().Execute(context.Background(), doc, "", nil, data)
		require.Nil(t, got.Data)
		require.Equal(t, string(gqlerror.MissingRequiredVariable), got.Errors[0].Extensions["kind"])
	})
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	doc := f.compile(t, `mutation M { addPerson(name: "Ann") { id } fail }`, nil)
	prev := eventbus.Global()
	eventbus.Use(eventbus.New())
	t.Cleanup(func() { eventbus.Use(prev) })


	var seen []string
	defer eventbus.Subscribe(func(_ context.Context, e events.ExecuteStart) { seen = append(seen, "start "+e.OperationType) })()
	defer eventbus.Subscribe(func(_ context.Context, e events.MutationCallStart) { seen = append(seen, "call "+e.Field) })()
	defer eventbus.Subscribe(func(_ context.Context, e events.MutationCallFinish) {
		seen = append(seen, "done "+e.Field+" "+strconv.FormatBool(e.Err != nil))
	})()
	defer eventbus.Subscribe(func(_ context.Context, e events.ExecuteFinish) {
		seen = append(seen, "finish "+strconv.Itoa(len(e.Errors)))
	})()

	f.executor().Execute(context.Background(), doc, "M", nil, &mutationRoot{})
	want := []string{
		"start mutation",
		"call addPerson", "done addPerson false",
		"call fail", "done fail true",
		"finish 1",
	}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}
