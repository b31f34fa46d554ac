package plan

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/gqlerror"
	"github.com/hanpama/entityplan/internal/schema"
)

type fixture struct {
	doc    *Document
	op     *Operation
	ctx    *expr.Param
	person *expr.Type
	people expr.Expr
}

func newFixture() fixture {
	person := expr.NewObject("Person")
	person.AddField("id", expr.Int)
	person.AddField("name", expr.String)
	person.AddField("birthday", expr.String)
	root := expr.NewObject("Query")
	root.AddField("people", expr.ListOf(person))

	doc := NewDocument(nil)
	ctx := expr.NewParam("ctx", root)
	op := doc.AddOperation(Query, "People", ctx, map[string]VariableDefinition{}, nil)
	return fixture{doc: doc, op: op, ctx: ctx, person: person, people: must(expr.NewMember(ctx, "people"))}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func member(e expr.Expr, name string) expr.Expr { return must(expr.NewMember(e, name)) }

func ageCall(p expr.Expr) *expr.ServiceCall {
	return expr.NewServiceCall("ages", "age", expr.Int, func(svc any, args []any) (any, error) {
		return svc.(func(string) int)(args[0].(string)), nil
	}, member(p, "birthday"))
}

// peopleWithAge selects people { id name age } where age needs the ages
// service.
func (f fixture) peopleWithAge() *ListSelectionField {
	elem := expr.NewParam("p_Person", f.person)
	list := NewListSelectionField(f.op, "people", nil, f.people, elem)
	list.AddField(NewScalarField(list, "id", nil, member(elem, "id")))
	list.AddField(NewScalarField(list, "name", nil, member(elem, "name")))
	age := NewScalarField(list, "age", nil, ageCall(elem))
	age.AddServices("ages")
	list.AddField(age)
	f.op.AddField(list)
	return list
}

var data = map[string]any{
	"people": []any{
		map[string]any{"id": 1, "name": "Ann", "birthday": "1990"},
		map[string]any{"id": 5, "name": "Bob", "birthday": "20000"},
	},
}

var services = expr.ServiceMap{"ages": func(s string) int { return len(s) * 10 }}

func names(fields []Field) []string {
	return lo.Map(fields, func(f Field, _ int) string { return f.Name() })
}

func TestArena(t *testing.T) {
	f := newFixture()
	list := f.peopleWithAge()

	require.Equal(t, 5, f.doc.Len())
	require.Same(t, list, f.doc.Node(list.ID()))
	require.Nil(t, f.doc.Node(NodeID(99)))
	require.Equal(t, f.op.ID(), list.Parent())

	id := list.Fields()[0]
	require.Equal(t, list.ID(), id.Parent())
	require.Same(t, list, id.(*ScalarField).ParentNode())
	require.Same(t, list.Element(), id.RootParameter())
	require.Same(t, f.ctx, list.RootParameter())

	op, ok := f.doc.Operation("")
	require.True(t, ok)
	require.Same(t, f.op, op)
	_, ok = f.doc.Operation("Other")
	require.False(t, ok)
}

func TestServicesPropagate(t *testing.T) {
	f := newFixture()
	list := f.peopleWithAge()

	require.Equal(t, []string{"ages"}, list.Services())
	require.Equal(t, []string{"ages"}, f.op.Services())
	require.True(t, list.HasAnyServices(nil))
	require.False(t, list.Fields()[0].HasAnyServices(nil))
}

func TestExpand(t *testing.T) {
	f := newFixture()
	list := f.peopleWithAge()
	age := list.Fields()[2]

	t.Run("service field yields the members it reads", func(t *testing.T) {
		first := slices.Collect(age.Expand(nil, true))
		second := slices.Collect(age.Expand(nil, true))
		require.Len(t, first, 1)
		require.Same(t, first[0], second[0])
		require.Equal(t, "__m_birthday", first[0].Name())
		require.Nil(t, first[0].SchemaField())
		require.Equal(t, NoNode, first[0].ID())
		require.Equal(t, list.ID(), first[0].Parent())
	})

	t.Run("service field kept when services are allowed", func(t *testing.T) {
		got := slices.Collect(age.Expand(nil, false))
		require.Equal(t, []Field{age}, got)
	})

	t.Run("concurrent expansion", func(t *testing.T) {
		g := newFixture().peopleWithAge()
		var wg sync.WaitGroup
		out := make([]string, 16)
		for i := range out {
			wg.Add(1)
			go func() {
				defer wg.Done()
				e, err := g.GetNodeExpression(BuildContext{WithoutServiceFields: true})
				if err == nil {
					out[i] = e.String()
				}
			}()
		}
		wg.Wait()
		require.Len(t, lo.Uniq(out), 1)
		require.NotEmpty(t, out[0])
	})
}

func TestListSelection(t *testing.T) {
	f := newFixture()
	list := f.peopleWithAge()

	e, err := list.GetNodeExpression(BuildContext{})
	require.NoError(t, err)
	want := "ctx.people.Select(p_Person => new {id = p_Person.id, name = p_Person.name, age = ages.age(p_Person.birthday)})"
	if diff := cmp.Diff(want, e.String()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	got, err := expr.Eval(e, expr.NewEnv(services).With(f.ctx, data))
	require.NoError(t, err)
	wantValue := []any{
		map[string]any{"id": 1, "name": "Ann", "age": 40},
		map[string]any{"id": 5, "name": "Bob", "age": 50},
	}
	if diff := cmp.Diff(wantValue, got); diff != "" {
		t.Fatalf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestTwoPassEvaluation(t *testing.T) {
	f := newFixture()
	list := f.peopleWithAge()

	first, err := list.GetNodeExpression(BuildContext{WithoutServiceFields: true})
	require.NoError(t, err)
	require.Equal(t,
		"ctx.people.Select(p_Person => new {id = p_Person.id, name = p_Person.name, __m_birthday = p_Person.birthday})",
		first.String())
	require.Empty(t, expr.Services(first))

	// the first pass runs without any service available
	v1, err := expr.Eval(first, expr.NewEnv(nil).With(f.ctx, data))
	require.NoError(t, err)

	shape := expr.NewProjection(nil, expr.ProjectionField{Name: "people", Expr: first})
	r := expr.NewParam("r", shape.Type())
	second, err := list.GetNodeExpression(BuildContext{Replacement: r, ContextChanged: true})
	require.NoError(t, err)
	require.Equal(t,
		"r.people.Select(p_Person => new {id = p_Person.id, name = p_Person.name, age = ages.age(p_Person.__m_birthday)})",
		second.String())
	require.Equal(t, []*expr.Param{r}, expr.Params(second))

	got, err := expr.Eval(second, expr.NewEnv(services).With(r, map[string]any{"people": v1}))
	require.NoError(t, err)
	want := []any{
		map[string]any{"id": 1, "name": "Ann", "age": 40},
		map[string]any{"id": 5, "name": "Bob", "age": 50},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

type plusOne struct{}

func (plusOne) GetExpression(_ *schema.Field, e expr.Expr, _ expr.Expr) (expr.Expr, error) {
	return expr.NewBinary(expr.OpAdd, e, expr.NewConstant(1, expr.Int))
}

// twoPass evaluates list the way an evaluator does when services are needed.
func (f fixture) twoPass(t *testing.T, list *ListSelectionField) (first, second expr.Expr, got any) {
	t.Helper()
	first, err := list.GetNodeExpression(BuildContext{WithoutServiceFields: true})
	require.NoError(t, err)
	v1, err := expr.Eval(first, expr.NewEnv(nil).With(f.ctx, data))
	require.NoError(t, err)
	shape := expr.NewProjection(nil, expr.ProjectionField{Name: "people", Expr: first})
	r := expr.NewParam("r", shape.Type())
	second, err = list.GetNodeExpression(BuildContext{Replacement: r, ContextChanged: true})
	require.NoError(t, err)
	got, err = expr.Eval(second, expr.NewEnv(services).With(r, map[string]any{"people": v1}))
	require.NoError(t, err)
	return first, second, got
}

func TestExtractedMembers(t *testing.T) {
	t.Run("alias named like an extracted member", func(t *testing.T) {
		f := newFixture()
		elem := expr.NewParam("p_Person", f.person)
		list := NewListSelectionField(f.op, "people", nil, f.people, elem)
		age := NewScalarField(list, "age", nil, ageCall(elem))
		age.AddServices("ages")
		list.AddField(age)
		list.AddField(NewScalarField(list, "birthday", nil, member(elem, "name")))

		first, second, got := f.twoPass(t, list)
		require.Equal(t,
			"ctx.people.Select(p_Person => new {__m_birthday = p_Person.birthday, birthday = p_Person.name})",
			first.String())
		require.Equal(t,
			"r.people.Select(p_Person => new {age = ages.age(p_Person.__m_birthday), birthday = p_Person.birthday})",
			second.String())
		want := []any{
			map[string]any{"age": 40, "birthday": "Ann"},
			map[string]any{"age": 50, "birthday": "Bob"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("extensions apply to the service field only", func(t *testing.T) {
		f := newFixture()
		elem := expr.NewParam("p_Person", f.person)
		list := NewListSelectionField(f.op, "people", nil, f.people, elem)
		sf := schema.NewField("age", "", schema.NamedType("Int")).AddExtension(plusOne{})
		age := NewScalarField(list, "age", sf, ageCall(elem))
		age.AddServices("ages")
		list.AddField(age)
		list.AddField(NewScalarField(list, "name", nil, member(elem, "name")))

		e, err := list.GetNodeExpression(BuildContext{})
		require.NoError(t, err)
		require.Equal(t, "ctx.people.Select(p_Person => new {age = ages.age(p_Person.birthday) + 1, name = p_Person.name})", e.String())

		_, _, got := f.twoPass(t, list)
		want := []any{
			map[string]any{"age": int64(41), "name": "Ann"},
			map[string]any{"age": int64(51), "name": "Bob"},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestObjectProjection(t *testing.T) {
	f := newFixture()
	o := expr.NewParam("o_Person", f.person)
	obj := NewObjectProjectionField(f.op, "first", nil, must(expr.NewCall(expr.FirstOrDefault, f.people)), o)
	obj.AddField(NewScalarField(obj, "name", nil, member(o, "name")))

	e, err := obj.GetNodeExpression(BuildContext{})
	require.NoError(t, err)
	require.Equal(t, "ctx.people.FirstOrDefault() == null ? null : new {name = ctx.people.FirstOrDefault().name}", e.String())

	got, err := expr.Eval(e, expr.NewEnv(nil).With(f.ctx, data))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Ann"}, got)

	got, err = expr.Eval(e, expr.NewEnv(nil).With(f.ctx, map[string]any{"people": []any{}}))
	require.NoError(t, err)
	require.Nil(t, got)

	t.Run("parameter source is its own context", func(t *testing.T) {
		p := expr.NewParam("mut_addPerson", f.person)
		self := NewObjectProjectionField(f.op, "addPerson", nil, p, nil)
		require.Same(t, p, self.Context())
		self.AddField(NewScalarField(self, "id", nil, member(p, "id")))
		e, err := self.GetNodeExpression(BuildContext{})
		require.NoError(t, err)
		require.Equal(t, "mut_addPerson == null ? null : new {id = mut_addPerson.id}", e.String())
	})
}

func TestCollectionToSingle(t *testing.T) {
	f := newFixture()
	x := expr.NewParam("x", f.person)
	pred := expr.NewLambda(must(expr.NewBinary(expr.OpEq, member(x, "id"), expr.NewConstant(5, nil))), x)
	firstCall := must(expr.NewCall(expr.First, f.people, pred))
	list, reduce, ok := expr.FindEnumerable(firstCall)
	require.True(t, ok)

	elem := expr.NewParam("p_Person", f.person)
	coll := NewListSelectionField(f.op, "person", nil, list, elem)
	coll.AddField(NewScalarField(coll, "name", nil, member(elem, "name")))
	o := expr.NewParam("o_Person", f.person)
	single := NewObjectProjectionField(f.op, "person", nil, firstCall, o)
	single.AddField(NewScalarField(single, "name", nil, member(o, "name")))
	cts := NewCollectionToSingleField(f.op, coll, single, reduce)

	e, err := cts.GetNodeExpression(BuildContext{})
	require.NoError(t, err)
	require.Equal(t, "ctx.people.Where(x => x.id == 5).Select(p_Person => new {name = p_Person.name}).First()", e.String())

	got, err := expr.Eval(e, expr.NewEnv(nil).With(f.ctx, data))
	require.NoError(t, err)
	require.Equal(t, map[string]any{"name": "Bob"}, got)

	t.Run("changed context reads the materialised element", func(t *testing.T) {
		shape := expr.NewProjection(nil, expr.ProjectionField{Name: "person", Expr: e})
		r := expr.NewParam("r", shape.Type())
		e, err := cts.GetNodeExpression(BuildContext{Replacement: r, ContextChanged: true})
		require.NoError(t, err)
		require.Equal(t, "r.person == null ? null : new {name = r.person.name}", e.String())
	})
}

func TestFragments(t *testing.T) {
	f := newFixture()
	fp := expr.NewParam("frag_Person", f.person)
	def := f.doc.AddFragment("PersonName", "Person", fp)
	def.AddField(NewScalarField(def, "name", nil, member(fp, "name")))

	elem := expr.NewParam("p_Person", f.person)
	list := NewListSelectionField(f.op, "people", nil, f.people, elem)
	spread := NewFragmentField(list, "PersonName")
	list.AddField(spread)
	list.AddField(NewScalarField(list, "id", nil, member(elem, "id")))
	list.AddField(NewScalarField(list, "name", nil, member(elem, "name")))

	t.Run("spread expands to the fragment's fields", func(t *testing.T) {
		got := slices.Collect(spread.Expand(f.doc.Fragments, false))
		require.Equal(t, []string{"name"}, names(got))
		require.False(t, spread.HasAnyServices(f.doc.Fragments))
	})

	t.Run("rebound to the container and deduplicated", func(t *testing.T) {
		e, err := list.GetNodeExpression(BuildContext{Fragments: f.doc.Fragments})
		require.NoError(t, err)
		require.Equal(t, "ctx.people.Select(p_Person => new {name = p_Person.name, id = p_Person.id})", e.String())
	})

	t.Run("unknown fragment expands to nothing", func(t *testing.T) {
		require.Empty(t, slices.Collect(spread.Expand(Fragments{}, false)))
	})

	t.Run("spread has no expression of its own", func(t *testing.T) {
		_, err := spread.GetNodeExpression(BuildContext{})
		require.True(t, errors.Is(err, gqlerror.MalformedContext), "got %v", err)
	})
}

func TestMutationField(t *testing.T) {
	f := newFixture()
	sf := schema.NewField("addPerson", "", schema.NamedType("Person"))
	p := expr.NewParam("mut_addPerson", f.person)
	m := NewMutationField(f.op, "addPerson", sf, map[string]any{"name": "Ann"}, p)

	e, err := m.GetNodeExpression(BuildContext{})
	require.NoError(t, err)
	require.Same(t, p, e)

	_, err = m.Call(t.Context(), nil, nil, nil, nil, nil)
	require.True(t, errors.Is(err, gqlerror.ExecutionFailed), "got %v", err)
}

func TestDescribe(t *testing.T) {
	f := newFixture()
	f.op.Variables["id"] = VariableDefinition{Type: schema.NonNullType(schema.NamedType("ID")), Default: 5, HasDefault: true}
	elem := expr.NewParam("p_Person", f.person)
	list := NewListSelectionField(f.op, "people", nil, f.people, elem)
	age := NewScalarField(list, "age", nil, ageCall(elem))
	age.AddServices("ages")
	list.AddField(age)
	f.op.AddField(list)
	fp := expr.NewParam("frag_Person", f.person)
	def := f.doc.AddFragment("PersonName", "Person", fp)
	def.AddField(NewScalarField(def, "name", nil, member(fp, "name")))

	s, err := Describe(f.doc)
	require.NoError(t, err)
	want := map[string]any{
		"operations": []any{map[string]any{
			"kind":      "query",
			"name":      "People",
			"variables": map[string]any{"id": map[string]any{"type": "ID!", "default": float64(5)}},
			"fields": []any{map[string]any{
				"name":       "people",
				"kind":       "ListSelection",
				"expression": "ctx.people",
				"element":    "p_Person",
				"services":   []any{"ages"},
				"fields": []any{map[string]any{
					"name":       "age",
					"kind":       "Scalar",
					"expression": "ages.age(p_Person.birthday)",
					"services":   []any{"ages"},
				}},
			}},
		}},
		"fragments": map[string]any{
			"PersonName": map[string]any{
				"typeCondition": "Person",
				"fields": []any{map[string]any{
					"name":       "name",
					"kind":       "Scalar",
					"expression": "frag_Person.name",
				}},
			},
		},
	}
	if diff := cmp.Diff(want, s.AsMap()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
