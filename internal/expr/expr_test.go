package expr

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/entityplan/internal/gqlerror"
)

type fixture struct {
	person *Type
	root   *Type
	ctx    *Param
}

func newFixture() fixture {
	person := NewObject("Person")
	person.AddField("id", Int)
	person.AddField("name", String)
	person.AddField("birthday", String)
	root := NewObject("Query")
	root.AddField("people", ListOf(person))
	return fixture{person: person, root: root, ctx: NewParam("ctx", root)}
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func (f fixture) personByID(id Expr) *Call {
	p := NewParam("p", f.person)
	people := must(NewMember(f.ctx, "people"))
	pred := NewLambda(must(NewBinary(OpEq, must(NewMember(p, "id")), id)), p)
	where := must(NewCall(Where, people, pred))
	return must(NewCall(FirstOrDefault, where))
}

func TestString(t *testing.T) {
	f := newFixture()
	got := f.personByID(NewConstant(5, nil)).String()
	want := "ctx.people.Where(p => p.id == 5).FirstOrDefault()"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	sum := must(NewBinary(OpMul, must(NewBinary(OpAdd, NewConstant(1, nil), NewConstant(2, nil))), NewConstant(3, nil)))
	require.Equal(t, "(1 + 2) * 3", sum.String())
}

func TestTyping(t *testing.T) {
	f := newFixture()

	t.Run("member on unknown field fails", func(t *testing.T) {
		_, err := NewMember(f.ctx, "nope")
		require.Error(t, err)
	})

	t.Run("reducing call yields element type", func(t *testing.T) {
		c := f.personByID(NewConstant(5, nil))
		require.Same(t, f.person, c.Type())
		require.True(t, c.Reduces())
	})

	t.Run("select yields list of body type", func(t *testing.T) {
		p := NewParam("p", f.person)
		sel := must(NewCall(Select, must(NewMember(f.ctx, "people")), NewLambda(must(NewMember(p, "name")), p)))
		require.True(t, Same(ListOf(String), sel.Type()))
	})

	t.Run("where requires boolean predicate", func(t *testing.T) {
		p := NewParam("p", f.person)
		_, err := NewCall(Where, must(NewMember(f.ctx, "people")), NewLambda(must(NewMember(p, "name")), p))
		require.Error(t, err)
	})

	t.Run("list methods require a list", func(t *testing.T) {
		_, err := NewCall(First, NewConstant(1, nil))
		require.Error(t, err)
	})
}

func TestFindEnumerable(t *testing.T) {
	f := newFixture()
	c := f.personByID(NewConstant(5, nil))

	list, reduce, ok := FindEnumerable(c)
	require.True(t, ok)
	require.Same(t, c, reduce)
	require.Equal(t, "ctx.people.Where(p => p.id == 5)", list.String())

	_, _, ok = FindEnumerable(must(NewMember(f.ctx, "people")))
	require.False(t, ok)

	t.Run("predicates move into a Where", func(t *testing.T) {
		p := NewParam("p", f.person)
		pred := NewLambda(must(NewBinary(OpEq, must(NewMember(p, "name")), NewConstant("Bob", nil))), p)
		first := must(NewCall(First, must(NewMember(f.ctx, "people")), pred))

		list, reduce, ok := FindEnumerable(first)
		require.True(t, ok)
		require.Equal(t, `ctx.people.Where(p => p.name == "Bob")`, list.String())
		require.Equal(t, First, reduce.Method)
		require.Empty(t, reduce.Args)
	})
}

func TestReplaceByType(t *testing.T) {
	f := newFixture()
	p := NewParam("p", f.person)
	name := must(NewMember(p, "name"))

	repl := NewParam("r", f.person)
	got, err := ReplaceByType(name, f.person, repl)
	require.NoError(t, err)
	require.Equal(t, "r.name", got.String())

	t.Run("outermost match wins", func(t *testing.T) {
		single := f.personByID(NewConstant(5, nil))
		e := must(NewMember(single, "name"))
		got, err := ReplaceByType(e, f.person, repl)
		require.NoError(t, err)
		require.Equal(t, "r.name", got.String())
	})

	t.Run("lambda-bound parameters are kept", func(t *testing.T) {
		where := f.personByID(NewConstant(5, nil)).Source
		got, err := ReplaceByType(where, f.person, repl)
		require.NoError(t, err)
		require.Equal(t, "ctx.people.Where(p => p.id == 5)", got.String())
	})
}

func TestReplaceParam(t *testing.T) {
	f := newFixture()
	other := NewParam("root", f.root)
	got, err := ReplaceParam(f.personByID(NewConstant(1, nil)), f.ctx, other)
	require.NoError(t, err)
	require.Equal(t, "root.people.Where(p => p.id == 1).FirstOrDefault()", got.String())
	require.Equal(t, []*Param{other}, Params(got))
}

func ageService(f fixture, p *Param) *ServiceCall {
	return NewServiceCall("ages", "Age", Int, func(svc any, args []any) (any, error) {
		return svc.(func(string) int)(args[0].(string)), nil
	}, must(NewMember(p, "birthday")))
}

func TestServicesAndExtraction(t *testing.T) {
	f := newFixture()
	p := NewParam("p", f.person)
	age := ageService(f, p)
	e := must(NewBinary(OpAdd, age, must(NewMember(p, "id"))))

	require.Equal(t, []string{"ages"}, Services(e))
	require.Empty(t, Services(must(NewMember(p, "id"))))

	fields, ok := ExtractMembersOf(e, p)
	require.True(t, ok)
	names := make([]string, len(fields))
	for i, fl := range fields {
		names[i] = fl.Name
	}
	if diff := cmp.Diff([]string{"birthday", "id"}, names); diff != "" {
		t.Fatalf("extracted mismatch (-want +got):\n%s", diff)
	}

	t.Run("bare use of root cannot be extracted", func(t *testing.T) {
		whole := NewServiceCall("ages", "Of", Int, nil, p)
		_, ok := ExtractMembersOf(whole, p)
		require.False(t, ok)
	})
}

func TestEval(t *testing.T) {
	f := newFixture()
	type person struct {
		ID       int
		Name     string
		Birthday string
	}
	data := map[string]any{
		"people": []person{
			{ID: 1, Name: "Ann", Birthday: "1990"},
			{ID: 5, Name: "Bob", Birthday: "2000"},
		},
	}
	env := NewEnv(ServiceMap{"ages": func(s string) int { return len(s) * 10 }}).With(f.ctx, data)

	t.Run("where and first", func(t *testing.T) {
		got, err := Eval(must(NewMember(f.personByID(NewConstant(5, nil)), "name")), env)
		require.NoError(t, err)
		require.Equal(t, "Bob", got)
	})

	t.Run("missing element yields null", func(t *testing.T) {
		got, err := Eval(must(NewMember(f.personByID(NewConstant(9, nil)), "name")), env)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("string id matches numeric data", func(t *testing.T) {
		got, err := Eval(must(NewMember(f.personByID(NewConstant("1", ID)), "name")), env)
		require.NoError(t, err)
		require.Equal(t, "Ann", got)
	})

	t.Run("select projection", func(t *testing.T) {
		p := NewParam("p", f.person)
		proj := NewProjection(nil,
			ProjectionField{Name: "name", Expr: must(NewMember(p, "name"))},
			ProjectionField{Name: "age", Expr: ageService(f, p)},
		)
		sel := must(NewCall(Select, must(NewMember(f.ctx, "people")), NewLambda(proj, p)))
		got, err := Eval(sel, env)
		require.NoError(t, err)
		want := []any{
			map[string]any{"name": "Ann", "age": 40},
			map[string]any{"name": "Bob", "age": 40},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("order take count", func(t *testing.T) {
		p := NewParam("p", f.person)
		people := must(NewMember(f.ctx, "people"))
		ordered := must(NewCall(OrderByDescending, people, NewLambda(must(NewMember(p, "id")), p)))
		top := must(NewCall(Take, ordered, NewConstant(1, nil)))
		got, err := Eval(must(NewMember(must(NewCall(First, top)), "name")), env)
		require.NoError(t, err)
		require.Equal(t, "Bob", got)

		n, err := Eval(must(NewCall(Count, people)), env)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})

	t.Run("missing service", func(t *testing.T) {
		p := NewParam("p", f.person)
		_, err := Eval(ageService(f, p), NewEnv(nil).With(p, person{Birthday: "x"}))
		require.True(t, errors.Is(err, gqlerror.ServiceNotFound), "got %v", err)
	})

	t.Run("projection guard", func(t *testing.T) {
		p := NewParam("p", f.person)
		proj := NewProjection(p, ProjectionField{Name: "name", Expr: must(NewMember(p, "name"))})
		got, err := Eval(proj, NewEnv(nil).With(p, nil))
		require.NoError(t, err)
		require.Nil(t, got)
	})
}
