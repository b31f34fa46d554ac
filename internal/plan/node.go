package plan

import (
	"github.com/samber/lo"

	"github.com/hanpama/entityplan/internal/expr"
	"github.com/hanpama/entityplan/internal/schema"
)

// NodeID addresses a node in its Document.
type NodeID int

// NoNode is the parent of top-level nodes.
const NoNode NodeID = -1

// Node is an element of the plan tree.
type Node interface {
	ID() NodeID
	// NextContext is what children of the node are evaluated against.
	NextContext() expr.Expr
	// RootParameter is the context parameter the node closes over.
	RootParameter() *expr.Param
	self() *node
}

// Container is a node that owns an ordered list of fields.
type Container interface {
	Node
	Fields() []Field
	AddField(f Field)
}

type arena struct {
	nodes []Node
}

func (a *arena) add(n Node) NodeID {
	a.nodes = append(a.nodes, n)
	return NodeID(len(a.nodes) - 1)
}

func (a *arena) get(id NodeID) Node {
	if id < 0 || int(id) >= len(a.nodes) {
		return nil
	}
	return a.nodes[id]
}

type node struct {
	id    NodeID
	arena *arena
}

func (n *node) ID() NodeID  { return n.id }
func (n *node) self() *node { return n }

func register(a *arena, n Node) {
	nd := n.self()
	nd.arena = a
	nd.id = a.add(n)
}

// Fragments maps fragment names to their definitions.
type Fragments map[string]*FragmentDefinition

// Document is the result of compiling one request document.
type Document struct {
	Operations []*Operation
	Fragments  Fragments
	Namer      schema.Namer

	arena *arena
}

func NewDocument(namer schema.Namer) *Document {
	if namer == nil {
		namer = schema.CamelNamer
	}
	return &Document{Fragments: Fragments{}, Namer: namer, arena: &arena{}}
}

// Node returns the node with the given id, or nil.
func (d *Document) Node(id NodeID) Node { return d.arena.get(id) }

// Len is the number of nodes in the document.
func (d *Document) Len() int { return len(d.arena.nodes) }

// Operation finds an operation by name. An empty name selects the only
// operation of the document.
func (d *Document) Operation(name string) (*Operation, bool) {
	if name == "" && len(d.Operations) == 1 {
		return d.Operations[0], true
	}
	return lo.Find(d.Operations, func(op *Operation) bool { return op.Name == name })
}

// ConstantParameters collects the constant parameters of every operation and
// fragment, which an evaluator binds before building any expression.
func (d *Document) ConstantParameters() map[*expr.Param]any {
	out := map[*expr.Param]any{}
	for _, op := range d.Operations {
		mergeConstants(out, op.constants)
	}
	for _, f := range d.Fragments {
		mergeConstants(out, f.constants)
	}
	return out
}

type OperationKind string

const (
	Query    OperationKind = "query"
	Mutation OperationKind = "mutation"
)

// VariableDefinition is a variable declared by an operation.
type VariableDefinition struct {
	Type       *schema.TypeRef
	Default    any
	HasDefault bool
}

// Operation is one query or mutation of a Document. Its context parameter is
// never evaluated for mutations: it only identifies the mutation type.
type Operation struct {
	node
	Kind      OperationKind
	Name      string
	Variables map[string]VariableDefinition
	// VariableParam is bound to the request variables at evaluation time.
	VariableParam *expr.Param

	ctx       *expr.Param
	fields    []Field
	constants map[*expr.Param]any
	services  []string
}

func (d *Document) AddOperation(kind OperationKind, name string, ctx *expr.Param, vars map[string]VariableDefinition, varParam *expr.Param) *Operation {
	op := &Operation{Kind: kind, Name: name, Variables: vars, VariableParam: varParam, ctx: ctx, constants: map[*expr.Param]any{}}
	register(d.arena, op)
	d.Operations = append(d.Operations, op)
	return op
}

func (o *Operation) NextContext() expr.Expr     { return o.ctx }
func (o *Operation) RootParameter() *expr.Param { return o.ctx }
func (o *Operation) Fields() []Field            { return o.fields }

// Services lists the services required by the operation's fields.
func (o *Operation) Services() []string { return o.services }

func (o *Operation) AddField(f Field) {
	o.fields = append(o.fields, f)
	mergeConstants(o.constants, f.ConstantParameters())
	o.services = mergeServices(o.services, f.Services())
}

// FragmentDefinition is a named set of fields compiled against its own
// context parameter.
type FragmentDefinition struct {
	node
	Name          string
	TypeCondition string

	ctx       *expr.Param
	fields    []Field
	constants map[*expr.Param]any
	services  []string
}

func (d *Document) AddFragment(name, typeCondition string, ctx *expr.Param) *FragmentDefinition {
	f := &FragmentDefinition{Name: name, TypeCondition: typeCondition, ctx: ctx, constants: map[*expr.Param]any{}}
	register(d.arena, f)
	d.Fragments[name] = f
	return f
}

func (f *FragmentDefinition) NextContext() expr.Expr     { return f.ctx }
func (f *FragmentDefinition) RootParameter() *expr.Param { return f.ctx }
func (f *FragmentDefinition) Fields() []Field            { return f.fields }
func (f *FragmentDefinition) Services() []string         { return f.services }

func (f *FragmentDefinition) AddField(field Field) {
	f.fields = append(f.fields, field)
	mergeConstants(f.constants, field.ConstantParameters())
	f.services = mergeServices(f.services, field.Services())
}

func mergeConstants(dst, src map[*expr.Param]any) {
	for p, v := range src {
		dst[p] = v
	}
}

func mergeServices(dst, src []string) []string {
	for _, s := range src {
		if !lo.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
