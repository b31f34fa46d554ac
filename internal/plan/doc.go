// Package plan holds the compiled form of a GraphQL request: a Document of
// operations and named fragments whose fields describe how to compute the
// response against a typed data context.
//
// # Nodes
//
// Every element of the tree is a Node stored in an arena owned by the
// Document. A node refers to its parent by NodeID, never by pointer, so
// upward lookups ("what type is my enclosing context") go through the arena.
//
// Fields come in six variants:
//
//   - ScalarField: a leaf value computed from the enclosing context.
//   - ObjectProjectionField: a single object with selected sub-fields.
//   - ListSelectionField: a list whose elements are projected through the
//     selected sub-fields.
//   - CollectionToSingleField: a single element reduced out of a list. It
//     keeps both the list-shaped and the object-shaped plan so the list can be
//     projected before it is reduced.
//   - MutationField: a call into a bound mutation, with an optional selection
//     over its result.
//   - FragmentField: a named fragment spread, resolved when expanded.
//
// Containers (operations, fragment definitions, object projections and list
// selections) evaluate their children against a context parameter of their
// own. A child's root parameter is always the context parameter of the node
// it was compiled under.
//
// # Building expressions
//
// GetNodeExpression turns a field into an expr.Expr. Containers expand their
// children, so fragment spreads are replaced by the fragment's fields and the
// fragment's context parameter is rebound to the container's.
//
// Fields that call services can be evaluated in two passes. With
// BuildContext.WithoutServiceFields set, service fields are left out and, in
// their place, Expand yields the plain members of the context they read. The
// evaluator materialises the result, binds it to a replacement parameter and
// builds the field again with ContextChanged: fields already present on the
// replacement are read from it, and the others are rebuilt by substituting
// the replacement for the sub-expression typed like their old context.
//
// A Document carries no per-evaluation state and can be evaluated by many
// goroutines at once. The only lazily computed state, the member extraction of
// service fields, is guarded by sync.Once.
package plan
