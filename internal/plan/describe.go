package plan

import (
	"fmt"

	"github.com/samber/lo"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/entityplan/internal/expr"
)

// Describe renders the document as a protobuf Struct: operations in order,
// fragments by name, and every field with its variant and expression.
func Describe(doc *Document) (*structpb.Struct, error) {
	ops := make([]any, len(doc.Operations))
	for i, op := range doc.Operations {
		vars := map[string]any{}
		for name, v := range op.Variables {
			d := map[string]any{"type": v.Type.String()}
			if v.HasDefault {
				d["default"] = describeValue(v.Default)
			}
			vars[name] = d
		}
		ops[i] = map[string]any{
			"kind":      string(op.Kind),
			"name":      op.Name,
			"variables": vars,
			"fields":    describeFields(op.fields),
		}
	}
	frags := map[string]any{}
	for name, f := range doc.Fragments {
		frags[name] = map[string]any{
			"typeCondition": f.TypeCondition,
			"fields":        describeFields(f.fields),
		}
	}
	return structpb.NewStruct(map[string]any{
		"operations": ops,
		"fragments":  frags,
	})
}

func describeFields(fields []Field) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		out[i] = DescribeField(f)
	}
	return out
}

// DescribeField renders one field and its children.
func DescribeField(f Field) map[string]any {
	d := map[string]any{"name": f.Name()}
	if svcs := f.Services(); len(svcs) > 0 {
		d["services"] = lo.Map(svcs, func(s string, _ int) any { return s })
	}
	switch f := f.(type) {
	case *ScalarField:
		d["kind"] = "Scalar"
		d["expression"] = f.expression.String()
	case *ObjectProjectionField:
		d["kind"] = "ObjectProjection"
		d["expression"] = f.source.String()
		d["fields"] = describeFields(f.fields)
	case *ListSelectionField:
		d["kind"] = "ListSelection"
		d["expression"] = f.source.String()
		d["element"] = f.element.Name
		d["fields"] = describeFields(f.fields)
	case *CollectionToSingleField:
		d["kind"] = "CollectionToSingle"
		d["reduce"] = string(f.reduce.Method)
		d["collection"] = DescribeField(f.collection)
		d["single"] = DescribeField(f.single)
	case *MutationField:
		d["kind"] = "Mutation"
		d["field"] = f.field.Name
		args := map[string]any{}
		for k, v := range f.arguments {
			args[k] = describeValue(v)
		}
		d["arguments"] = args
		if f.result != nil {
			d["result"] = DescribeField(f.result)
		}
	case *FragmentField:
		d["kind"] = "Fragment"
	}
	return d
}

// describeValue converts argument values to what structpb accepts.
func describeValue(v any) any {
	switch v := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		return v
	case expr.Expr:
		return v.String()
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = describeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = describeValue(e)
		}
		return out
	default:
		return fmt.Sprint(v)
	}
}
