package schema

import (
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/samber/lo"

	language "github.com/hanpama/entityplan/internal/language"
)

// TypeRefFromAST converts a parsed type reference.
func TypeRefFromAST(t *language.Type) *TypeRef {
	var ref *TypeRef
	if t.Elem != nil {
		ref = ListType(TypeRefFromAST(t.Elem))
	} else {
		ref = NamedType(t.NamedType)
	}
	if t.NonNull {
		ref = NonNullType(ref)
	}
	return ref
}

// ValueFromAST converts a literal AST value to a Go value. Variables must be
// handled by the caller; they convert to nil here.
func ValueFromAST(value *language.Value) any {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case language.IntValue:
		iv, _ := strconv.Atoi(value.Raw)
		return iv
	case language.FloatValue:
		fv, _ := strconv.ParseFloat(value.Raw, 64)
		return fv
	case language.StringValue, language.BlockValue:
		return value.Raw
	case language.BooleanValue:
		return value.Raw == "true"
	case language.EnumValue:
		return value.Raw
	case language.ListValue:
		out := make([]any, len(value.Children))
		for i, c := range value.Children {
			out[i] = ValueFromAST(c.Value)
		}
		return out
	case language.ObjectValue:
		m := make(map[string]any)
		for _, f := range value.Children {
			m[f.Name] = ValueFromAST(f.Value)
		}
		return m
	default:
		return nil
	}
}

// CoerceValue coerces a value to the specified GraphQL type
func (s *Schema) CoerceValue(value any, targetType *TypeRef) (any, error) {
	// Handle Non-Null wrapper
	if IsNonNull(targetType) {
		if value == nil {
			return nil, fmt.Errorf("cannot provide null for non-null type %s", targetType)
		}
		return s.CoerceValue(value, Unwrap(targetType))
	}

	// Handle null for nullable types
	if value == nil {
		return nil, nil
	}

	if IsList(targetType) {
		return s.coerceListValue(value, targetType)
	}

	namedType := GetNamedType(targetType)
	if coerce, ok := scalarCoercers[namedType]; ok {
		if v, ok := coerce(value); ok {
			return v, nil
		}
		return nil, fmt.Errorf("%s cannot represent %v (%T)", namedType, value, value)
	}

	t, ok := s.Types[namedType]
	if !ok {
		return nil, fmt.Errorf("unknown type %s", namedType)
	}
	switch t.Kind {
	case TypeKindEnum:
		name, ok := value.(string)
		if !ok || !lo.ContainsBy(t.EnumValues, func(v *EnumValue) bool { return v.Name == name }) {
			return nil, fmt.Errorf("%v is not a value of enum %s", value, t.Name)
		}
		return name, nil
	case TypeKindInputObject:
		in, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object for %s, got %T", t.Name, value)
		}
		out := make(map[string]any, len(in))
		for k := range in {
			if !lo.ContainsBy(t.InputFields, func(a *ArgType) bool { return a.Name == k }) {
				return nil, fmt.Errorf("field %s is not defined on input %s", k, t.Name)
			}
		}
		for _, f := range t.InputFields {
			v, present := in[f.Name]
			if !present {
				if f.HasDefault {
					out[f.Name] = f.DefaultValue
				} else if f.Type.IsNonNull() {
					return nil, fmt.Errorf("field %s of input %s is required", f.Name, t.Name)
				}
				continue
			}
			cv, err := s.CoerceValue(v, f.Type)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Name, f.Name, err)
			}
			out[f.Name] = cv
		}
		return out, nil
	}
	// custom scalars pass through
	return value, nil
}

func (s *Schema) coerceListValue(value any, listType *TypeRef) (any, error) {
	innerType := Unwrap(listType)
	if slice, ok := value.([]any); ok {
		coercedSlice := make([]any, len(slice))
		for i, item := range slice {
			coercedItem, err := s.CoerceValue(item, innerType)
			if err != nil {
				return nil, err
			}
			coercedSlice[i] = coercedItem
		}
		return coercedSlice, nil
	}

	// Single value becomes a list of one
	coercedItem, err := s.CoerceValue(value, innerType)
	if err != nil {
		return nil, err
	}
	return []any{coercedItem}, nil
}

// scalarCoercers convert literal and decoded JSON values to the built-in
// scalars. Strings never coerce to numbers and numbers never to String.
var scalarCoercers = map[string]func(any) (any, bool){
	"Int":     asInt,
	"Float":   asFloat,
	"String":  asString,
	"Boolean": asBoolean,
	"ID":      asID,
}

// wholeNumber reports the integer value of v when it is an integer or a
// float without a fraction.
func wholeNumber(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if u := rv.Uint(); u <= math.MaxInt64 {
			return int64(u), true
		}
	case reflect.Float32, reflect.Float64:
		if f := rv.Float(); f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), true
		}
	}
	return 0, false
}

// asInt accepts whole numbers within the 32-bit range of GraphQL Int.
func asInt(v any) (any, bool) {
	n, ok := wholeNumber(v)
	if !ok || n < math.MinInt32 || n > math.MaxInt32 {
		return nil, false
	}
	return int(n), true
}

func asFloat(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if n, ok := wholeNumber(v); ok {
		return float64(n), true
	}
	return nil, false
}

func asString(v any) (any, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBoolean(v any) (any, bool) {
	b, ok := v.(bool)
	return b, ok
}

// asID accepts strings and whole numbers, the latter in decimal.
func asID(v any) (any, bool) {
	if s, ok := v.(string); ok {
		return s, true
	}
	if n, ok := wholeNumber(v); ok {
		return strconv.FormatInt(n, 10), true
	}
	return nil, false
}
