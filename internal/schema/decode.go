package schema

import (
	"fmt"
	"reflect"
	"strings"
)

const tagName = "gql"

type structFieldInfo struct {
	index int
	name  string
}

// argsStruct describes a Go struct populated from request arguments. Field
// names come from the gql tag, or from the schema namer applied to the Go
// field name.
type argsStruct struct {
	typ    reflect.Type
	fields []structFieldInfo
}

func isArgsStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if _, ok := t.Field(i).Tag.Lookup(tagName); ok {
			return true
		}
	}
	return false
}

func newArgsStruct(t reflect.Type, namer Namer) *argsStruct {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	as := &argsStruct{typ: t}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue
		}
		name := strings.Split(field.Tag.Get(tagName), ",")[0]
		if name == "-" {
			continue
		}
		if name == "" {
			name = namer(field.Name)
		}
		as.fields = append(as.fields, structFieldInfo{index: i, name: name})
	}
	return as
}

func (as *argsStruct) field(name string) (structFieldInfo, bool) {
	for _, f := range as.fields {
		if f.name == name {
			return f, true
		}
	}
	return structFieldInfo{}, false
}

// decode fills a new instance from in and returns a pointer to it.
func (as *argsStruct) decode(in map[string]any, namer Namer) (reflect.Value, error) {
	out := reflect.New(as.typ)
	for name, value := range in {
		fi, ok := as.field(name)
		if !ok {
			return reflect.Value{}, fmt.Errorf("field %s not found for struct %s", name, as.typ)
		}
		if err := assign(out.Elem().Field(fi.index), value, namer); err != nil {
			return reflect.Value{}, fmt.Errorf("field %s: %w", name, err)
		}
	}
	return out, nil
}

// Decode stores the values of in into the struct out points to. Keys are
// matched the way argument struct fields are: gql tag, then namer.
func Decode(in map[string]any, out any, namer Namer) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a pointer to a struct, got %T", out)
	}
	as := newArgsStruct(rv.Type(), namer)
	for name, value := range in {
		fi, ok := as.field(name)
		if !ok {
			return fmt.Errorf("field %s not found for struct %s", name, as.typ)
		}
		if err := assign(rv.Elem().Field(fi.index), value, namer); err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
	}
	return nil
}

// assign stores v into out, converting between compatible kinds.
func assign(out reflect.Value, v any, namer Namer) error {
	if v == nil {
		out.Set(reflect.Zero(out.Type()))
		return nil
	}
	in := reflect.ValueOf(v)
	if in.Type().AssignableTo(out.Type()) {
		out.Set(in)
		return nil
	}
	switch out.Kind() {
	case reflect.Pointer:
		if out.IsNil() {
			out.Set(reflect.New(out.Type().Elem()))
		}
		return assign(out.Elem(), v, namer)
	case reflect.String:
		if in.Kind() != reflect.String {
			return fmt.Errorf("cannot use %T as %s", v, out.Type())
		}
		out.SetString(in.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		switch {
		case in.CanInt():
			out.SetInt(in.Int())
		case in.CanUint():
			out.SetInt(int64(in.Uint()))
		case in.CanFloat() && in.Float() == float64(int64(in.Float())):
			out.SetInt(int64(in.Float()))
		default:
			return fmt.Errorf("cannot use %v (%T) as %s", v, v, out.Type())
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		switch {
		case in.CanInt() && in.Int() >= 0:
			out.SetUint(uint64(in.Int()))
		case in.CanUint():
			out.SetUint(in.Uint())
		default:
			return fmt.Errorf("cannot use %v (%T) as %s", v, v, out.Type())
		}
	case reflect.Float32, reflect.Float64:
		switch {
		case in.CanFloat():
			out.SetFloat(in.Float())
		case in.CanInt():
			out.SetFloat(float64(in.Int()))
		default:
			return fmt.Errorf("cannot use %v (%T) as %s", v, v, out.Type())
		}
	case reflect.Bool:
		if in.Kind() != reflect.Bool {
			return fmt.Errorf("cannot use %T as bool", v)
		}
		out.SetBool(in.Bool())
	case reflect.Slice:
		if in.Kind() != reflect.Slice && in.Kind() != reflect.Array {
			return fmt.Errorf("cannot use %T as %s", v, out.Type())
		}
		outS := reflect.MakeSlice(out.Type(), in.Len(), in.Len())
		for i := 0; i < in.Len(); i++ {
			if err := assign(outS.Index(i), in.Index(i).Interface(), namer); err != nil {
				return err
			}
		}
		out.Set(outS)
	case reflect.Struct:
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot use %T as %s", v, out.Type())
		}
		decoded, err := newArgsStruct(out.Type(), namer).decode(m, namer)
		if err != nil {
			return err
		}
		out.Set(decoded.Elem())
	default:
		if in.Type().ConvertibleTo(out.Type()) {
			out.Set(in.Convert(out.Type()))
			return nil
		}
		return fmt.Errorf("unknown kind %s", out.Kind())
	}
	return nil
}
