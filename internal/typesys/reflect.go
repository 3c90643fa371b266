package typesys

import (
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/pitabwire/ria/model"
)

var (
	timeType       = reflect.TypeFor[time.Time]()
	enumeratorType = reflect.TypeFor[model.Enumerator]()
)

// FromReflect returns the node for rt, building it and every type it
// references on first use. Pointers are transparent: *T and T share a node.
func (u *Universe) FromReflect(rt reflect.Type) *Type {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fromReflect(rt)
}

func (u *Universe) fromReflect(rt reflect.Type) *Type {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if t, ok := u.byReflect[rt]; ok {
		return t
	}

	t := &Type{Reflect: rt, Namespace: rt.PkgPath(), Name: rt.Name()}
	switch {
	case rt == timeType:
		t.Kind = KindPrimitive
	case rt.Implements(enumeratorType) && isInteger(rt.Kind()):
		t.Kind = KindEnum
		t.EnumValues = reflect.Zero(rt).Interface().(model.Enumerator).EnumMembers()
	case isBasic(rt.Kind()):
		t.Kind = KindPrimitive
		if t.Name == "" || t.Namespace == "" {
			t.Name, t.Namespace = rt.Kind().String(), ""
		}
	case rt.Kind() == reflect.Array && rt.Elem().Kind() == reflect.Uint8 && rt.Name() != "":
		// Fixed-size byte identifiers such as uuid.UUID.
		t.Kind = KindPrimitive
	case rt.Kind() == reflect.Slice:
		t.Kind, t.Name, t.Namespace = KindSlice, "", ""
		t.Elem = u.fromReflect(rt.Elem())
	case rt.Kind() == reflect.Array:
		t.Kind, t.Name, t.Namespace = KindArray, "", ""
		t.Elem = u.fromReflect(rt.Elem())
	case rt.Kind() == reflect.Map:
		t.Kind, t.Name, t.Namespace = KindMap, "", ""
		t.Key = u.fromReflect(rt.Key())
		t.Elem = u.fromReflect(rt.Elem())
	case rt.Kind() == reflect.Interface:
		t.Kind = KindInterface
		if t.Name == "" {
			t.Name = "any"
		}
	default:
		t.Kind = KindStruct
	}

	if base, args, ok := splitGenericName(t.Name); ok && t.Kind == KindStruct {
		t.Kind = KindGeneric
		t.Name = base
		for _, a := range args {
			t.Args = append(t.Args, u.placeholder(a))
		}
	}

	// Register before filling members so that recursive references resolve.
	if t.Kind == KindSlice || t.Kind == KindArray || t.Kind == KindMap {
		t = u.intern(t)
		u.byReflect[rt] = t
		return t
	}
	u.add(t)

	if t.Kind == KindStruct || t.Kind == KindGeneric {
		u.fillStruct(t, rt)
	}
	u.fillMethods(t, rt)
	return t
}

// placeholder resolves a type argument known only by name.
func (u *Universe) placeholder(fullName string) *Type {
	if strings.HasSuffix(fullName, "[]") {
		elem := u.placeholder(strings.TrimSuffix(fullName, "[]"))
		return u.intern(&Type{Kind: KindSlice, Elem: elem})
	}
	if t, ok := u.byName[fullName]; ok {
		return t
	}
	ns, name := splitFullName(fullName)
	kind := KindStruct
	if ns == "" {
		kind = KindPrimitive
	}
	return u.intern(&Type{Namespace: ns, Name: name, Kind: kind})
}

func (u *Universe) fillStruct(t *Type, rt reflect.Type) {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.Anonymous && isStruct(f.Type) {
			embedded := u.fromReflect(f.Type)
			if i == 0 {
				t.Base = embedded
				continue
			}
			// Later embedded structs project their fields onto t while
			// keeping their own declaring type.
			for _, p := range embedded.AllProperties() {
				if _, shadowed := t.DeclaredProperty(p.Name); shadowed {
					continue
				}
				proj := *p
				proj.Index = append([]int{i}, p.Index...)
				t.Properties = append(t.Properties, &proj)
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		tag := parseTag(f.Tag.Get("ria"))
		jsonName, skip := jsonFieldName(f)
		if skip || tag.exclude {
			continue
		}
		p := &Property{
			Name:          f.Name,
			JSONName:      jsonName,
			Type:          u.fromReflect(f.Type),
			DeclaringType: t,
			Key:           tag.key,
			Virtual:       tag.virtual,
			ReadOnly:      tag.readOnly,
			Concurrency:   tag.concurrency,
			Association:   tag.association,
			Validate:      f.Tag.Get("validate"),
			Index:         []int{i},
		}
		if t.Base != nil {
			_, p.Hides = t.Base.Property(f.Name)
		}
		t.Properties = append(t.Properties, p)
	}
}

func (u *Universe) fillMethods(t *Type, rt reflect.Type) {
	mt := reflect.PointerTo(rt)
	if rt.Kind() == reflect.Interface {
		mt = rt
	}
	for i := 0; i < mt.NumMethod(); i++ {
		m := mt.Method(i)
		file, ok := methodFile(rt, m)
		if !ok {
			continue
		}
		method := &Method{Name: m.Name, DeclaringType: t}
		ft := m.Type
		first := 1
		if rt.Kind() == reflect.Interface {
			first = 0
		}
		for j := first; j < ft.NumIn(); j++ {
			method.Params = append(method.Params, u.fromReflect(ft.In(j)))
		}
		method.SourceFile = file
		t.Methods = append(t.Methods, method)
	}
}

// methodFile returns the source file declaring m, and false when m is
// promoted from an embedded field. Promoted methods and pointer receivers
// of value methods are compiled as wrappers positioned at "<autogenerated>".
func methodFile(rt reflect.Type, m reflect.Method) (string, bool) {
	if rt.Kind() == reflect.Interface {
		return "", true
	}
	fv := m.Func
	if vm, ok := rt.MethodByName(m.Name); ok {
		fv = vm.Func
	}
	if !fv.IsValid() {
		return "", true
	}
	fn := runtime.FuncForPC(fv.Pointer())
	if fn == nil {
		return "", true
	}
	file, _ := fn.FileLine(fn.Entry())
	return file, file != "<autogenerated>"
}

func isStruct(rt reflect.Type) bool {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt.Kind() == reflect.Struct
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isBasic(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String, reflect.Float32, reflect.Float64:
		return true
	}
	return isInteger(k)
}

func jsonFieldName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		name = f.Name
	}
	return name, false
}
