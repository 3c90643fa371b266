// Package share decides whether a server type or member is already visible
// to client code, either because it lives in a package the client
// references or because its source file is shared with the client.
package share

import (
	"slices"
	"sync"

	"github.com/pitabwire/ria/internal/typesys"
)

// builtins are visible to every client.
var builtins = map[string]bool{
	"bool": true, "string": true, "byte": true, "rune": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"uint": true, "uint8": true, "uint16": true, "uint32": true, "uint64": true,
	"float32": true, "float64": true, "any": true, "error": true, "void": true,
	"map": true, "time.Time": true, "time.Duration": true,
}

// ReferenceIndex is a name-keyed index of the public types of packages the
// client references. Lookups are structural so that types compiled
// separately from the server match by name.
type ReferenceIndex struct {
	mu    sync.RWMutex
	types map[string]*refType
}

type refType struct {
	base string
	// properties is the set of property names declared on this level only.
	properties map[string]bool
	methods    []refMethod
	ctors      [][]string
}

type refMethod struct {
	name   string
	params []string
}

// NewReferenceIndex creates an empty index.
func NewReferenceIndex() *ReferenceIndex {
	return &ReferenceIndex{types: make(map[string]*refType)}
}

// AddManifest indexes every type of a reference manifest.
func (x *ReferenceIndex) AddManifest(m *typesys.Manifest) error {
	u := typesys.NewUniverse()
	if err := u.AddManifest(m); err != nil {
		return err
	}
	x.AddNamespace(u, m.Namespace)
	return nil
}

// AddNamespace indexes the named types of namespace ns in u.
func (x *ReferenceIndex) AddNamespace(u *typesys.Universe, ns string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, t := range u.Namespace(ns) {
		rt := &refType{properties: make(map[string]bool, len(t.Properties))}
		if t.Base != nil {
			rt.base = t.Base.FullName()
		}
		for _, p := range t.Properties {
			rt.properties[p.Name] = true
		}
		for _, m := range t.Methods {
			rt.methods = append(rt.methods, refMethod{name: m.Name, params: m.ParamNames()})
		}
		for _, c := range t.Constructors {
			rt.ctors = append(rt.ctors, c.ParamNames())
		}
		x.types[t.FullName()] = rt
	}
}

// Len returns the number of indexed types.
func (x *ReferenceIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.types)
}

func (x *ReferenceIndex) lookup(name string) (*refType, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	t, ok := x.types[name]
	return t, ok
}

// HasType reports whether the named type is visible through a reference.
// Array and generic names are decomposed: "E[]" is visible when E is, and
// "G[[A],[B]]" when G, A and B all are.
func (x *ReferenceIndex) HasType(fullName string) bool {
	base, args, isArray := typesys.ParseFullName(fullName)
	if isArray {
		return x.HasType(base)
	}
	if len(args) > 0 {
		if !x.HasType(base) {
			return false
		}
		for _, a := range args {
			if !x.HasType(a) {
				return false
			}
		}
		return true
	}
	if builtins[fullName] {
		return true
	}
	_, ok := x.lookup(fullName)
	return ok
}

// HasProperty reports whether typeName or one of its indexed ancestors
// declares the property.
func (x *ReferenceIndex) HasProperty(typeName, property string) bool {
	for name := typeName; name != ""; {
		t, ok := x.lookup(name)
		if !ok {
			return false
		}
		if t.properties[property] {
			return true
		}
		name = t.base
	}
	return false
}

// HasMethod reports whether typeName or one of its indexed ancestors
// declares a method with the given name and parameter type names.
func (x *ReferenceIndex) HasMethod(typeName, method string, params []string) bool {
	for name := typeName; name != ""; {
		t, ok := x.lookup(name)
		if !ok {
			return false
		}
		for _, m := range t.methods {
			if m.name == method && slices.Equal(m.params, params) {
				return true
			}
		}
		name = t.base
	}
	return false
}

// HasConstructor reports whether typeName itself declares a constructor
// with the given parameter type names. Base types are not consulted.
func (x *ReferenceIndex) HasConstructor(typeName string, params []string) bool {
	t, ok := x.lookup(typeName)
	if !ok {
		return false
	}
	for _, c := range t.ctors {
		if slices.Equal(c, params) {
			return true
		}
	}
	return false
}
