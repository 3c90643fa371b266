// Package typesys holds an arena of type nodes describing the server's
// entity, complex, enum and service types independently of reflect. Nodes
// are built from live reflect types or from YAML reference manifests, so
// that types from a different compilation can be compared by name.
package typesys

import (
	"reflect"
	"slices"
	"strings"

	"github.com/pitabwire/ria/model"
)

// Kind classifies a type node.
type Kind int

// Type kinds.
const (
	KindPrimitive Kind = iota
	KindStruct
	KindEnum
	KindSlice
	KindArray
	KindMap
	KindGeneric
	KindInterface
)

var kindNames = [...]string{"primitive", "struct", "enum", "slice", "array", "map", "generic", "interface"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind parses a kind name as written in manifests.
func ParseKind(s string) (Kind, bool) {
	for i, n := range kindNames {
		if strings.EqualFold(n, s) {
			return Kind(i), true
		}
	}
	return KindPrimitive, false
}

// Type is one node of the arena. Pointers between nodes (Base, Elem, Args,
// Outer) always refer to nodes owned by the same Universe.
type Type struct {
	id int

	Name      string
	Namespace string
	Kind      Kind

	// Base is the embedded base type; nil for hierarchy roots.
	Base *Type
	// Elem is the element of a slice, array or map.
	Elem *Type
	// Key is the key of a map.
	Key *Type
	// Args are the arguments of a generic instantiation.
	Args []*Type
	// Outer is set for a type declared inside another type.
	Outer *Type

	Properties   []*Property
	Methods      []*Method
	Constructors []*Method
	EnumValues   []model.EnumMember

	// Reflect is the live type, if the node was built from one.
	Reflect    reflect.Type
	SourceFile string
}

// Property is a data member declared by a type.
type Property struct {
	Name          string
	JSONName      string
	Type          *Type
	DeclaringType *Type

	Key         bool
	Virtual     bool
	Hides       bool
	ReadOnly    bool
	Concurrency bool
	Association *Association
	// Validate is the go-playground/validator rule from the validate tag.
	Validate string

	// Index is the reflect field index path from the owning struct.
	Index []int
}

// Association describes a navigation property between two entities.
type Association struct {
	Name          string
	ThisKey       []string
	OtherKey      []string
	IsForeignKey  bool
	IsComposition bool
}

// Method is a method or constructor exposed by a type.
type Method struct {
	Name          string
	Params        []*Type
	DeclaringType *Type
	Constructor   bool
	SourceFile    string
}

// ID returns the node's arena index.
func (t *Type) ID() int { return t.id }

// FullName returns the structural name of the type: "ns.Name" for named
// types, "Elem[]" for slices and arrays, "ns.Name[[ns.A],[ns.B]]" for generic
// instantiations and maps.
func (t *Type) FullName() string {
	if t == nil {
		return ""
	}
	switch t.Kind {
	case KindSlice, KindArray:
		return t.Elem.FullName() + "[]"
	case KindMap:
		return "map" + argList([]*Type{t.Key, t.Elem})
	case KindGeneric:
		if len(t.Args) > 0 {
			return qualify(t.Namespace, t.QualifiedName()) + argList(t.Args)
		}
	}
	return qualify(t.Namespace, t.QualifiedName())
}

// QualifiedName is the name of a named type including its outer types but
// excluding the namespace.
func (t *Type) QualifiedName() string {
	if t.Outer != nil {
		return t.Outer.QualifiedName() + "." + t.Name
	}
	return t.Name
}

// String implements fmt.Stringer.
func (t *Type) String() string { return t.FullName() }

func qualify(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "." + name
}

func argList(args []*Type) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		b.WriteString(a.FullName())
		b.WriteByte(']')
	}
	b.WriteByte(']')
	return b.String()
}

// IsEnumerable reports whether the type is a slice or array.
func (t *Type) IsEnumerable() bool {
	return t.Kind == KindSlice || t.Kind == KindArray
}

// ElementType returns the element of an enumerable type, or t itself.
func (t *Type) ElementType() *Type {
	if t.IsEnumerable() {
		return t.Elem
	}
	return t
}

// IsSimple reports whether values of the type can serve as entity keys.
func (t *Type) IsSimple() bool {
	return t.Kind == KindPrimitive || t.Kind == KindEnum
}

// IsComplexCandidate reports whether the type is a struct that could be a
// complex type: a named struct that is not an entity.
func (t *Type) IsComplexCandidate() bool {
	return t.Kind == KindStruct && t.Name != ""
}

// BaseChain returns the type's ancestors, nearest first.
func (t *Type) BaseChain() []*Type {
	var chain []*Type
	for b := t.Base; b != nil; b = b.Base {
		chain = append(chain, b)
	}
	return chain
}

// IsAssignableTo reports whether t is other or derives from it.
func (t *Type) IsAssignableTo(other *Type) bool {
	for c := t; c != nil; c = c.Base {
		if c == other {
			return true
		}
	}
	return false
}

// DeclaredProperty returns the property declared on this type level.
func (t *Type) DeclaredProperty(name string) (*Property, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Property returns the most derived property with the given name, searching
// the base chain.
func (t *Type) Property(name string) (*Property, bool) {
	for c := t; c != nil; c = c.Base {
		if p, ok := c.DeclaredProperty(name); ok {
			return p, true
		}
	}
	return nil, false
}

// AllProperties returns the properties visible on t, base members first.
// A hiding redeclaration replaces the base member in place.
func (t *Type) AllProperties() []*Property {
	var out []*Property
	chain := append([]*Type{t}, t.BaseChain()...)
	slices.Reverse(chain)
	for _, level := range chain {
		for _, p := range level.Properties {
			if i := slices.IndexFunc(out, func(q *Property) bool { return q.Name == p.Name }); i >= 0 {
				out[i] = p
				continue
			}
			out = append(out, p)
		}
	}
	return out
}

// KeyProperties returns the visible key members of t.
func (t *Type) KeyProperties() []*Property {
	var keys []*Property
	for _, p := range t.AllProperties() {
		if p.Key {
			keys = append(keys, p)
		}
	}
	return keys
}

// ConcurrencyProperties returns the visible members participating in
// optimistic concurrency checks.
func (t *Type) ConcurrencyProperties() []*Property {
	var out []*Property
	for _, p := range t.AllProperties() {
		if p.Concurrency {
			out = append(out, p)
		}
	}
	return out
}

// Method returns the method declared on this type level with the given name
// and parameter type names.
func (t *Type) Method(name string, params ...string) (*Method, bool) {
	for _, m := range t.Methods {
		if m.Name == name && m.ParamsMatch(params) {
			return m, true
		}
	}
	return nil, false
}

// Constructor returns the constructor with the given parameter type names.
func (t *Type) Constructor(params ...string) (*Method, bool) {
	for _, m := range t.Constructors {
		if m.ParamsMatch(params) {
			return m, true
		}
	}
	return nil, false
}

// ParamNames returns the full names of the method parameters.
func (m *Method) ParamNames() []string {
	names := make([]string, len(m.Params))
	for i, p := range m.Params {
		names[i] = p.FullName()
	}
	return names
}

// ParamsMatch compares parameter type full names positionally.
func (m *Method) ParamsMatch(names []string) bool {
	return slices.Equal(m.ParamNames(), names)
}
