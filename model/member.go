package model

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// CodeMemberShareKind describes whether a code member is already visible to
// the client and therefore must not be generated again.
type CodeMemberShareKind int

// Share kinds. Shared is the union of both sharing mechanisms.
const (
	NotShared         CodeMemberShareKind = 0
	SharedBySource    CodeMemberShareKind = 1 << 0
	SharedByReference CodeMemberShareKind = 1 << 1
	Shared                                = SharedBySource | SharedByReference
)

// IsShared reports whether any sharing mechanism applies.
func (k CodeMemberShareKind) IsShared() bool {
	return k&Shared != 0
}

// String returns a readable form such as "SharedBySource|SharedByReference".
func (k CodeMemberShareKind) String() string {
	if k == NotShared {
		return "NotShared"
	}
	var parts []string
	if k&SharedBySource != 0 {
		parts = append(parts, "SharedBySource")
	}
	if k&SharedByReference != 0 {
		parts = append(parts, "SharedByReference")
	}
	return strings.Join(parts, "|")
}

// CodeMemberKind discriminates the member a CodeMemberKey identifies.
type CodeMemberKind int

// Member kinds.
const (
	MemberType CodeMemberKind = iota
	MemberProperty
	MemberMethod
	MemberConstructor
)

func (k CodeMemberKind) String() string {
	switch k {
	case MemberType:
		return "type"
	case MemberProperty:
		return "property"
	case MemberMethod:
		return "method"
	case MemberConstructor:
		return "constructor"
	}
	return "unknown"
}

// paramSeparator cannot occur in a type name.
const paramSeparator = "\x1f"

// CodeMemberKey identifies a type, property or method purely by name so
// that members from different compilations compare equal. Keys are
// comparable and may be used directly as map keys.
type CodeMemberKey struct {
	Kind       CodeMemberKind
	TypeName   string
	MemberName string
	params     string
}

// TypeKey returns the key of a type.
func TypeKey(typeName string) CodeMemberKey {
	return CodeMemberKey{Kind: MemberType, TypeName: typeName}
}

// PropertyKey returns the key of a property declared on or inherited by
// typeName.
func PropertyKey(typeName, propertyName string) CodeMemberKey {
	return CodeMemberKey{Kind: MemberProperty, TypeName: typeName, MemberName: propertyName}
}

// MethodKey returns the key of a method with the given parameter type names.
func MethodKey(typeName, methodName string, parameterTypeNames ...string) CodeMemberKey {
	return CodeMemberKey{
		Kind:       MemberMethod,
		TypeName:   typeName,
		MemberName: methodName,
		params:     strings.Join(parameterTypeNames, paramSeparator),
	}
}

// ConstructorKey returns the key of a constructor of typeName. It never
// equals the key of a method, even one named after the type.
func ConstructorKey(typeName string, parameterTypeNames ...string) CodeMemberKey {
	return CodeMemberKey{
		Kind:     MemberConstructor,
		TypeName: typeName,
		params:   strings.Join(parameterTypeNames, paramSeparator),
	}
}

// ParameterTypeNames returns the method parameter type names.
func (k CodeMemberKey) ParameterTypeNames() []string {
	if k.params == "" {
		return nil
	}
	return strings.Split(k.params, paramSeparator)
}

// Equal reports structural equality.
func (k CodeMemberKey) Equal(other CodeMemberKey) bool {
	return k == other
}

// Hash returns a stable 64-bit hash of the key's structure.
func (k CodeMemberKey) Hash() uint64 {
	d := xxhash.New()
	d.WriteString(k.Kind.String())
	d.WriteString(paramSeparator)
	d.WriteString(k.TypeName)
	d.WriteString(paramSeparator)
	d.WriteString(k.MemberName)
	d.WriteString(paramSeparator)
	d.WriteString(k.params)
	return d.Sum64()
}

// String renders the key, for example "method:shop.Product.Rename(string)"
// or "constructor:shop.Product(string)".
func (k CodeMemberKey) String() string {
	var b strings.Builder
	b.WriteString(k.Kind.String())
	b.WriteByte(':')
	b.WriteString(k.TypeName)
	if k.MemberName != "" {
		b.WriteByte('.')
		b.WriteString(k.MemberName)
	}
	if k.Kind == MemberMethod || k.Kind == MemberConstructor {
		b.WriteByte('(')
		b.WriteString(strings.ReplaceAll(k.params, paramSeparator, ","))
		b.WriteByte(')')
	}
	return b.String()
}
