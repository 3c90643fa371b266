package codegen

import (
	"path"
	"slices"
	"strings"
	"unicode"

	"github.com/pitabwire/ria/internal/typesys"
)

// NameResolver tracks which simple type names are used in more than one
// namespace. Generated clients live in a single package, so conflicting
// names are qualified with their namespace.
type NameResolver struct {
	namespaces map[string][]string
}

// NewNameResolver creates an empty resolver.
func NewNameResolver() *NameResolver {
	return &NameResolver{namespaces: make(map[string][]string)}
}

// Register records that namespace ns declares name.
func (r *NameResolver) Register(ns, name string) {
	list := r.namespaces[name]
	if i, found := slices.BinarySearch(list, ns); !found {
		r.namespaces[name] = slices.Insert(list, i, ns)
	}
}

// RegisterType registers a named type.
func (r *NameResolver) RegisterType(t *typesys.Type) {
	r.Register(t.Namespace, t.QualifiedName())
}

// HasConflict reports whether name is declared in more than one namespace.
func (r *NameResolver) HasConflict(name string) bool {
	return len(r.namespaces[name]) > 1
}

// Namespaces returns the namespaces that declare name, sorted.
func (r *NameResolver) Namespaces(name string) []string {
	return r.namespaces[name]
}

// ClientName returns the identifier used for t in generated code. A name
// declared in several namespaces is prefixed with the last path element of
// its own namespace, for example "billing" and "Invoice" become
// "BillingInvoice".
func (r *NameResolver) ClientName(t *typesys.Type) string {
	name := strings.ReplaceAll(t.QualifiedName(), ".", "")
	if !r.HasConflict(t.QualifiedName()) || t.Namespace == "" {
		return name
	}
	return exportedIdent(path.Base(t.Namespace)) + name
}

func exportedIdent(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
