// Package gogen implements the Go client sub-generators. Generated code
// builds on the runtime in github.com/pitabwire/ria/client.
package gogen

import (
	"fmt"
	"go/format"
	"go/token"
	"path"
	"strings"
	"unicode"

	"github.com/pitabwire/ria/internal/codegen"
	"github.com/pitabwire/ria/internal/typesys"
)

// ClientImport is the import path of the client runtime.
const ClientImport = "github.com/pitabwire/ria/client"

// Language emits Go source. One value implements every sub-generator.
type Language struct{}

// New returns a generator wired with the Go sub-generators.
func New() *codegen.Generator {
	l := &Language{}
	return &codegen.Generator{
		Entity:        l,
		ComplexObject: l,
		DomainContext: l,
		WebContext:    l,
		Enum:          l,
		File:          l,
	}
}

// GenerateFile adds the package clause and imports and formats the result.
func (l *Language) GenerateFile(c *codegen.Context, body string) (string, error) {
	var b strings.Builder
	header := c.Options.Header
	if header == "" {
		header = "// Code generated by riagen. DO NOT EDIT.\n"
	}
	b.WriteString(header)
	b.WriteString("\npackage ")
	pkg := c.Options.Package
	if pkg == "" {
		pkg = "client"
	}
	b.WriteString(pkg)
	b.WriteString("\n")
	if len(c.Imports.List) > 0 {
		b.WriteString("\nimport (\n")
		for i, group := range groupImports(c.Imports.List) {
			if i > 0 {
				b.WriteByte('\n')
			}
			for _, im := range group {
				fmt.Fprintf(&b, "\t%q\n", im)
			}
		}
		b.WriteString(")\n")
	}
	b.WriteString(body)

	src, err := format.Source([]byte(b.String()))
	if err != nil {
		return "", fmt.Errorf("formatting generated code: %w", err)
	}
	return string(src), nil
}

// groupImports separates standard library packages from the rest.
func groupImports(list []string) [][]string {
	var std, other []string
	for _, im := range list {
		first, _, _ := strings.Cut(im, "/")
		if strings.Contains(first, ".") {
			other = append(other, im)
		} else {
			std = append(std, im)
		}
	}
	var groups [][]string
	if len(std) > 0 {
		groups = append(groups, std)
	}
	if len(other) > 0 {
		groups = append(groups, other)
	}
	return groups
}

// typeName returns the Go type expression for t in generated code.
func typeName(c *codegen.Context, t *typesys.Type) string {
	switch t.Kind {
	case typesys.KindPrimitive:
		switch {
		case t.Namespace == "":
			return t.Name
		case t.Reflect != nil && t.Reflect.PkgPath() != "time" && isBasicKind(t.Reflect.Kind().String()):
			return t.Reflect.Kind().String()
		}
		c.Add(t.Namespace)
		return path.Base(t.Namespace) + "." + t.Name
	case typesys.KindEnum:
		return c.ClientName(t)
	case typesys.KindStruct:
		if c.IsEntity(t) {
			return "*" + c.ClientName(t)
		}
		return c.ClientName(t)
	case typesys.KindSlice, typesys.KindArray:
		return "[]" + typeName(c, t.Elem)
	case typesys.KindMap:
		return "map[" + typeName(c, t.Key) + "]" + typeName(c, t.Elem)
	}
	return "any"
}

func isBasicKind(k string) bool {
	switch k {
	case "bool", "string", "int", "int8", "int16", "int32", "int64",
		"uint", "uint8", "uint16", "uint32", "uint64", "float32", "float64":
		return true
	}
	return false
}

// paramName turns an operation parameter name into a Go identifier that
// does not collide with the generated receiver or context.
func paramName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsLetter(r) || r == '_' || (i > 0 && unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	id := b.String()
	if id == "" {
		id = "arg"
	}
	runes := []rune(id)
	runes[0] = unicode.ToLower(runes[0])
	id = string(runes)
	if token.IsKeyword(id) || id == "ctx" || id == "c" || id == "e" {
		id += "Arg"
	}
	return id
}

// jsonName returns the wire name of a property.
func jsonName(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// comment writes a one-line doc comment.
func comment(c *codegen.Context, format string, args ...any) {
	c.Printf("// "+format+"\n", args...)
}
