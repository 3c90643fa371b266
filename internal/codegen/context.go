package codegen

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/ria/internal/aggregate"
	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/share"
	"github.com/pitabwire/ria/internal/typesys"
)

// Options controls a generation pass.
type Options struct {
	// Package is the name of the generated client package.
	Package string
	// GenerateApplicationContext enables the web context artifact.
	GenerateApplicationContext bool
	// ApplicationName names the web context.
	ApplicationName string
	// Header is written at the top of the generated file.
	Header string
}

// Imports is an alphabetically sorted list of package paths.
type Imports struct {
	List []string
}

// Add inserts path if not already present.
func (i *Imports) Add(path string) {
	idx := sort.SearchStrings(i.List, path)
	if idx < len(i.List) && i.List[idx] == path {
		return
	}
	i.List = append(i.List, "")
	copy(i.List[idx+1:], i.List[idx:])
	i.List[idx] = path
}

// Context is the state shared by the sub-generators of one pass.
type Context struct {
	Host         Host
	Options      Options
	Descriptions []*catalog.Description
	Shares       *share.Resolver
	Names        *NameResolver
	Imports

	out   strings.Builder
	enums map[*typesys.Type]bool
}

func newContext(host Host, descs []*catalog.Description, shares *share.Resolver, opts Options) *Context {
	return &Context{
		Host:         host,
		Options:      opts,
		Descriptions: descs,
		Shares:       shares,
		Names:        NewNameResolver(),
		enums:        make(map[*typesys.Type]bool),
	}
}

// Printf appends formatted text to the generated output.
func (c *Context) Printf(format string, args ...any) {
	fmt.Fprintf(&c.out, format, args...)
}

// WriteString appends s to the generated output.
func (c *Context) WriteString(s string) {
	c.out.WriteString(s)
}

// Output returns the text generated so far.
func (c *Context) Output() string {
	return c.out.String()
}

// Errorf logs a generation error through the host.
func (c *Context) Errorf(format string, args ...any) {
	c.Host.LogError(fmt.Sprintf(format, args...))
}

// Warnf logs a generation warning through the host.
func (c *Context) Warnf(format string, args ...any) {
	c.Host.LogWarning(fmt.Sprintf(format, args...))
}

// Aggregate returns the aggregate of the descriptions exposing entity.
func (c *Context) Aggregate(entity *typesys.Type) *aggregate.Aggregate {
	return aggregate.ForEntity(entity, c.Descriptions)
}

// ClientName returns the conflict-aware generated name of t.
func (c *Context) ClientName(t *typesys.Type) string {
	return c.Names.ClientName(t)
}

// UseEnum records an enum referenced by generated code.
func (c *Context) UseEnum(t *typesys.Type) {
	if t.Kind == typesys.KindEnum {
		c.enums[t] = true
	}
}

// IsEntity reports whether any description exposes t as an entity.
func (c *Context) IsEntity(t *typesys.Type) bool {
	for _, d := range c.Descriptions {
		if d.IsEntityType(t) {
			return true
		}
	}
	return false
}

// referencedEnums returns the recorded enums that are not shared, sorted.
func (c *Context) referencedEnums() []*typesys.Type {
	var out []*typesys.Type
	for t := range c.enums {
		if c.Shares.TypeShareKind(t).IsShared() {
			continue
		}
		out = append(out, t)
	}
	typesys.SortByName(out)
	return out
}
