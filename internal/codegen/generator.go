// Package codegen generates client source code from service descriptions.
// The language-neutral pass decides what to emit and in which order; a set
// of language sub-generators decides how.
package codegen

import (
	"errors"
	"slices"
	"strings"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/share"
	"github.com/pitabwire/ria/internal/typesys"
)

// ErrGenerationFailed is returned when any error was logged during a pass.
var ErrGenerationFailed = errors.New("code generation failed")

// EntityGenerator emits one entity type.
type EntityGenerator interface {
	GenerateEntity(c *Context, plan *EntityPlan)
}

// ComplexObjectGenerator emits one complex type.
type ComplexObjectGenerator interface {
	GenerateComplexObject(c *Context, plan *ComplexPlan)
}

// DomainContextGenerator emits the client context of one service.
type DomainContextGenerator interface {
	GenerateDomainContext(c *Context, desc *catalog.Description)
}

// WebContextGenerator emits the single application context.
type WebContextGenerator interface {
	GenerateWebContext(c *Context, descs []*catalog.Description)
}

// EnumGenerator emits the referenced enum types.
type EnumGenerator interface {
	GenerateEnums(c *Context, enums []*typesys.Type)
}

// FileGenerator wraps the generated declarations into a complete source
// file. It is optional; without it the declarations are returned as is.
type FileGenerator interface {
	GenerateFile(c *Context, body string) (string, error)
}

// Generator drives one language's sub-generators.
type Generator struct {
	Entity        EntityGenerator
	ComplexObject ComplexObjectGenerator
	DomainContext DomainContextGenerator
	WebContext    WebContextGenerator
	Enum          EnumGenerator
	File          FileGenerator

	// Shares resolves which types are already visible to the client. A
	// resolver without references is used when nil.
	Shares *share.Resolver
}

// Generate produces the client source for descs. Generation continues past
// individual problems so that every diagnostic of the pass is reported; if
// any error was logged the output is discarded and ErrGenerationFailed is
// returned.
func (g *Generator) Generate(host Host, descs []*catalog.Description, opts Options) (string, error) {
	if !g.validate(host) {
		return "", ErrGenerationFailed
	}
	shares := g.Shares
	if shares == nil {
		shares = share.NewResolver()
	}

	sorted := slices.Clone(descs)
	slices.SortFunc(sorted, func(a, b *catalog.Description) int {
		return strings.Compare(a.ServiceType.FullName(), b.ServiceType.FullName())
	})
	c := newContext(host, sorted, shares, opts)

	g.registerNames(c)

	generatedEntities := make(map[*typesys.Type]bool)
	generatedComplex := make(map[*typesys.Type]bool)
	for _, d := range sorted {
		if shares.TypeShareKind(d.ServiceType).IsShared() {
			continue
		}
		g.DomainContext.GenerateDomainContext(c, d)

		for _, t := range sortedByName(d.EntityTypes()) {
			if generatedEntities[t] {
				continue
			}
			generatedEntities[t] = true
			if shares.TypeShareKind(t).IsShared() {
				c.Errorf("entity type %s is already visible to the client and cannot be shared", t.FullName())
				continue
			}
			g.Entity.GenerateEntity(c, PlanEntity(c, t))
		}
		for _, t := range sortedByName(d.ComplexTypes()) {
			if generatedComplex[t] {
				continue
			}
			generatedComplex[t] = true
			if shares.TypeShareKind(t).IsShared() {
				c.Errorf("complex type %s is already visible to the client and cannot be shared", t.FullName())
				continue
			}
			g.ComplexObject.GenerateComplexObject(c, PlanComplexObject(c, t))
		}
	}

	if opts.GenerateApplicationContext {
		g.WebContext.GenerateWebContext(c, sorted)
	}
	if enums := c.referencedEnums(); len(enums) > 0 {
		g.Enum.GenerateEnums(c, enums)
	}

	if host.HasLoggedErrors() {
		return "", ErrGenerationFailed
	}
	if g.File == nil {
		return c.Output(), nil
	}
	out, err := g.File.GenerateFile(c, c.Output())
	if err != nil {
		c.Errorf("%v", err)
		return "", ErrGenerationFailed
	}
	return out, nil
}

func (g *Generator) validate(host Host) bool {
	missing := []struct {
		ok   bool
		name string
	}{
		{g.Entity != nil, "entity"},
		{g.ComplexObject != nil, "complex object"},
		{g.DomainContext != nil, "domain context"},
		{g.WebContext != nil, "web context"},
		{g.Enum != nil, "enum"},
	}
	ok := true
	for _, m := range missing {
		if !m.ok {
			host.LogError("no " + m.name + " generator is configured")
			ok = false
		}
	}
	return ok
}

// registerNames registers every service and entity name before any code
// is emitted so that qualification decisions see the complete set.
func (g *Generator) registerNames(c *Context) {
	for _, d := range c.Descriptions {
		st := d.ServiceType
		switch {
		case st.Outer != nil:
			c.Errorf("domain service %s must not be declared inside %s", st.Name, st.Outer.FullName())
		case st.Namespace == "":
			c.Errorf("domain service %s has no namespace", st.Name)
		}
		c.Names.RegisterType(st)
		for _, t := range d.EntityTypes() {
			if t.Namespace == "" {
				c.Errorf("entity type %s has no namespace", t.Name)
			}
			c.Names.RegisterType(t)
			registerEnumNames(c, t)
		}
		for _, t := range d.ComplexTypes() {
			c.Names.RegisterType(t)
			registerEnumNames(c, t)
		}
	}
}

func registerEnumNames(c *Context, t *typesys.Type) {
	for _, p := range t.AllProperties() {
		if e := p.Type.ElementType(); e.Kind == typesys.KindEnum {
			c.Names.RegisterType(e)
		}
	}
}

func sortedByName(types []*typesys.Type) []*typesys.Type {
	out := slices.Clone(types)
	slices.SortStableFunc(out, func(a, b *typesys.Type) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

func sortEntries(entries []*catalog.Entry) {
	slices.SortFunc(entries, func(a, b *catalog.Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
}
