package gogen

import (
	"strings"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/codegen"
	"github.com/pitabwire/ria/internal/typesys"
)

// GenerateDomainContext emits the client context of one service: an entity
// set per entity type, one method per query and one per invoke operation.
func (l *Language) GenerateDomainContext(c *codegen.Context, desc *catalog.Description) {
	c.Add(ClientImport)
	name := contextName(c, desc)

	c.WriteString("\n")
	comment(c, "%s is the client context of %s.", name, desc.Name())
	c.Printf("type %s struct {\n", name)
	c.WriteString("\t*client.DomainContext\n")
	for _, t := range desc.EntityTypes() {
		c.Printf("\t%sSet *client.EntitySet[*%s]\n", c.ClientName(t), c.ClientName(t))
	}
	c.WriteString("}\n\n")

	comment(c, "New%s creates a %s sending requests through transport.", name, name)
	c.Printf("func New%s(transport client.Transport) *%s {\n", name, name)
	c.Printf("\tdc := client.NewDomainContext(%q, transport)\n", desc.Name())
	c.Printf("\treturn &%s{\n", name)
	c.WriteString("\t\tDomainContext: dc,\n")
	for _, t := range desc.EntityTypes() {
		cn := c.ClientName(t)
		c.Printf("\t\t%sSet: client.Register(dc, client.NewEntitySet[*%s](%q)),\n", cn, cn, t.FullName())
	}
	c.WriteString("\t}\n}\n")

	for _, e := range desc.QueryOperations() {
		elem := e.AssociatedType()
		if !desc.IsEntityType(elem) {
			c.Warnf("query %s.%s does not return entities and was skipped", desc.Name(), e.Name)
			continue
		}
		decl, params := signature(c, e.Parameters)
		cn := c.ClientName(elem)
		c.WriteString("\n")
		if e.IsSingleton() {
			comment(c, "%s loads a single %s.", e.Name, cn)
			c.Printf("func (c *%s) %s(%s) (*%s, error) {\n", name, e.Name, decl, cn)
			c.Printf("\treturn client.LoadSingle(ctx, c.DomainContext, c.%sSet, %q, %s)\n", cn, e.Name, params)
		} else {
			comment(c, "%s loads %s entities and the total count reported by the server.", e.Name, cn)
			c.Printf("func (c *%s) %s(%s) ([]*%s, int, error) {\n", name, e.Name, decl, cn)
			c.Printf("\treturn client.Load(ctx, c.DomainContext, c.%sSet, %q, %s)\n", cn, e.Name, params)
		}
		c.WriteString("}\n")
	}

	for _, e := range desc.InvokeOperations() {
		decl, params := signature(c, e.Parameters)
		c.WriteString("\n")
		comment(c, "%s invokes the %s operation.", e.Name, e.Name)
		if isVoid(e.ReturnType) {
			c.Printf("func (c *%s) %s(%s) error {\n", name, e.Name, decl)
			c.Printf("\treturn client.InvokeVoid(ctx, c.DomainContext, %q, %s)\n", e.Name, params)
		} else {
			rt := typeName(c, e.ReturnType)
			c.Printf("func (c *%s) %s(%s) (%s, error) {\n", name, e.Name, decl, rt)
			c.Printf("\treturn client.Invoke[%s](ctx, c.DomainContext, %q, %s)\n", rt, e.Name, params)
		}
		c.WriteString("}\n")
	}
}

// GenerateWebContext emits the application context holding every
// generated domain context.
func (l *Language) GenerateWebContext(c *codegen.Context, descs []*catalog.Description) {
	c.Add(ClientImport)
	app := c.Options.ApplicationName
	if app == "" {
		app = "Application"
	}
	var included []*catalog.Description
	for _, d := range descs {
		if !c.Shares.TypeShareKind(d.ServiceType).IsShared() {
			included = append(included, d)
		}
	}

	c.WriteString("\n")
	comment(c, "WebContext is the application context of %s.", app)
	c.WriteString("type WebContext struct {\n\t*client.WebContext\n")
	for _, d := range included {
		c.Printf("\t%s *%s\n", c.ClientName(d.ServiceType), contextName(c, d))
	}
	c.WriteString("}\n\n")

	comment(c, "NewWebContext creates the application context and its domain contexts.")
	c.WriteString("func NewWebContext(transport client.Transport) *WebContext {\n")
	c.Printf("\tw := &WebContext{WebContext: client.NewWebContext(%q, transport)}\n", app)
	for _, d := range included {
		field := c.ClientName(d.ServiceType)
		c.Printf("\tw.%s = New%s(transport)\n", field, contextName(c, d))
		c.Printf("\tw.Register(w.%s.DomainContext)\n", field)
	}
	c.WriteString("\treturn w\n}\n")
}

// GenerateEnums emits each enum as a named integer with its constants.
func (l *Language) GenerateEnums(c *codegen.Context, enums []*typesys.Type) {
	for _, t := range enums {
		name := c.ClientName(t)
		c.WriteString("\n")
		comment(c, "%s enumerates %s values.", name, t.Name)
		c.Printf("type %s int64\n\n", name)
		if len(t.EnumValues) == 0 {
			continue
		}
		c.WriteString("const (\n")
		for _, v := range t.EnumValues {
			c.Printf("\t%s%s %s = %d\n", name, v.Name, name, v.Value)
		}
		c.WriteString(")\n")
	}
}

func contextName(c *codegen.Context, d *catalog.Description) string {
	return c.ClientName(d.ServiceType) + "Context"
}

// signature returns the parameter declaration list, starting with ctx, and
// the argument map expression of an operation.
func signature(c *codegen.Context, params []catalog.Parameter) (decl, args string) {
	c.Add("context")
	parts := []string{"ctx context.Context"}
	if len(params) == 0 {
		return parts[0], "nil"
	}
	entries := make([]string, len(params))
	for i, p := range params {
		id := paramName(p.Name)
		parts = append(parts, id+" "+typeName(c, p.Type))
		entries[i] = strings.Join([]string{`"` + p.Name + `"`, id}, ": ")
	}
	return strings.Join(parts, ", "), "map[string]any{" + strings.Join(entries, ", ") + "}"
}

func isVoid(t *typesys.Type) bool {
	return t.Kind == typesys.KindPrimitive && t.Namespace == "" && t.Name == "void"
}
