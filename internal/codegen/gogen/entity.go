package gogen

import (
	"strings"

	"github.com/pitabwire/ria/internal/codegen"
	"github.com/pitabwire/ria/internal/typesys"
)

// GenerateEntity emits an entity struct, its identity and its entity
// actions.
func (l *Language) GenerateEntity(c *codegen.Context, plan *codegen.EntityPlan) {
	c.Add(ClientImport)
	c.WriteString("\n")
	comment(c, "%s is an entity of %s.", plan.Name, servicesExposing(c, plan.Type))
	c.Printf("type %s struct {\n", plan.Name)
	if plan.Base != nil {
		c.Printf("\t%s\n", c.ClientName(plan.Base))
	} else {
		c.WriteString("\tclient.Entity `json:\"-\"`\n")
	}
	for _, p := range plan.Properties {
		c.Printf("\t%s %s `%s`\n", p.Name, typeName(c, p.Type), fieldTag(p))
	}
	for _, p := range plan.Associations {
		c.Printf("\t%s %s `json:\"-\" %s`\n", p.Name, typeName(c, p.Type), associationTag(p.Association))
	}
	c.WriteString("}\n")

	if plan.GenerateIdentity {
		c.WriteString("\n")
		comment(c, "GetIdentity returns the key of the entity.")
		c.Printf("func (e *%s) GetIdentity() any {\n", plan.Name)
		if len(plan.Keys) == 1 {
			c.Printf("\treturn e.%s\n", plan.Keys[0].Name)
		} else {
			names := make([]string, len(plan.Keys))
			for i, k := range plan.Keys {
				names[i] = "e." + k.Name
			}
			c.Printf("\treturn client.CompositeKey(%s)\n", strings.Join(names, ", "))
		}
		c.WriteString("}\n")
	}

	for _, m := range plan.CustomMethods {
		params := m.Parameters[1:]
		decl := make([]string, len(params))
		args := []string{`"` + m.Name + `"`}
		for i, p := range params {
			name := paramName(p.Name)
			decl[i] = name + " " + typeName(c, p.Type)
			args = append(args, name)
		}
		c.WriteString("\n")
		comment(c, "%s queues the %s entity action for the next submit.", m.Name, m.Name)
		c.Printf("func (e *%s) %s(%s) error {\n", plan.Name, m.Name, strings.Join(decl, ", "))
		c.Printf("\treturn e.InvokeAction(%s)\n", strings.Join(args, ", "))
		c.WriteString("}\n")
	}
}

// GenerateComplexObject emits a complex type as a plain struct.
func (l *Language) GenerateComplexObject(c *codegen.Context, plan *codegen.ComplexPlan) {
	c.WriteString("\n")
	comment(c, "%s is a complex type.", plan.Name)
	c.Printf("type %s struct {\n", plan.Name)
	for _, p := range plan.Properties {
		c.Printf("\t%s %s `%s`\n", p.Name, typeName(c, p.Type), fieldTag(p))
	}
	c.WriteString("}\n")
}

func fieldTag(p *typesys.Property) string {
	tag := `json:"` + jsonName(p.JSONName, p.Name) + `"`
	var ria []string
	if p.Key {
		ria = append(ria, "key")
	}
	if p.ReadOnly {
		ria = append(ria, "readonly")
	}
	if p.Concurrency {
		ria = append(ria, "concurrency")
	}
	if len(ria) > 0 {
		tag += ` ria:"` + strings.Join(ria, ",") + `"`
	}
	return tag
}

func associationTag(a *typesys.Association) string {
	parts := []string{"association=" + a.Name}
	if len(a.ThisKey) > 0 {
		parts = append(parts, "this="+strings.Join(a.ThisKey, "|"))
	}
	if len(a.OtherKey) > 0 {
		parts = append(parts, "other="+strings.Join(a.OtherKey, "|"))
	}
	if a.IsForeignKey {
		parts = append(parts, "fk")
	}
	if a.IsComposition {
		parts = append(parts, "composition")
	}
	return `ria:"` + strings.Join(parts, ",") + `"`
}

func servicesExposing(c *codegen.Context, t *typesys.Type) string {
	var names []string
	for _, d := range c.Descriptions {
		if d.IsEntityType(t) {
			names = append(names, d.Name())
		}
	}
	return strings.Join(names, " and ")
}
