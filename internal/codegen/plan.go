package codegen

import (
	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/typesys"
)

// EntityPlan is the language-neutral decision of what to emit for one
// entity type.
type EntityPlan struct {
	Type *typesys.Type
	Name string
	// Base is the nearest visible base entity, nil for a root.
	Base *typesys.Type
	// Properties are the data members declared by the generated type.
	Properties []*typesys.Property
	// Associations are navigation members redirected from Properties.
	Associations []*typesys.Property
	// Keys are the key members of the hierarchy, resolved on the root.
	Keys []*typesys.Property
	// GenerateIdentity is false when the default identity logic of the
	// client runtime applies.
	GenerateIdentity bool
	// CustomMethods are the entity actions declared for this type level
	// across every exposing description, sorted by name.
	CustomMethods []*catalog.Entry
}

// PlanEntity applies flattening, the polymorphism guard, association
// redirection, key validation and identity suppression to entity. Problems
// are logged through the host and the offending member is skipped.
func PlanEntity(c *Context, entity *typesys.Type) *EntityPlan {
	agg := c.Aggregate(entity)
	plan := &EntityPlan{
		Type: entity,
		Name: c.ClientName(entity),
		Base: agg.GetEntityBaseType(entity),
	}

	for _, p := range entity.AllProperties() {
		if !agg.ShouldGenerateProperty(entity, p) {
			continue
		}
		if ok, err := agg.CanGeneratePropertyIfPolymorphic(entity, p); !ok {
			c.Errorf("%v", err)
			continue
		}
		if p.Key && !p.Type.IsSimple() {
			c.Errorf("key member %s.%s must be a primitive type, not %s", entity.Name, p.Name, p.Type.FullName())
			continue
		}
		if p.Association != nil && !c.isSerializable(p.Type) {
			target := p.Type.ElementType()
			if !agg.IsKnownEntity(target) {
				c.Errorf("association %s.%s refers to %s, which is not an exposed entity", entity.Name, p.Name, target.FullName())
				continue
			}
			c.registerNamespace(target, agg.EntityTypes())
			plan.Associations = append(plan.Associations, p)
			continue
		}
		if !c.isSerializable(p.Type) {
			c.Warnf("property %s.%s of type %s is not serializable and was skipped", entity.Name, p.Name, p.Type.FullName())
			continue
		}
		c.useEnums(p.Type)
		plan.Properties = append(plan.Properties, p)
	}

	if plan.Base == nil {
		for _, k := range entity.KeyProperties() {
			if k.Type.IsSimple() {
				plan.Keys = append(plan.Keys, k)
			}
		}
		plan.GenerateIdentity = len(plan.Keys) > 0
		for _, k := range plan.Keys {
			if c.Shares.PropertyShareKind(entity, k.Name).IsShared() {
				plan.GenerateIdentity = false
				break
			}
		}
	}

	seen := make(map[string]*catalog.Description)
	for _, d := range agg.Descriptions() {
		for _, m := range d.CustomMethods(entity) {
			if m.AssociatedType() != entity {
				continue
			}
			if first, dup := seen[m.Name]; dup {
				c.Errorf("entity action %s for %s is declared by both %s and %s", m.Name, entity.Name, first.Name(), d.Name())
				continue
			}
			seen[m.Name] = d
			plan.CustomMethods = append(plan.CustomMethods, m)
			for _, p := range m.Parameters[1:] {
				c.useEnums(p.Type)
			}
		}
	}
	sortEntries(plan.CustomMethods)
	return plan
}

// ComplexPlan is the decision of what to emit for one complex type.
type ComplexPlan struct {
	Type       *typesys.Type
	Name       string
	Properties []*typesys.Property
}

// PlanComplexObject selects the serializable members of a complex type.
func PlanComplexObject(c *Context, t *typesys.Type) *ComplexPlan {
	plan := &ComplexPlan{Type: t, Name: c.ClientName(t)}
	for _, p := range t.AllProperties() {
		if c.IsEntity(p.Type.ElementType()) {
			c.Errorf("complex type %s cannot contain entity member %s", t.Name, p.Name)
			continue
		}
		if !c.isSerializable(p.Type) {
			c.Warnf("property %s.%s of type %s is not serializable and was skipped", t.Name, p.Name, p.Type.FullName())
			continue
		}
		c.useEnums(p.Type)
		plan.Properties = append(plan.Properties, p)
	}
	return plan
}

// registerNamespace registers target and every other known entity sharing
// its namespace, so that qualification decisions see all of them.
func (c *Context) registerNamespace(target *typesys.Type, known []*typesys.Type) {
	c.Names.RegisterType(target)
	for _, t := range known {
		if t.Namespace == target.Namespace {
			c.Names.RegisterType(t)
		}
	}
}

func (c *Context) useEnums(t *typesys.Type) {
	switch t.Kind {
	case typesys.KindEnum:
		c.UseEnum(t)
	case typesys.KindSlice, typesys.KindArray:
		c.useEnums(t.Elem)
	case typesys.KindMap:
		c.useEnums(t.Key)
		c.useEnums(t.Elem)
	}
}

// isSerializable reports whether values of t travel as data members:
// primitives, enums, complex types and collections of those. Entities and
// interfaces do not.
func (c *Context) isSerializable(t *typesys.Type) bool {
	switch t.Kind {
	case typesys.KindPrimitive, typesys.KindEnum:
		return true
	case typesys.KindSlice, typesys.KindArray:
		return c.isSerializable(t.Elem)
	case typesys.KindMap:
		return t.Key.IsSimple() && c.isSerializable(t.Elem)
	case typesys.KindStruct:
		return t.Name != "" && !c.IsEntity(t)
	}
	return false
}
