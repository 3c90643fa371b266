// Package aggregate merges the entity and complex types of several service
// descriptions for client generation. It decides which base types are
// visible to clients and which inherited properties are lifted onto a
// generated entity because their declaring type stays hidden.
package aggregate

import (
	"fmt"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/typesys"
)

// Aggregate is the union of several descriptions. It is built per
// generation pass and not mutated afterwards.
type Aggregate struct {
	descriptions []*catalog.Description
	entityTypes  []*typesys.Type
	complexTypes []*typesys.Type
	entitySet    map[*typesys.Type]int
	complexSet   map[*typesys.Type]bool
}

// New aggregates the given descriptions.
func New(descs ...*catalog.Description) *Aggregate {
	a := &Aggregate{
		descriptions: descs,
		entitySet:    make(map[*typesys.Type]int),
		complexSet:   make(map[*typesys.Type]bool),
	}
	for _, d := range descs {
		for _, t := range d.EntityTypes() {
			if a.entitySet[t] == 0 {
				a.entityTypes = append(a.entityTypes, t)
			}
			a.entitySet[t]++
		}
	}
	for _, d := range descs {
		for _, t := range d.ComplexTypes() {
			if !a.complexSet[t] && a.entitySet[t] == 0 {
				a.complexSet[t] = true
				a.complexTypes = append(a.complexTypes, t)
			}
		}
	}
	typesys.SortByName(a.entityTypes)
	typesys.SortByName(a.complexTypes)
	return a
}

// ForEntity aggregates only the descriptions that expose entity.
func ForEntity(entity *typesys.Type, descs []*catalog.Description) *Aggregate {
	var exposing []*catalog.Description
	for _, d := range descs {
		if d.IsEntityType(entity) {
			exposing = append(exposing, d)
		}
	}
	return New(exposing...)
}

// Descriptions returns the aggregated descriptions.
func (a *Aggregate) Descriptions() []*catalog.Description { return a.descriptions }

// EntityTypes returns the distinct entity types, sorted by full name.
func (a *Aggregate) EntityTypes() []*typesys.Type { return a.entityTypes }

// ComplexTypes returns the distinct complex types, sorted by full name.
func (a *Aggregate) ComplexTypes() []*typesys.Type { return a.complexTypes }

// IsKnownEntity reports whether any description exposes t as an entity.
func (a *Aggregate) IsKnownEntity(t *typesys.Type) bool { return a.entitySet[t] > 0 }

// IsComplexType reports whether t is a complex type of any description.
func (a *Aggregate) IsComplexType(t *typesys.Type) bool { return a.complexSet[t] }

// IsShared reports whether more than one description exposes entity.
func (a *Aggregate) IsShared(entity *typesys.Type) bool { return a.entitySet[entity] > 1 }

// GetEntityBaseType returns the nearest ancestor of t that is a known
// entity, or nil when t is a root as far as generation is concerned.
func (a *Aggregate) GetEntityBaseType(t *typesys.Type) *typesys.Type {
	for b := t.Base; b != nil; b = b.Base {
		if a.IsKnownEntity(b) {
			return b
		}
	}
	return nil
}

// GetRootEntityType returns the least derived known entity among t and its
// ancestors, or nil if none is known.
func (a *Aggregate) GetRootEntityType(t *typesys.Type) *typesys.Type {
	var root *typesys.Type
	for c := t; c != nil; c = c.Base {
		if a.IsKnownEntity(c) {
			root = c
		}
	}
	return root
}

// ShouldFlattenProperty reports whether a property inherited by entity must
// be lifted onto entity's generated class because it is declared by a
// hidden ancestor. The walk starts at entity's base and stops at the first
// known entity (that type owns it) or the declaring type (lift).
// Properties declared on entity itself or outside its hierarchy are not
// flattened; they are generated directly.
func (a *Aggregate) ShouldFlattenProperty(entity *typesys.Type, p *typesys.Property) bool {
	declaring := p.DeclaringType
	if declaring == entity || !entity.IsAssignableTo(declaring) {
		return false
	}
	for b := entity.Base; b != nil; b = b.Base {
		if a.IsKnownEntity(b) {
			return false
		}
		if b == declaring {
			return true
		}
	}
	return false
}

// ShouldGenerateProperty reports whether the generated class for entity
// declares p: its own properties, projections from outside its hierarchy,
// and properties flattened from hidden ancestors.
func (a *Aggregate) ShouldGenerateProperty(entity *typesys.Type, p *typesys.Property) bool {
	declaring := p.DeclaringType
	if declaring == entity || !entity.IsAssignableTo(declaring) {
		return true
	}
	return a.ShouldFlattenProperty(entity, p)
}

// GeneratedProperties returns the properties declared by entity's generated
// class, in declaration order with hidden ancestors' members first.
func (a *Aggregate) GeneratedProperties(entity *typesys.Type) []*typesys.Property {
	var out []*typesys.Property
	for _, p := range entity.AllProperties() {
		if a.ShouldGenerateProperty(entity, p) {
			out = append(out, p)
		}
	}
	return out
}

// CanGeneratePropertyIfPolymorphic reports whether a virtual or hiding
// property may be generated on entity. It may not when a visible base type
// also exposes a property of the same name, since the override would cross
// the generation boundary. The returned error describes the rejection.
func (a *Aggregate) CanGeneratePropertyIfPolymorphic(entity *typesys.Type, p *typesys.Property) (bool, error) {
	if !p.Virtual && !p.Hides {
		return true, nil
	}
	for b := a.GetEntityBaseType(entity); b != nil; b = a.GetEntityBaseType(b) {
		if _, ok := b.Property(p.Name); ok {
			return false, fmt.Errorf(
				"property %s.%s overrides or hides a member of visible base type %s and cannot be generated",
				entity.Name, p.Name, b.Name)
		}
	}
	return true, nil
}
