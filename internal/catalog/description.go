package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

// Description is the immutable description of one domain service: its
// operations and the entity and complex types they expose.
type Description struct {
	ServiceType *typesys.Type
	Attributes  []model.Attribute

	operations   []*Entry
	entityTypes  []*typesys.Type
	complexTypes []*typesys.Type
	entitySet    map[*typesys.Type]bool
	byName       map[string]*Entry
	submit       map[submitKey]*Entry
	custom       map[*typesys.Type][]*Entry
}

type submitKey struct {
	entity *typesys.Type
	op     model.DomainOperation
}

// NewDescription assembles a description from its operations. knownTypes are
// additional entity types, typically derived types never returned directly.
// Every problem found is reported, joined into one error.
func NewDescription(service *typesys.Type, attrs []model.Attribute, entries []*Entry, knownTypes ...*typesys.Type) (*Description, error) {
	if service == nil {
		return nil, errors.New("service type is required")
	}
	d := &Description{
		ServiceType: service,
		Attributes:  attrs,
		operations:  slices.Clone(entries),
		entitySet:   make(map[*typesys.Type]bool),
		byName:      make(map[string]*Entry, len(entries)),
		submit:      make(map[submitKey]*Entry),
		custom:      make(map[*typesys.Type][]*Entry),
	}
	slices.SortFunc(d.operations, func(a, b *Entry) int { return strings.Compare(a.Name, b.Name) })

	var errs []error
	for _, e := range d.operations {
		if _, dup := d.byName[e.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate operation %s", service.Name, e.Name))
			continue
		}
		d.byName[e.Name] = e
		e.setServiceAttributes(attrs)

		assoc := e.AssociatedType()
		switch e.Operation {
		case model.OperationQuery:
			if assoc.Kind == typesys.KindStruct {
				d.addEntity(assoc)
			}
		case model.OperationInsert, model.OperationUpdate, model.OperationDelete:
			if assoc == nil || assoc.Kind != typesys.KindStruct {
				errs = append(errs, fmt.Errorf("%s.%s: %s operation must take an entity as its first parameter", service.Name, e.Name, e.Operation))
				continue
			}
			d.addEntity(assoc)
			key := submitKey{assoc, e.Operation}
			if prev, dup := d.submit[key]; dup {
				errs = append(errs, fmt.Errorf("%s: %s and %s are both %s operations for %s", service.Name, prev.Name, e.Name, e.Operation, assoc.Name))
				continue
			}
			d.submit[key] = e
		case model.OperationCustom:
			if assoc == nil || assoc.Kind != typesys.KindStruct {
				errs = append(errs, fmt.Errorf("%s.%s: entity action must take an entity as its first parameter", service.Name, e.Name))
				continue
			}
			d.addEntity(assoc)
			d.custom[assoc] = append(d.custom[assoc], e)
		}
	}
	for _, t := range knownTypes {
		d.addEntity(t)
	}
	d.closeOverAssociations()

	for _, t := range d.entityTypes {
		if len(t.KeyProperties()) == 0 {
			errs = append(errs, fmt.Errorf("%s: entity %s has no key member", service.Name, t.FullName()))
		}
	}

	d.collectComplexTypes()
	typesys.SortByName(d.entityTypes)
	typesys.SortByName(d.complexTypes)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Description) addEntity(t *typesys.Type) {
	if t == nil || d.entitySet[t] {
		return
	}
	d.entitySet[t] = true
	d.entityTypes = append(d.entityTypes, t)
}

// closeOverAssociations exposes every entity reachable through association
// members.
func (d *Description) closeOverAssociations() {
	for i := 0; i < len(d.entityTypes); i++ {
		for _, p := range d.entityTypes[i].AllProperties() {
			if p.Association == nil {
				continue
			}
			if target := p.Type.ElementType(); target.Kind == typesys.KindStruct {
				d.addEntity(target)
			}
		}
	}
}

// collectComplexTypes gathers the non-entity structs reachable from entity
// members and operation signatures.
func (d *Description) collectComplexTypes() {
	seen := make(map[*typesys.Type]bool)
	var visit func(t *typesys.Type)
	visit = func(t *typesys.Type) {
		t = t.ElementType()
		if t.Kind == typesys.KindMap {
			visit(t.Elem)
			return
		}
		if !t.IsComplexCandidate() || d.entitySet[t] || seen[t] {
			return
		}
		seen[t] = true
		d.complexTypes = append(d.complexTypes, t)
		for _, p := range t.AllProperties() {
			visit(p.Type)
		}
	}
	for _, t := range d.entityTypes {
		for _, p := range t.AllProperties() {
			if p.Association == nil {
				visit(p.Type)
			}
		}
	}
	for _, e := range d.operations {
		for _, p := range e.Parameters {
			visit(p.Type)
		}
		if e.Operation == model.OperationInvoke {
			visit(e.ReturnType)
		}
	}
}

// Name returns the service's type name.
func (d *Description) Name() string { return d.ServiceType.Name }

// Operations returns the operations sorted by name.
func (d *Description) Operations() []*Entry { return d.operations }

// Operation returns the operation with the given logical name.
func (d *Description) Operation(name string) (*Entry, bool) {
	e, ok := d.byName[name]
	return e, ok
}

// EntityTypes returns the exposed entity types sorted by full name.
func (d *Description) EntityTypes() []*typesys.Type { return d.entityTypes }

// ComplexTypes returns the exposed complex types sorted by full name.
func (d *Description) ComplexTypes() []*typesys.Type { return d.complexTypes }

// IsEntityType reports whether t is exposed as an entity.
func (d *Description) IsEntityType(t *typesys.Type) bool { return d.entitySet[t] }

// EntityByName finds an exposed entity by full or simple name.
func (d *Description) EntityByName(name string) (*typesys.Type, bool) {
	for _, t := range d.entityTypes {
		if t.FullName() == name || t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// QueryMethod returns the query operation with the given name.
func (d *Description) QueryMethod(name string) (*Entry, bool) {
	e, ok := d.byName[name]
	if !ok || e.Operation != model.OperationQuery {
		return nil, false
	}
	return e, true
}

// SubmitMethod returns the insert, update or delete operation for entity,
// falling back to the nearest base type that has one.
func (d *Description) SubmitMethod(entity *typesys.Type, op model.DomainOperation) (*Entry, bool) {
	for t := entity; t != nil; t = t.Base {
		if e, ok := d.submit[submitKey{t, op}]; ok {
			return e, true
		}
	}
	return nil, false
}

// CustomMethod returns the entity action with the given name applicable to
// entity or one of its base types.
func (d *Description) CustomMethod(entity *typesys.Type, name string) (*Entry, bool) {
	for _, e := range d.CustomMethods(entity) {
		if e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// CustomMethods returns the entity actions applicable to entity, most derived
// first and sorted by name within a level.
func (d *Description) CustomMethods(entity *typesys.Type) []*Entry {
	var out []*Entry
	for t := entity; t != nil; t = t.Base {
		out = append(out, d.custom[t]...)
	}
	return out
}

// InvokeOperations returns the invoke operations sorted by name.
func (d *Description) InvokeOperations() []*Entry {
	var out []*Entry
	for _, e := range d.operations {
		if e.Operation == model.OperationInvoke {
			out = append(out, e)
		}
	}
	return out
}

// QueryOperations returns the query operations sorted by name.
func (d *Description) QueryOperations() []*Entry {
	var out []*Entry
	for _, e := range d.operations {
		if e.Operation == model.OperationQuery {
			out = append(out, e)
		}
	}
	return out
}
