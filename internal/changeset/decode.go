package changeset

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

// Decode converts wire entries into change set entries, materializing each
// entity as an instance of the exposed entity type named by the entry.
//
// The original entity of an update is kept only when it differs from the
// current values or the client flagged member changes, so that an update
// carrying only entity actions keeps HasMemberChanges false.
func Decode(desc *catalog.Description, wire []model.WireEntry) ([]*model.ChangeSetEntry, error) {
	entries := make([]*model.ChangeSetEntry, 0, len(wire))
	seen := make(map[int]bool, len(wire))

	for _, w := range wire {
		if seen[w.ID] {
			return nil, model.NewBadRequestError(fmt.Sprintf("duplicate change set entry id %d", w.ID))
		}
		seen[w.ID] = true

		t, ok := desc.EntityByName(w.TypeName)
		if !ok || t.Reflect == nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("entry %d: %q is not an entity type of %s", w.ID, w.TypeName, desc.Name()))
		}
		switch w.Operation {
		case model.OperationInsert, model.OperationUpdate, model.OperationDelete:
		default:
			return nil, model.NewBadRequestError(fmt.Sprintf("entry %d: operation %s cannot be submitted", w.ID, w.Operation))
		}

		raw := w.Entity
		if len(raw) == 0 && w.Operation == model.OperationDelete {
			raw = w.OriginalEntity
		}
		if len(raw) == 0 {
			return nil, model.NewBadRequestError(fmt.Sprintf("entry %d: entity is required", w.ID))
		}
		entity, err := decodeEntity(t, raw)
		if err != nil {
			return nil, model.NewBadRequestError(fmt.Sprintf("entry %d: %v", w.ID, err))
		}

		e := &model.ChangeSetEntry{
			ID:                   w.ID,
			Entity:               entity,
			Operation:            w.Operation,
			HasMemberChanges:     w.HasMemberChanges,
			Associations:         w.Associations,
			OriginalAssociations: w.OriginalAssociations,
		}

		if len(w.OriginalEntity) > 0 {
			original, err := decodeEntity(t, w.OriginalEntity)
			if err != nil {
				return nil, model.NewBadRequestError(fmt.Sprintf("entry %d original: %v", w.ID, err))
			}
			if w.Operation != model.OperationUpdate || w.HasMemberChanges || !reflect.DeepEqual(entity, original) {
				e.SetOriginalEntity(original)
			}
		}

		for _, wa := range w.EntityActions {
			action, err := decodeAction(desc, t, wa)
			if err != nil {
				return nil, model.NewBadRequestError(fmt.Sprintf("entry %d: %v", w.ID, err))
			}
			e.EntityActions = append(e.EntityActions, action)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func decodeEntity(t *typesys.Type, raw json.RawMessage) (any, error) {
	v := reflect.New(t.Reflect)
	if err := json.Unmarshal(raw, v.Interface()); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t.Name, err)
	}
	return v.Interface(), nil
}

func decodeAction(desc *catalog.Description, t *typesys.Type, wa model.WireEntityAction) (model.EntityActionInvocation, error) {
	m, ok := desc.CustomMethod(t, wa.Name)
	if !ok {
		return model.EntityActionInvocation{}, fmt.Errorf("%s has no entity action %q", t.Name, wa.Name)
	}
	params := m.Parameters[1:]
	if len(wa.Args) != len(params) {
		return model.EntityActionInvocation{}, fmt.Errorf("entity action %s expects %d arguments, got %d", wa.Name, len(params), len(wa.Args))
	}
	args := make([]any, len(params))
	for i, p := range params {
		v, err := decodeValue(p.Type, wa.Args[i])
		if err != nil {
			return model.EntityActionInvocation{}, fmt.Errorf("entity action %s argument %s: %w", wa.Name, p.Name, err)
		}
		args[i] = v
	}
	return model.EntityActionInvocation{Name: wa.Name, Args: args}, nil
}

// decodeValue unmarshals raw into t's Go type when it is known, and into a
// generic value otherwise.
func decodeValue(t *typesys.Type, raw json.RawMessage) (any, error) {
	if t == nil || t.Reflect == nil {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	v := reflect.New(t.Reflect)
	if err := json.Unmarshal(raw, v.Interface()); err != nil {
		return nil, err
	}
	return v.Elem().Interface(), nil
}

// Build resolves the association references of entries onto their entity
// fields and returns the resulting change set. Composed children are linked
// to the entry that owns them through ParentOperation.
func Build(desc *catalog.Description, entries []*model.ChangeSetEntry) (*model.ChangeSet, error) {
	byID := make(map[int]*model.ChangeSetEntry, len(entries))
	for _, e := range entries {
		byID[e.ID] = e
	}

	for _, e := range entries {
		t, ok := EntityType(desc, e.Entity)
		if !ok {
			return nil, model.NewBadRequestError(fmt.Sprintf("entry %d: %T is not an entity type of %s", e.ID, e.Entity, desc.Name()))
		}
		if err := resolveAssociations(t, e, e.Entity, e.Associations, byID, true); err != nil {
			return nil, err
		}
		if original := e.OriginalEntity(); original != nil {
			if err := resolveAssociations(t, e, original, e.OriginalAssociations, byID, false); err != nil {
				return nil, err
			}
		}
	}
	return model.NewChangeSet(entries), nil
}

func resolveAssociations(t *typesys.Type, e *model.ChangeSetEntry, target any, refs map[string][]int, byID map[int]*model.ChangeSetEntry, current bool) error {
	for name, ids := range refs {
		p, ok := t.Property(name)
		if !ok || p.Association == nil {
			p = associationByJSONName(t, name)
		}
		if p == nil {
			return model.NewBadRequestError(fmt.Sprintf("entry %d: %s has no association %q", e.ID, t.Name, name))
		}

		related := make([]any, 0, len(ids))
		for _, id := range ids {
			other, ok := byID[id]
			if !ok {
				return model.NewBadRequestError(fmt.Sprintf("entry %d: association %s references unknown entry %d", e.ID, name, id))
			}
			if current {
				related = append(related, other.Entity)
				if p.Association.IsComposition && other != e {
					other.ParentOperation = e
				}
				continue
			}
			if o := other.OriginalEntity(); o != nil {
				related = append(related, o)
			} else {
				related = append(related, other.Entity)
			}
		}

		field, ok := FieldOf(reflect.ValueOf(target).Elem(), t, p)
		if !ok {
			return fmt.Errorf("entry %d: association %s is not addressable", e.ID, name)
		}
		if err := setAssociation(field, related); err != nil {
			return model.NewBadRequestError(fmt.Sprintf("entry %d: association %s: %v", e.ID, name, err))
		}
	}
	return nil
}

func associationByJSONName(t *typesys.Type, name string) *typesys.Property {
	for _, p := range t.AllProperties() {
		if p.Association != nil && p.JSONName == name {
			return p
		}
	}
	return nil
}

// setAssociation stores related entities in a pointer, struct or slice field.
func setAssociation(field reflect.Value, related []any) error {
	switch field.Kind() {
	case reflect.Slice:
		s := reflect.MakeSlice(field.Type(), 0, len(related))
		for _, r := range related {
			v, err := fit(r, field.Type().Elem())
			if err != nil {
				return err
			}
			s = reflect.Append(s, v)
		}
		field.Set(s)
		return nil
	case reflect.Pointer, reflect.Struct:
		if len(related) > 1 {
			return fmt.Errorf("single-valued association references %d entries", len(related))
		}
		if len(related) == 0 {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		v, err := fit(related[0], field.Type())
		if err != nil {
			return err
		}
		field.Set(v)
		return nil
	}
	return fmt.Errorf("unsupported association field kind %s", field.Kind())
}

func fit(v any, want reflect.Type) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(want):
		return rv, nil
	case rv.Kind() == reflect.Pointer && rv.Type().Elem().AssignableTo(want):
		return rv.Elem(), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", rv.Type(), want)
}

// EntityType returns the exposed entity type of an entity instance.
func EntityType(desc *catalog.Description, entity any) (*typesys.Type, bool) {
	if entity == nil {
		return nil, false
	}
	rt := reflect.TypeOf(entity)
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	for _, t := range desc.EntityTypes() {
		if t.Reflect == rt {
			return t, true
		}
	}
	return nil, false
}

// FieldOf returns the struct field backing p within v, an instance of t.
// Inherited properties are reached through the embedded base structs.
func FieldOf(v reflect.Value, t *typesys.Type, p *typesys.Property) (reflect.Value, bool) {
	var path []int
	for c := t; c != nil; c = c.Base {
		for _, q := range c.Properties {
			if q != p {
				continue
			}
			f, err := v.FieldByIndexErr(append(path, p.Index...))
			if err != nil {
				return reflect.Value{}, false
			}
			return f, true
		}
		path = append(path, 0)
	}
	return reflect.Value{}, false
}
