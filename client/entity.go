// Package client is the runtime used by generated client code. It tracks
// loaded entities, records their changes and submits them to a service as
// one change set.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/pitabwire/ria/model"
)

// EntityState is the change tracking state of an entity.
type EntityState int

// Entity states.
const (
	Detached EntityState = iota
	Unmodified
	New
	Modified
	Deleted
)

func (s EntityState) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Unmodified:
		return "Unmodified"
	case New:
		return "New"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	}
	return "Unknown"
}

// ErrInvalidState is returned when an operation does not apply to an
// entity in its current state.
var ErrInvalidState = errors.New("invalid entity state")

// Entity carries the change tracking state of a generated entity type.
// Generated types embed it.
type Entity struct {
	state    EntityState
	original json.RawMessage
	actions  []model.WireEntityAction

	validationErrors []model.ValidationResult
	conflictMembers  []string
	deleteConflict   bool
}

func (e *Entity) entity() *Entity { return e }

// InvokeAction queues the named entity action for the next submit. Each
// action may be queued once per submit.
func (e *Entity) InvokeAction(name string, args ...any) error {
	if e.state != Unmodified && e.state != Modified {
		return fmt.Errorf("%w: cannot invoke %s on a %s entity", ErrInvalidState, name, e.state)
	}
	for _, a := range e.actions {
		if a.Name == name {
			return fmt.Errorf("%w: %s is already pending", ErrInvalidState, name)
		}
	}
	action := model.WireEntityAction{Name: name}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return fmt.Errorf("%s: argument %d: %w", name, i, err)
		}
		action.Args = append(action.Args, raw)
	}
	e.actions = append(e.actions, action)
	return nil
}

// PendingActions returns the names of the queued entity actions.
func (e *Entity) PendingActions() []string {
	names := make([]string, len(e.actions))
	for i, a := range e.actions {
		names[i] = a.Name
	}
	return names
}

// ValidationErrors returns the errors reported by the last submit.
func (e *Entity) ValidationErrors() []model.ValidationResult { return e.validationErrors }

// ConflictMembers returns the members in conflict after the last submit.
func (e *Entity) ConflictMembers() []string { return e.conflictMembers }

// IsDeleteConflict reports that the entity no longer existed on the server.
func (e *Entity) IsDeleteConflict() bool { return e.deleteConflict }

// HasError reports whether the last submit rejected the entity.
func (e *Entity) HasError() bool {
	return e.deleteConflict || len(e.conflictMembers) > 0 || len(e.validationErrors) > 0
}

func (e *Entity) clearErrors() {
	e.validationErrors = nil
	e.conflictMembers = nil
	e.deleteConflict = false
}

// Identifiable is implemented by every generated entity type through its
// embedded Entity.
type Identifiable interface {
	entity() *Entity
}

// identified is implemented by entity types with generated identity logic.
type identified interface {
	GetIdentity() any
}

// Identity returns the key of e. Types without a GetIdentity method are
// keyed by their fields tagged ria:"key".
func Identity(e Identifiable) any {
	if id, ok := e.(identified); ok {
		return id.GetIdentity()
	}
	v := reflect.Indirect(reflect.ValueOf(e))
	var keys []any
	collectKeys(v, &keys)
	switch len(keys) {
	case 0:
		return nil
	case 1:
		return keys[0]
	}
	return CompositeKey(keys...)
}

func collectKeys(v reflect.Value, keys *[]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectKeys(v.Field(i), keys)
			continue
		}
		if !f.IsExported() {
			continue
		}
		for _, opt := range strings.Split(f.Tag.Get("ria"), ",") {
			if opt == "key" {
				*keys = append(*keys, v.Field(i).Interface())
			}
		}
	}
}

// keySeparator cannot occur in a formatted key value.
const keySeparator = "\x1f"

// CompositeKey combines several key values into one comparable identity.
func CompositeKey(values ...any) any {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, keySeparator)
}

// StateOf returns the state of e, comparing its current values with the
// values last read from the server.
func StateOf(e Identifiable) EntityState {
	ent := e.entity()
	if ent.state != Unmodified {
		return ent.state
	}
	if len(ent.actions) > 0 {
		return Modified
	}
	current, err := json.Marshal(e)
	if err != nil || !bytes.Equal(current, ent.original) {
		return Modified
	}
	return Unmodified
}

// snapshot records the current values of e as its original values.
func snapshot(e Identifiable) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	e.entity().original = raw
	return nil
}
