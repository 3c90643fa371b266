package client

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// EntitySet holds the tracked entities of one type.
type EntitySet[T Identifiable] struct {
	typeName string

	mu    sync.Mutex
	items []T
	byKey map[any]T
}

// NewEntitySet creates an empty set. typeName is the server's full name of
// the entity type.
func NewEntitySet[T Identifiable](typeName string) *EntitySet[T] {
	return &EntitySet[T]{typeName: typeName, byKey: make(map[any]T)}
}

// TypeName returns the server type name of the set's entities.
func (s *EntitySet[T]) TypeName() string { return s.typeName }

// Attach starts tracking e as an unmodified entity. If an entity with the
// same identity is already tracked, that instance is returned instead; its
// values are refreshed from e unless it has pending changes.
func (s *EntitySet[T]) Attach(e T) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attachLocked(e)
}

func (s *EntitySet[T]) attachLocked(e T) (T, error) {
	key := Identity(e)
	if existing, ok := s.byKey[key]; ok && key != nil {
		if StateOf(existing) == Unmodified {
			saved := *existing.entity()
			reflect.ValueOf(existing).Elem().Set(reflect.ValueOf(e).Elem())
			*existing.entity() = saved
			if err := snapshot(existing); err != nil {
				return existing, err
			}
		}
		return existing, nil
	}
	if err := snapshot(e); err != nil {
		return e, fmt.Errorf("attach %s: %w", s.typeName, err)
	}
	e.entity().state = Unmodified
	s.items = append(s.items, e)
	if key != nil {
		s.byKey[key] = e
	}
	return e, nil
}

// Add tracks e as a new entity to insert on the next submit.
func (s *EntitySet[T]) Add(e T) error {
	ent := e.entity()
	if ent.state != Detached {
		return fmt.Errorf("%w: cannot add a %s entity", ErrInvalidState, ent.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ent.state = New
	s.items = append(s.items, e)
	return nil
}

// Remove marks e for deletion. A new entity is simply forgotten.
func (s *EntitySet[T]) Remove(e T) error {
	ent := e.entity()
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ent.state {
	case New:
		s.forgetLocked(e)
		ent.state = Detached
	case Unmodified, Modified:
		ent.state = Deleted
		ent.actions = nil
	default:
		return fmt.Errorf("%w: cannot remove a %s entity", ErrInvalidState, ent.state)
	}
	return nil
}

// Items returns the tracked entities that are not marked for deletion.
func (s *EntitySet[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.items))
	for _, e := range s.items {
		if e.entity().state != Deleted {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the tracked entity with the given identity.
func (s *EntitySet[T]) Find(key any) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byKey[key]
	return e, ok
}

// Len returns the number of tracked entities, including deleted ones.
func (s *EntitySet[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *EntitySet[T]) forgetLocked(e T) {
	s.items = slices.DeleteFunc(s.items, func(x T) bool { return Identifiable(x) == Identifiable(e) })
	if key := Identity(e); key != nil {
		if cur, ok := s.byKey[key]; ok && Identifiable(cur) == Identifiable(e) {
			delete(s.byKey, key)
		}
	}
}

// changes returns the entities with pending changes, in tracking order.
func (s *EntitySet[T]) changes() []Identifiable {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Identifiable
	for _, e := range s.items {
		if StateOf(e) != Unmodified {
			out = append(out, e)
		}
	}
	return out
}

// accept makes the submitted values the new originals and drops deleted
// entities.
func (s *EntitySet[T]) accept() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[:0]
	s.byKey = make(map[any]T, len(s.items))
	for _, e := range s.items {
		ent := e.entity()
		if ent.state == Deleted {
			ent.state = Detached
			continue
		}
		ent.state = Unmodified
		ent.actions = nil
		ent.clearErrors()
		if err := snapshot(e); err != nil {
			return err
		}
		kept = append(kept, e)
		if key := Identity(e); key != nil {
			s.byKey[key] = e
		}
	}
	s.items = kept
	return nil
}

// trackedSet is the type-erased view of an EntitySet used by DomainContext.
type trackedSet interface {
	TypeName() string
	changes() []Identifiable
	accept() error
}
