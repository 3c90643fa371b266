package typesys

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
)

// Universe owns every type node of one generation or hosting session.
type Universe struct {
	mu        sync.Mutex
	types     []*Type
	byName    map[string]*Type
	byReflect map[reflect.Type]*Type
}

// NewUniverse creates an empty universe.
func NewUniverse() *Universe {
	return &Universe{
		byName:    make(map[string]*Type),
		byReflect: make(map[reflect.Type]*Type),
	}
}

// Lookup returns the type with the given structural full name.
func (u *Universe) Lookup(fullName string) (*Type, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	t, ok := u.byName[fullName]
	return t, ok
}

// Types returns every node sorted by full name.
func (u *Universe) Types() []*Type {
	u.mu.Lock()
	out := slices.Clone(u.types)
	u.mu.Unlock()
	SortByName(out)
	return out
}

// Namespace returns the named types declared in ns, sorted by name.
func (u *Universe) Namespace(ns string) []*Type {
	var out []*Type
	for _, t := range u.Types() {
		if t.Namespace == ns && t.Name != "" {
			out = append(out, t)
		}
	}
	return out
}

// Define adds a node built outside reflect. Defining a second node with the
// same full name fails.
func (u *Universe) Define(t *Type) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.defineLocked(t)
}

func (u *Universe) defineLocked(t *Type) error {
	name := t.FullName()
	if _, exists := u.byName[name]; exists {
		return fmt.Errorf("type %s already defined", name)
	}
	u.add(t)
	return nil
}

func (u *Universe) add(t *Type) {
	t.id = len(u.types)
	u.types = append(u.types, t)
	u.byName[t.FullName()] = t
	if t.Reflect != nil {
		u.byReflect[t.Reflect] = t
	}
}

// intern returns the existing node with t's full name, adding t otherwise.
func (u *Universe) intern(t *Type) *Type {
	if existing, ok := u.byName[t.FullName()]; ok {
		return existing
	}
	u.add(t)
	return t
}

// SortByName sorts types by full name.
func SortByName(types []*Type) {
	slices.SortFunc(types, func(a, b *Type) int {
		switch an, bn := a.FullName(), b.FullName(); {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	})
}

// Void returns the node standing for "no value", used as the return type
// of operations without a result.
func (u *Universe) Void() *Type {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.placeholder("void")
}
