package model

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// EntryState is the processing state of a ChangeSetEntry.
type EntryState int

// Entry states. An entry starts Pending, moves through Validating and
// Invoking, and ends in one of the four terminal states.
const (
	EntryPending EntryState = iota
	EntryValidating
	EntryInvoking
	EntrySucceeded
	EntryValidationFailed
	EntryConflictDetected
	EntryFaulted
)

var entryStateNames = [...]string{
	"Pending", "Validating", "Invoking", "Succeeded", "ValidationFailed", "ConflictDetected", "Faulted",
}

// String returns the state name.
func (s EntryState) String() string {
	if s < 0 || int(s) >= len(entryStateNames) {
		return "Unknown"
	}
	return entryStateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s EntryState) Terminal() bool {
	return s >= EntrySucceeded
}

// MarshalText implements encoding.TextMarshaler.
func (s EntryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *EntryState) UnmarshalText(b []byte) error {
	for i, n := range entryStateNames {
		if strings.EqualFold(n, string(b)) {
			*s = EntryState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown entry state %q", string(b))
}

// ValidationResult is a single validation failure reported for an entry.
type ValidationResult struct {
	Message   string   `json:"message"`
	Members   []string `json:"members,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
}

// EntityActionInvocation is a custom method queued against an entity.
type EntityActionInvocation struct {
	Name string
	Args []any
}

// ChangeSetEntry is a single insert, update or delete request within a
// submitted change set, together with its processing outcome.
type ChangeSetEntry struct {
	// ID is assigned by the client and correlates entries that reference
	// each other through associations.
	ID int

	Entity           any
	StoreEntity      any
	Operation        DomainOperation
	HasMemberChanges bool
	EntityActions    []EntityActionInvocation

	// Associations map an association member name to the IDs of the
	// entries it references.
	Associations         map[string][]int
	OriginalAssociations map[string][]int

	ConflictMembers  []string
	IsDeleteConflict bool
	ValidationErrors []ValidationResult

	// ParentOperation links a composed child entry to its parent entry.
	ParentOperation *ChangeSetEntry

	State EntryState

	originalEntity any
}

// OriginalEntity returns the entity's values as last read by the client.
func (e *ChangeSetEntry) OriginalEntity() any {
	return e.originalEntity
}

// SetOriginalEntity sets the original values. A non-nil original always
// marks the entry as having member changes; nil leaves the flag untouched.
func (e *ChangeSetEntry) SetOriginalEntity(original any) {
	e.originalEntity = original
	if original != nil {
		e.HasMemberChanges = true
	}
}

// HasConflict reports a concurrency or delete conflict.
func (e *ChangeSetEntry) HasConflict() bool {
	return e.IsDeleteConflict || len(e.ConflictMembers) > 0
}

// HasError reports a conflict or at least one validation error.
func (e *ChangeSetEntry) HasError() bool {
	return e.HasConflict() || len(e.ValidationErrors) > 0
}

// AddValidationError appends a validation result.
func (e *ChangeSetEntry) AddValidationError(r ValidationResult) {
	e.ValidationErrors = append(e.ValidationErrors, r)
}

// ChangeSet is an ordered batch of change set entries submitted together.
type ChangeSet struct {
	entries      []*ChangeSetEntry
	byEntity     map[any]*ChangeSetEntry
	associations []association
}

type association struct {
	client    any
	store     any
	transform func(client, store any)
}

// NewChangeSet creates a change set over the given entries.
func NewChangeSet(entries []*ChangeSetEntry) *ChangeSet {
	cs := &ChangeSet{
		entries:  entries,
		byEntity: make(map[any]*ChangeSetEntry, len(entries)),
	}
	for _, e := range entries {
		if isIdentityKey(e.Entity) {
			cs.byEntity[e.Entity] = e
		}
	}
	return cs
}

// Entries returns the entries in submission order.
func (cs *ChangeSet) Entries() []*ChangeSetEntry {
	return cs.entries
}

// HasError reports whether any entry has a conflict or validation error.
func (cs *ChangeSet) HasError() bool {
	for _, e := range cs.entries {
		if e.HasError() {
			return true
		}
	}
	return false
}

// EntryFor returns the entry whose entity is the given instance. A nil
// change set has no entries.
func (cs *ChangeSet) EntryFor(entity any) (*ChangeSetEntry, bool) {
	if cs == nil || !isIdentityKey(entity) {
		return nil, false
	}
	e, ok := cs.byEntity[entity]
	return e, ok
}

// GetOriginal returns the original values submitted for entity, or nil if
// the entity is not part of the change set or has no original.
func (cs *ChangeSet) GetOriginal(entity any) any {
	e, ok := cs.EntryFor(entity)
	if !ok {
		return nil
	}
	return e.OriginalEntity()
}

// GetChangeOperation returns the operation requested for entity.
func (cs *ChangeSet) GetChangeOperation(entity any) DomainOperation {
	e, ok := cs.EntryFor(entity)
	if !ok {
		return OperationNone
	}
	return e.Operation
}

// Replace substitutes replacement for the client entity in its entry. The
// replacement is what is returned to the client.
func (cs *ChangeSet) Replace(clientEntity, replacement any) error {
	e, ok := cs.EntryFor(clientEntity)
	if !ok {
		return fmt.Errorf("changeset: entity %T is not part of the change set", clientEntity)
	}
	if reflect.TypeOf(clientEntity) != reflect.TypeOf(replacement) {
		return fmt.Errorf("changeset: replacement type %T does not match %T", replacement, clientEntity)
	}
	delete(cs.byEntity, clientEntity)
	e.Entity = replacement
	if isIdentityKey(replacement) {
		cs.byEntity[replacement] = e
	}
	return nil
}

// Associate links a client entity to a store entity. The transform runs
// after all operations have been invoked so that store-generated values
// (keys, timestamps) can be copied back onto the client entity.
func (cs *ChangeSet) Associate(clientEntity, storeEntity any, transform func(client, store any)) error {
	if _, ok := cs.EntryFor(clientEntity); !ok {
		return fmt.Errorf("changeset: entity %T is not part of the change set", clientEntity)
	}
	if storeEntity == nil || transform == nil {
		return fmt.Errorf("changeset: store entity and transform are required")
	}
	cs.associations = append(cs.associations, association{client: clientEntity, store: storeEntity, transform: transform})
	return nil
}

// AssociatedEntities returns the store entities associated with a client
// entity, in association order.
func (cs *ChangeSet) AssociatedEntities(clientEntity any) []any {
	var out []any
	for _, a := range cs.associations {
		if a.client == clientEntity {
			out = append(out, a.store)
		}
	}
	return out
}

// ApplyAssociations runs every registered transform.
func (cs *ChangeSet) ApplyAssociations() {
	for _, a := range cs.associations {
		a.transform(a.client, a.store)
	}
}

func isIdentityKey(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Pointer || k == reflect.Map
}

type changeSetKey struct{}

// WithChangeSet attaches the change set being submitted to ctx.
func WithChangeSet(ctx context.Context, cs *ChangeSet) context.Context {
	return context.WithValue(ctx, changeSetKey{}, cs)
}

// ChangeSetFrom returns the change set being submitted, or nil outside a
// submit.
func ChangeSetFrom(ctx context.Context) *ChangeSet {
	cs, _ := ctx.Value(changeSetKey{}).(*ChangeSet)
	return cs
}

// WireEntityAction is the serialized form of an EntityActionInvocation.
type WireEntityAction struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args,omitempty"`
}

// WireEntry is the serialized form of a ChangeSetEntry exchanged with clients.
type WireEntry struct {
	ID                   int                `json:"id"`
	Operation            DomainOperation    `json:"operation"`
	TypeName             string             `json:"type"`
	Entity               json.RawMessage    `json:"entity,omitempty"`
	OriginalEntity       json.RawMessage    `json:"original_entity,omitempty"`
	StoreEntity          json.RawMessage    `json:"store_entity,omitempty"`
	HasMemberChanges     bool               `json:"has_member_changes,omitempty"`
	EntityActions        []WireEntityAction `json:"entity_actions,omitempty"`
	Associations         map[string][]int   `json:"associations,omitempty"`
	OriginalAssociations map[string][]int   `json:"original_associations,omitempty"`
	ConflictMembers      []string           `json:"conflict_members,omitempty"`
	IsDeleteConflict     bool               `json:"is_delete_conflict,omitempty"`
	ValidationErrors     []ValidationResult `json:"validation_errors,omitempty"`
	State                EntryState         `json:"state"`
}

// ToWire serializes the entry's outcome for the client. Entity actions and
// associations are request-only and are not echoed back.
func (e *ChangeSetEntry) ToWire(typeName string) (WireEntry, error) {
	w := WireEntry{
		ID:               e.ID,
		Operation:        e.Operation,
		TypeName:         typeName,
		HasMemberChanges: e.HasMemberChanges,
		ConflictMembers:  e.ConflictMembers,
		IsDeleteConflict: e.IsDeleteConflict,
		ValidationErrors: e.ValidationErrors,
		State:            e.State,
	}
	var err error
	if w.Entity, err = marshalOptional(e.Entity); err != nil {
		return WireEntry{}, fmt.Errorf("entry %d entity: %w", e.ID, err)
	}
	if w.StoreEntity, err = marshalOptional(e.StoreEntity); err != nil {
		return WireEntry{}, fmt.Errorf("entry %d store entity: %w", e.ID, err)
	}
	return w, nil
}

func marshalOptional(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// SubmitRequest is the wire payload of a change set submit.
type SubmitRequest struct {
	Entries        []WireEntry `json:"entries"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
}

// SubmitResponse is the wire payload returned for a submit.
type SubmitResponse struct {
	Entries  []WireEntry `json:"entries"`
	HasError bool        `json:"has_error"`
}
