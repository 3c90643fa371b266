package model

import (
	"context"
	"encoding/json"
	"testing"
)

type testProduct struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestChangeSetEntry_SetOriginalEntity(t *testing.T) {
	e := &ChangeSetEntry{ID: 1, Operation: OperationUpdate}
	if e.HasMemberChanges {
		t.Fatal("new entry HasMemberChanges = true")
	}

	e.SetOriginalEntity(&testProduct{ID: 1})
	if !e.HasMemberChanges {
		t.Error("HasMemberChanges = false after non-nil original")
	}

	e.SetOriginalEntity(nil)
	if !e.HasMemberChanges {
		t.Error("setting nil original cleared HasMemberChanges")
	}
	if e.OriginalEntity() != nil {
		t.Error("OriginalEntity() not nil after reset")
	}
}

func TestChangeSetEntry_SetOriginalEntity_nil_keeps_false(t *testing.T) {
	e := &ChangeSetEntry{}
	e.SetOriginalEntity(nil)
	if e.HasMemberChanges {
		t.Error("nil original set HasMemberChanges")
	}
}

func TestChangeSetEntry_HasConflict_HasError(t *testing.T) {
	tests := []struct {
		name         string
		entry        ChangeSetEntry
		wantConflict bool
		wantError    bool
	}{
		{name: "clean", entry: ChangeSetEntry{}},
		{name: "delete conflict", entry: ChangeSetEntry{IsDeleteConflict: true}, wantConflict: true, wantError: true},
		{name: "member conflict", entry: ChangeSetEntry{ConflictMembers: []string{"Name"}}, wantConflict: true, wantError: true},
		{name: "validation", entry: ChangeSetEntry{ValidationErrors: []ValidationResult{{Message: "bad"}}}, wantError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.entry.HasConflict(); got != tt.wantConflict {
				t.Errorf("HasConflict() = %v, want %v", got, tt.wantConflict)
			}
			if got := tt.entry.HasError(); got != tt.wantError {
				t.Errorf("HasError() = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestChangeSet_HasError(t *testing.T) {
	ok := &ChangeSetEntry{ID: 1, Entity: &testProduct{ID: 1}}
	bad := &ChangeSetEntry{ID: 2, Entity: &testProduct{ID: 2}, ConflictMembers: []string{"Name"}}

	if NewChangeSet([]*ChangeSetEntry{ok}).HasError() {
		t.Error("HasError() = true for clean change set")
	}
	if !NewChangeSet([]*ChangeSetEntry{ok, bad}).HasError() {
		t.Error("HasError() = false with a conflicting entry")
	}
}

func TestChangeSet_GetOriginal(t *testing.T) {
	current := &testProduct{ID: 1, Name: "CurrentEntity"}
	original := &testProduct{ID: 1, Name: "Original"}
	e := &ChangeSetEntry{ID: 1, Entity: current, Operation: OperationUpdate}
	e.SetOriginalEntity(original)
	cs := NewChangeSet([]*ChangeSetEntry{e})

	if got := cs.GetOriginal(current); got != original {
		t.Errorf("GetOriginal() = %v, want %v", got, original)
	}
	if got := cs.GetOriginal(&testProduct{ID: 1}); got != nil {
		t.Errorf("GetOriginal(unknown) = %v, want nil", got)
	}
	if got := cs.GetChangeOperation(current); got != OperationUpdate {
		t.Errorf("GetChangeOperation() = %v, want Update", got)
	}
}

func TestChangeSet_Replace(t *testing.T) {
	client := &testProduct{ID: 1}
	e := &ChangeSetEntry{ID: 1, Entity: client, Operation: OperationInsert}
	cs := NewChangeSet([]*ChangeSetEntry{e})

	replacement := &testProduct{ID: 99, Name: "stored"}
	if err := cs.Replace(client, replacement); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	if e.Entity != replacement {
		t.Error("entry entity not replaced")
	}
	if _, ok := cs.EntryFor(client); ok {
		t.Error("old entity still indexed")
	}
	if err := cs.Replace(replacement, "wrong type"); err == nil {
		t.Error("Replace() with mismatched type succeeded")
	}
}

func TestChangeSet_Associate(t *testing.T) {
	client := &testProduct{ID: 0, Name: "new"}
	e := &ChangeSetEntry{ID: 1, Entity: client, Operation: OperationInsert}
	cs := NewChangeSet([]*ChangeSetEntry{e})

	store := &testProduct{ID: 42, Name: "new"}
	err := cs.Associate(client, store, func(c, s any) {
		c.(*testProduct).ID = s.(*testProduct).ID
	})
	if err != nil {
		t.Fatalf("Associate() error = %v", err)
	}
	if got := cs.AssociatedEntities(client); len(got) != 1 || got[0] != store {
		t.Errorf("AssociatedEntities() = %v", got)
	}

	cs.ApplyAssociations()
	if client.ID != 42 {
		t.Errorf("client.ID = %d after transform, want 42", client.ID)
	}

	if err := cs.Associate(&testProduct{}, store, func(any, any) {}); err == nil {
		t.Error("Associate() accepted entity outside change set")
	}
}

func TestChangeSetFrom(t *testing.T) {
	if ChangeSetFrom(context.Background()) != nil {
		t.Error("ChangeSetFrom(empty) != nil")
	}
	cs := NewChangeSet(nil)
	if got := ChangeSetFrom(WithChangeSet(context.Background(), cs)); got != cs {
		t.Error("ChangeSetFrom() did not return attached change set")
	}
}

func TestChangeSetEntry_ToWire(t *testing.T) {
	e := &ChangeSetEntry{
		ID:               3,
		Entity:           &testProduct{ID: 3, Name: "p"},
		StoreEntity:      &testProduct{ID: 3, Name: "store"},
		Operation:        OperationUpdate,
		ConflictMembers:  []string{"Name"},
		State:            EntryConflictDetected,
		ValidationErrors: []ValidationResult{{Message: "x"}},
	}
	w, err := e.ToWire("shop.Product")
	if err != nil {
		t.Fatalf("ToWire() error = %v", err)
	}
	if w.TypeName != "shop.Product" || w.ID != 3 {
		t.Errorf("wire = %+v", w)
	}

	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back WireEntry
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.State != EntryConflictDetected {
		t.Errorf("State = %v, want ConflictDetected", back.State)
	}
	if back.Operation != OperationUpdate {
		t.Errorf("Operation = %v, want Update", back.Operation)
	}
	if string(back.StoreEntity) != `{"id":3,"name":"store"}` {
		t.Errorf("StoreEntity = %s", back.StoreEntity)
	}
}

func TestEntryState_Terminal(t *testing.T) {
	for _, s := range []EntryState{EntryPending, EntryValidating, EntryInvoking} {
		if s.Terminal() {
			t.Errorf("%v.Terminal() = true", s)
		}
	}
	for _, s := range []EntryState{EntrySucceeded, EntryValidationFailed, EntryConflictDetected, EntryFaulted} {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false", s)
		}
	}
}
