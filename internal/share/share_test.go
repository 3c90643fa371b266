package share

import (
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

func loadIndex(t *testing.T) *ReferenceIndex {
	t.Helper()
	m, err := typesys.LoadManifestFile("testdata/refs.yaml")
	if err != nil {
		t.Fatal(err)
	}
	x := NewReferenceIndex()
	if err := x.AddManifest(m); err != nil {
		t.Fatal(err)
	}
	return x
}

func TestReferenceIndex_HasType(t *testing.T) {
	x := loadIndex(t)
	tests := []struct {
		name string
		want bool
	}{
		{"example.com/contracts.Address", true},
		{"example.com/contracts.Address[]", true},
		{"example.com/contracts.Address[][]", true},
		{"example.com/contracts.Page[[example.com/contracts.Address]]", true},
		{"example.com/contracts.Page[[example.com/server.Order]]", false},
		{"example.com/server.Page[[example.com/contracts.Address]]", false},
		{"map[[string],[example.com/contracts.PostalAddress]]", true},
		{"string", true},
		{"time.Time", true},
		{"example.com/server.Order", false},
	}
	for _, tt := range tests {
		if got := x.HasType(tt.name); got != tt.want {
			t.Errorf("HasType(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestReferenceIndex_members(t *testing.T) {
	x := loadIndex(t)
	postal := "example.com/contracts.PostalAddress"

	if !x.HasProperty(postal, "Code") {
		t.Error("declared property not found")
	}
	if !x.HasProperty(postal, "Street") {
		t.Error("inherited property not found")
	}
	if x.HasProperty(postal, "Missing") {
		t.Error("unknown property found")
	}

	if !x.HasMethod(postal, "Format", []string{"string"}) {
		t.Error("inherited method not found")
	}
	if x.HasMethod(postal, "Format", []string{"int"}) {
		t.Error("method matched with wrong parameter types")
	}

	if !x.HasConstructor("example.com/contracts.Address", []string{"string"}) {
		t.Error("constructor not found")
	}
	if x.HasConstructor(postal, []string{"string"}) {
		t.Error("constructor lookup walked the base chain")
	}
}

func TestResolver_byReference(t *testing.T) {
	r := NewResolver(WithReferenceIndex(loadIndex(t)))
	u := typesys.NewUniverse()
	m, _ := typesys.LoadManifestFile("testdata/refs.yaml")
	if err := u.AddManifest(m); err != nil {
		t.Fatal(err)
	}
	addr, _ := u.Lookup("example.com/contracts.Address")

	if got := r.TypeShareKind(addr); got != model.SharedByReference {
		t.Errorf("TypeShareKind(Address) = %v", got)
	}
	if got := r.PropertyShareKind(addr, "Street"); got != model.SharedByReference {
		t.Errorf("PropertyShareKind(Street) = %v", got)
	}
	if got := r.MethodShareKind(addr, "Format", "string"); got != model.SharedByReference {
		t.Errorf("MethodShareKind(Format) = %v", got)
	}
	if got := r.ConstructorShareKind(addr, "string"); got != model.SharedByReference {
		t.Errorf("ConstructorShareKind(string) = %v", got)
	}
	if got := r.TypeShareKindByName("example.com/server.Order"); got != model.NotShared {
		t.Errorf("TypeShareKindByName(Order) = %v", got)
	}
}

func TestResolver_bySource(t *testing.T) {
	loc, err := NewGoSourceLocator("example.com/app", "testdata/src")
	if err != nil {
		t.Fatalf("NewGoSourceLocator() error = %v", err)
	}
	moneyFile := filepath.Join("testdata", "src", "shared", "money.go")
	r := NewResolver(WithSourceLocator(loc), WithSharedFiles(moneyFile))

	money := &typesys.Type{Namespace: "example.com/app/shared", Name: "Money", Kind: typesys.KindStruct}
	money.Properties = []*typesys.Property{{Name: "Amount", DeclaringType: money}}
	order := &typesys.Type{Namespace: "example.com/app/server", Name: "Order", Kind: typesys.KindStruct}

	if got := r.TypeShareKind(money); got != model.SharedBySource {
		t.Errorf("TypeShareKind(Money) = %v, want SharedBySource", got)
	}
	if got := r.PropertyShareKind(money, "Amount"); got != model.SharedBySource {
		t.Errorf("PropertyShareKind(Amount) = %v", got)
	}
	if got := r.ConstructorShareKind(money, "int64", "string"); got != model.SharedBySource {
		t.Errorf("ConstructorShareKind() = %v", got)
	}
	if got := r.TypeShareKind(order); got != model.NotShared {
		t.Errorf("TypeShareKind(Order) = %v, want NotShared", got)
	}
}

type localType struct{}

func (localType) Describe(s string) string { return s }

func TestResolver_methodSourceFromRuntime(t *testing.T) {
	_, thisFile, _, _ := runtime.Caller(0)
	r := NewResolver(WithSharedFiles(thisFile))
	lt := typesys.NewUniverse().FromReflect(reflect.TypeFor[localType]())

	if got := r.MethodShareKind(lt, "Describe", "string"); got != model.SharedBySource {
		t.Errorf("MethodShareKind(Describe) = %v, want SharedBySource", got)
	}
	if got := r.MethodShareKind(lt, "Describe", "int"); got != model.NotShared {
		t.Errorf("MethodShareKind(Describe(int)) = %v, want NotShared", got)
	}
}

func TestResolver_methodNamedAfterTypeIsNotConstructor(t *testing.T) {
	shared := filepath.Join("testdata", "src", "shared", "money.go")
	r := NewResolver(WithSharedFiles(shared))

	order := &typesys.Type{Namespace: "example.com/app/server", Name: "Order", Kind: typesys.KindStruct}
	order.Methods = []*typesys.Method{{Name: "Order", DeclaringType: order, SourceFile: shared}}

	if got := r.MethodShareKind(order, "Order"); got != model.SharedBySource {
		t.Errorf("MethodShareKind(Order) = %v, want SharedBySource", got)
	}
	if got := r.ConstructorShareKind(order); got != model.NotShared {
		t.Errorf("ConstructorShareKind() = %v, want NotShared", got)
	}
	if _, misses := r.CacheStats(); misses != 2 {
		t.Errorf("misses = %d, want a separate entry per member", misses)
	}
}

func TestResolver_memoizesByStructuralKey(t *testing.T) {
	r := NewResolver(WithReferenceIndex(loadIndex(t)))

	a := &typesys.Type{Namespace: "example.com/contracts", Name: "Address"}
	b := &typesys.Type{Namespace: "example.com/contracts", Name: "Address"}
	if r.TypeShareKind(a) != r.TypeShareKind(b) {
		t.Error("structurally equal types resolved differently")
	}
	hits, misses := r.CacheStats()
	if misses != 1 || hits != 1 {
		t.Errorf("CacheStats() = %d hits, %d misses, want 1, 1", hits, misses)
	}
}

func TestNewGoSourceLocator_missingRoot(t *testing.T) {
	if _, err := NewGoSourceLocator("example.com/app", filepath.Join(os.TempDir(), "does-not-exist-ria")); err == nil {
		t.Error("NewGoSourceLocator() on missing root succeeded")
	}
}

func TestLocators_firstMatchWins(t *testing.T) {
	app, err := NewGoSourceLocator("example.com/app", "testdata/src")
	if err != nil {
		t.Fatalf("NewGoSourceLocator() error = %v", err)
	}
	other, err := NewGoSourceLocator("example.com/other", "testdata/src")
	if err != nil {
		t.Fatalf("NewGoSourceLocator() error = %v", err)
	}
	ls := Locators{other, app}

	money := &typesys.Type{Namespace: "example.com/app/shared", Name: "Money"}
	f, ok := ls.TypeFile(money)
	if !ok || filepath.Base(f) != "money.go" {
		t.Errorf("TypeFile(Money) = %q, %v", f, ok)
	}
	if _, ok := ls.ConstructorFile(money); !ok {
		t.Error("ConstructorFile(Money) should resolve NewMoney through the second locator")
	}
	missing := &typesys.Type{Namespace: "example.com/none", Name: "Money"}
	if _, ok := ls.TypeFile(missing); ok {
		t.Error("TypeFile() should fail when no locator knows the type")
	}
}
