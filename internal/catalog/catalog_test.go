package catalog

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

type Category struct {
	ID   int `ria:"key"`
	Name string
}

type Dimensions struct {
	Width  float64
	Height float64
}

type Product struct {
	ID         int    `json:"id" ria:"key"`
	Name       string `json:"name" validate:"required"`
	CategoryID int
	Category   *Category `ria:"association=Product_Category,this=CategoryID,other=ID,fk"`
	Size       Dimensions
}

type SpecialProduct struct {
	Product
	Extra string
}

type testService struct {
	products  []*Product
	inserted  []*Product
	discarded string
}

func (s *testService) Operations() model.OperationMetadata {
	return model.OperationMetadata{
		"Discontinue": {model.EntityAction{}, model.Params{Names: []string{"product", "reason"}}, model.ValidateParam{Index: 1, Rule: "required"}},
		"Helper":      {model.Ignore{}},
		"Ping":        {model.RequiresRole{Roles: []string{"admin"}}},
	}
}

func (s *testService) ServiceAttributes() []model.Attribute {
	return []model.Attribute{model.KnownTypes{Types: []any{SpecialProduct{}}}}
}

func (s *testService) GetProducts(_ context.Context, filter string, count *int) ([]*Product, error) {
	var out []*Product
	for _, p := range s.products {
		if strings.Contains(p.Name, filter) {
			out = append(out, p)
		}
	}
	*count = len(s.products)
	return out, nil
}

func (s *testService) GetProductAsync(ctx context.Context, id int) *model.Task[*Product] {
	return model.NewTask(ctx, func(context.Context) (*Product, error) {
		for _, p := range s.products {
			if p.ID == id {
				return p, nil
			}
		}
		return nil, errors.New("not found")
	})
}

func (s *testService) InsertProduct(_ context.Context, p *Product) error {
	s.inserted = append(s.inserted, p)
	return nil
}

func (s *testService) UpdateProduct(p *Product) {}

func (s *testService) DeleteProduct(p *Product) error { return nil }

func (s *testService) Discontinue(p *Product, reason string) error {
	s.discarded = p.Name + ":" + reason
	return nil
}

func (s *testService) Ping() string { return "pong" }

func (s *testService) Echo(_ context.Context, msg string) (string, error) { return msg, nil }

func (s *testService) Helper() {}

func describeTest(t *testing.T) *Description {
	t.Helper()
	c := New(typesys.NewUniverse())
	d, err := c.Describe(&testService{})
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	return d
}

func TestDescribe_operations(t *testing.T) {
	d := describeTest(t)

	var names []string
	for _, e := range d.Operations() {
		names = append(names, e.Name+":"+e.Operation.String())
	}
	want := []string{
		"DeleteProduct:Delete", "Discontinue:Custom", "Echo:Invoke", "GetProduct:Query",
		"GetProducts:Query", "InsertProduct:Insert", "Ping:Invoke", "UpdateProduct:Update",
	}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("operations = %v, want %v", names, want)
	}
}

func TestDescribe_totalCountStripped(t *testing.T) {
	d := describeTest(t)
	e, ok := d.QueryMethod("GetProducts")
	if !ok {
		t.Fatal("GetProducts not found")
	}
	if !e.HasTotalCount {
		t.Error("HasTotalCount = false")
	}
	// Raw caller-visible signature is (filter, count).
	if len(e.Parameters) != 1 || e.Parameters[0].Type.FullName() != "string" {
		t.Errorf("Parameters = %+v, want one string", e.Parameters)
	}

	svc := &testService{products: []*Product{{ID: 1, Name: "apple"}, {ID: 2, Name: "pear"}, {ID: 3, Name: "apricot"}}}
	result, total, err := e.Invoke(context.Background(), svc, []any{"ap"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if total != 3 {
		t.Errorf("totalCount = %d, want 3", total)
	}
	if got := result.([]*Product); len(got) != 2 {
		t.Errorf("result = %d products, want 2", len(got))
	}
}

func TestDescribe_task(t *testing.T) {
	d := describeTest(t)
	e, ok := d.QueryMethod("GetProduct")
	if !ok {
		t.Fatal("GetProduct not found (Async suffix not stripped?)")
	}
	if !e.IsTask || e.MethodName != "GetProductAsync" {
		t.Errorf("IsTask = %v, MethodName = %q", e.IsTask, e.MethodName)
	}
	if !e.IsSingleton() {
		t.Error("IsSingleton() = false")
	}
	if q := e.OperationAttribute().(model.Query); q.IsComposable {
		t.Error("singleton query synthesized IsComposable = true")
	}
	if e.AssociatedType().Name != "Product" {
		t.Errorf("AssociatedType() = %v", e.AssociatedType())
	}

	svc := &testService{products: []*Product{{ID: 7, Name: "kiwi"}}}
	result, total, err := e.Invoke(context.Background(), svc, []any{7})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if total != -1 {
		t.Errorf("totalCount = %d, want -1", total)
	}
	if result.(*Product).Name != "kiwi" {
		t.Errorf("result = %v", result)
	}
}

func TestDescribe_types(t *testing.T) {
	d := describeTest(t)

	var entities []string
	for _, e := range d.EntityTypes() {
		entities = append(entities, e.Name)
	}
	if !reflect.DeepEqual(entities, []string{"Category", "Product", "SpecialProduct"}) {
		t.Errorf("EntityTypes() = %v", entities)
	}
	if len(d.ComplexTypes()) != 1 || d.ComplexTypes()[0].Name != "Dimensions" {
		t.Errorf("ComplexTypes() = %v", d.ComplexTypes())
	}
}

func TestDescribe_submitAndCustomLookups(t *testing.T) {
	d := describeTest(t)
	special, ok := d.EntityByName("SpecialProduct")
	if !ok {
		t.Fatal("SpecialProduct not exposed")
	}

	upd, ok := d.SubmitMethod(special, model.OperationUpdate)
	if !ok || upd.Name != "UpdateProduct" {
		t.Errorf("SubmitMethod(SpecialProduct, Update) = %v, %v", upd, ok)
	}
	if _, ok := d.SubmitMethod(special, model.OperationQuery); ok {
		t.Error("SubmitMethod found a query")
	}

	cm, ok := d.CustomMethod(special, "Discontinue")
	if !ok {
		t.Fatal("Discontinue not applicable to SpecialProduct")
	}
	if cm.Parameters[0].Name != "product" || cm.Parameters[1].Name != "reason" {
		t.Errorf("parameter names = %q, %q", cm.Parameters[0].Name, cm.Parameters[1].Name)
	}
	if cm.Parameters[1].Rule != "required" {
		t.Errorf("reason rule = %q", cm.Parameters[1].Rule)
	}
}

func TestEntry_requirementFlags(t *testing.T) {
	d := describeTest(t)
	tests := []struct {
		op             string
		wantValidation bool
		wantAuth       bool
	}{
		{"InsertProduct", true, false},
		{"Discontinue", true, false},
		{"Echo", false, false},
		{"Ping", false, true},
	}
	for _, tt := range tests {
		e, _ := d.Operation(tt.op)
		if got := e.RequiresValidation(); got != tt.wantValidation {
			t.Errorf("%s.RequiresValidation() = %v, want %v", tt.op, got, tt.wantValidation)
		}
		if got := e.RequiresAuthorization(); got != tt.wantAuth {
			t.Errorf("%s.RequiresAuthorization() = %v, want %v", tt.op, got, tt.wantAuth)
		}
	}
}

func TestEntry_SetAttributes_resetsFlags(t *testing.T) {
	u := typesys.NewUniverse()
	svc := u.FromReflect(reflect.TypeFor[testService]())
	e, err := NewEntry(svc, "Echo", model.OperationInvoke, u.FromReflect(reflect.TypeFor[string]()), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if e.RequiresAuthorization() || e.RequiresValidation() {
		t.Fatal("fresh entry requires authorization or validation")
	}

	err = e.SetAttributes([]model.Attribute{model.RequiresAuthentication{}, model.Validate{Func: func([]any) error { return nil }}})
	if err != nil {
		t.Fatal(err)
	}
	if !e.RequiresAuthorization() {
		t.Error("RequiresAuthorization() not recomputed")
	}
	if !e.RequiresValidation() {
		t.Error("RequiresValidation() not recomputed")
	}
	if _, ok := e.OperationAttribute().(model.Invoke); !ok {
		t.Errorf("OperationAttribute() = %T, want synthesized Invoke", e.OperationAttribute())
	}
}

func TestNewEntry_invalid(t *testing.T) {
	u := typesys.NewUniverse()
	svc := u.FromReflect(reflect.TypeFor[testService]())
	void := u.Void()

	tests := []struct {
		name    string
		service *typesys.Type
		opName  string
		op      model.DomainOperation
		ret     *typesys.Type
		attrs   []model.Attribute
	}{
		{"none operation", svc, "X", model.OperationNone, void, nil},
		{"empty name", svc, "", model.OperationInvoke, void, nil},
		{"nil service", nil, "X", model.OperationInvoke, void, nil},
		{"nil return", svc, "X", model.OperationInvoke, nil, nil},
		{"two operation attributes", svc, "X", model.OperationInsert, void, []model.Attribute{model.Insert{}, model.Delete{}}},
		{"mismatched attribute", svc, "X", model.OperationInsert, void, []model.Attribute{model.Delete{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEntry(tt.service, tt.opName, tt.op, tt.ret, nil, tt.attrs)
			if !errors.Is(err, ErrInvalidEntry) {
				t.Errorf("NewEntry() error = %v, want ErrInvalidEntry", err)
			}
		})
	}
}

func TestEntry_Invoke_convertsArguments(t *testing.T) {
	d := describeTest(t)
	e, _ := d.Operation("InsertProduct")
	svc := &testService{}

	if _, _, err := e.Invoke(context.Background(), svc, []any{Product{ID: 4, Name: "fig"}}); err != nil {
		t.Fatalf("Invoke(value) error = %v", err)
	}
	if len(svc.inserted) != 1 || svc.inserted[0].Name != "fig" {
		t.Errorf("inserted = %v", svc.inserted)
	}

	if _, _, err := e.Invoke(context.Background(), svc, []any{"not a product"}); err == nil {
		t.Error("Invoke() accepted a string for *Product")
	}
	if _, _, err := e.Invoke(context.Background(), svc, nil); err == nil {
		t.Error("Invoke() accepted missing arguments")
	}
}

func TestEntry_Invoke_nilContext(t *testing.T) {
	d := describeTest(t)
	e, _ := d.Operation("Echo")

	var ctx context.Context
	got, _, err := e.Invoke(ctx, &testService{}, []any{"hello"})
	if err != nil {
		t.Fatalf("Invoke(nil ctx) error = %v", err)
	}
	if got != "hello" {
		t.Errorf("Invoke(nil ctx) = %v, want hello", got)
	}
}

func TestCatalog_cachesDescriptions(t *testing.T) {
	c := New(typesys.NewUniverse())
	a, err := c.Describe(&testService{})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := c.DescribeType(reflect.TypeFor[testService]())
	if a != b {
		t.Error("descriptions for the same type differ")
	}
}

type badMetadataService struct{}

func (badMetadataService) Operations() model.OperationMetadata {
	return model.OperationMetadata{"Missing": {model.Invoke{}}}
}

type keylessService struct{}

type Keyless struct{ Name string }

func (keylessService) GetKeyless() []Keyless { return nil }

func TestDescribe_errors(t *testing.T) {
	c := New(typesys.NewUniverse())
	if _, err := c.Describe(badMetadataService{}); err == nil || !strings.Contains(err.Error(), "unknown method Missing") {
		t.Errorf("Describe(badMetadata) error = %v", err)
	}
	if _, err := c.Describe(keylessService{}); err == nil || !strings.Contains(err.Error(), "has no key member") {
		t.Errorf("Describe(keyless) error = %v", err)
	}
	if _, err := c.Describe(nil); err == nil {
		t.Error("Describe(nil) succeeded")
	}
}
