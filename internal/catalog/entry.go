// Package catalog discovers the operations a domain service exposes and
// describes them independently of reflect.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

// Parameter is one caller-visible parameter of an operation.
type Parameter struct {
	Name string
	Type *typesys.Type
	// Rule is a go-playground/validator rule applied to the argument.
	Rule string
}

// Entry is one operation exposed by a domain service.
type Entry struct {
	ServiceType *typesys.Type
	// Name is the logical name, without any "Async" suffix.
	Name string
	// MethodName is the Go method implementing the operation.
	MethodName string
	Operation  model.DomainOperation
	// ReturnType is the logical return type; for task-returning methods
	// the task's value type.
	ReturnType *typesys.Type
	Parameters []Parameter

	IsTask        bool
	HasTotalCount bool

	serviceAttrs []model.Attribute
	hasContext   bool
	returnsError bool

	mu               sync.Mutex
	attributes       []model.Attribute
	opAttribute      model.Attribute
	reqValidation    *bool
	reqAuthorization *bool
}

// ErrInvalidEntry is returned when an entry cannot be constructed.
var ErrInvalidEntry = errors.New("invalid operation entry")

// NewEntry creates an operation entry. It fails when op is None, the name is
// empty, or the service or return type is missing.
func NewEntry(
	service *typesys.Type,
	name string,
	op model.DomainOperation,
	returnType *typesys.Type,
	params []Parameter,
	attrs []model.Attribute,
) (*Entry, error) {
	switch {
	case service == nil:
		return nil, fmt.Errorf("%w: service type is required", ErrInvalidEntry)
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidEntry)
	case returnType == nil:
		return nil, fmt.Errorf("%w: %s: return type is required", ErrInvalidEntry, name)
	case op == model.OperationNone:
		return nil, fmt.Errorf("%w: %s: operation kind is None", ErrInvalidEntry, name)
	}
	for i, p := range params {
		if p.Type == nil {
			return nil, fmt.Errorf("%w: %s: parameter %d has no type", ErrInvalidEntry, name, i)
		}
	}

	e := &Entry{
		ServiceType: service,
		Name:        name,
		MethodName:  name,
		Operation:   op,
		ReturnType:  returnType,
		Parameters:  params,
	}
	if err := e.SetAttributes(attrs); err != nil {
		return nil, err
	}
	return e, nil
}

// SetAttributes replaces the entry's attributes and resets the lazily
// computed requirement flags.
func (e *Entry) SetAttributes(attrs []model.Attribute) error {
	var opAttr model.Attribute
	for _, a := range attrs {
		if model.OperationAttribute(a) == model.OperationNone {
			continue
		}
		if opAttr != nil {
			return fmt.Errorf("%w: %s: multiple operation attributes (%s, %s)",
				ErrInvalidEntry, e.Name, model.AttributeName(opAttr), model.AttributeName(a))
		}
		opAttr = a
	}
	if opAttr != nil && model.OperationAttribute(opAttr) != e.Operation {
		return fmt.Errorf("%w: %s: attribute %s does not declare a %s operation",
			ErrInvalidEntry, e.Name, model.AttributeName(opAttr), e.Operation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.attributes = append([]model.Attribute(nil), attrs...)
	if opAttr == nil {
		opAttr = e.defaultAttribute()
		e.attributes = append(e.attributes, opAttr)
	}
	e.opAttribute = opAttr
	e.reqValidation = nil
	e.reqAuthorization = nil
	return nil
}

func (e *Entry) setServiceAttributes(attrs []model.Attribute) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.serviceAttrs = attrs
	e.reqAuthorization = nil
}

// defaultAttribute synthesizes the operation attribute for entries whose
// kind was inferred rather than declared.
func (e *Entry) defaultAttribute() model.Attribute {
	switch e.Operation {
	case model.OperationQuery:
		return model.Query{IsComposable: e.ReturnType.IsEnumerable()}
	case model.OperationInsert:
		return model.Insert{}
	case model.OperationUpdate:
		return model.Update{}
	case model.OperationDelete:
		return model.Delete{}
	case model.OperationCustom:
		return model.EntityAction{}
	}
	return model.Invoke{}
}

// Attributes returns the entry's attributes, including a synthesized
// operation attribute.
func (e *Entry) Attributes() []model.Attribute {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attributes
}

// OperationAttribute returns the single attribute declaring the entry's kind.
func (e *Entry) OperationAttribute() model.Attribute {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opAttribute
}

// AssociatedType is the entity type the operation works on: the element
// type of a query's result, or the first parameter's type otherwise.
func (e *Entry) AssociatedType() *typesys.Type {
	if e.Operation == model.OperationQuery {
		return e.ReturnType.ElementType()
	}
	if len(e.Parameters) == 0 {
		return nil
	}
	return e.Parameters[0].Type
}

// IsSingleton reports whether a query returns a single entity.
func (e *Entry) IsSingleton() bool {
	return e.Operation == model.OperationQuery && !e.ReturnType.IsEnumerable()
}

// RequiresValidation reports whether the method, a parameter, or the type of
// a struct parameter carries a validation rule. The result is computed once.
func (e *Entry) RequiresValidation() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reqValidation == nil {
		v := e.computeRequiresValidation()
		e.reqValidation = &v
	}
	return *e.reqValidation
}

func (e *Entry) computeRequiresValidation() bool {
	for _, a := range e.attributes {
		switch a.(type) {
		case model.Validate, model.ValidateParam:
			return true
		}
	}
	visited := make(map[*typesys.Type]bool)
	for _, p := range e.Parameters {
		if p.Rule != "" || hasValidationRules(p.Type.ElementType(), visited) {
			return true
		}
	}
	return false
}

func hasValidationRules(t *typesys.Type, visited map[*typesys.Type]bool) bool {
	if t.Kind != typesys.KindStruct || visited[t] {
		return false
	}
	visited[t] = true
	for _, p := range t.AllProperties() {
		if p.Validate != "" {
			return true
		}
		if p.Association == nil && hasValidationRules(p.Type.ElementType(), visited) {
			return true
		}
	}
	return false
}

// RequiresAuthorization reports whether the method or its service carries an
// authorization rule. The result is computed once.
func (e *Entry) RequiresAuthorization() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reqAuthorization == nil {
		v := false
		for _, a := range append(e.attributes[:len(e.attributes):len(e.attributes)], e.serviceAttrs...) {
			if model.IsAuthorizationAttribute(a) {
				v = true
				break
			}
		}
		e.reqAuthorization = &v
	}
	return *e.reqAuthorization
}

// AuthorizationAttributes returns the service-level then method-level
// authorization rules.
func (e *Entry) AuthorizationAttributes() []model.Attribute {
	var out []model.Attribute
	for _, a := range e.serviceAttrs {
		if model.IsAuthorizationAttribute(a) {
			out = append(out, a)
		}
	}
	for _, a := range e.Attributes() {
		if model.IsAuthorizationAttribute(a) {
			out = append(out, a)
		}
	}
	return out
}

// Authorize checks the caller against the entry's authorization rules. It
// returns an UNAUTHORIZED error when a rule needs an authenticated caller and
// there is none, and FORBIDDEN when a role requirement is not met.
func (e *Entry) Authorize(rctx *model.RequestContext) error {
	if !e.RequiresAuthorization() {
		return nil
	}
	for _, a := range e.AuthorizationAttributes() {
		switch v := a.(type) {
		case model.RequiresAuthentication:
			if !rctx.IsAuthenticated() {
				return model.NewUnauthorizedError(fmt.Sprintf("%s requires an authenticated caller", e.Name))
			}
		case model.RequiresRole:
			if !rctx.IsAuthenticated() {
				return model.NewUnauthorizedError(fmt.Sprintf("%s requires an authenticated caller", e.Name))
			}
			if len(v.Roles) > 0 && !rctx.HasAnyRole(v.Roles...) {
				return model.NewForbiddenError(fmt.Sprintf("%s requires one of the roles %v", e.Name, v.Roles))
			}
		}
	}
	return nil
}

// MethodValidators returns the method-level validation functions.
func (e *Entry) MethodValidators() []model.Validate {
	var out []model.Validate
	for _, a := range e.Attributes() {
		if v, ok := a.(model.Validate); ok && v.Func != nil {
			out = append(out, v)
		}
	}
	return out
}

// Invoke calls the operation on service. args are the caller-visible
// arguments; a nil argument passes the parameter's zero value. For
// operations with a total-count parameter the populated count is returned,
// otherwise totalCount is -1. A nil ctx is treated as context.Background().
func (e *Entry) Invoke(ctx context.Context, service any, args []any) (result any, totalCount int, err error) {
	totalCount = -1
	if ctx == nil {
		ctx = context.Background()
	}
	if len(args) != len(e.Parameters) {
		return nil, totalCount, fmt.Errorf("%s: expected %d arguments, got %d", e.Name, len(e.Parameters), len(args))
	}

	method := reflect.ValueOf(service).MethodByName(e.MethodName)
	if !method.IsValid() {
		return nil, totalCount, fmt.Errorf("%s: service %T has no method %s", e.Name, service, e.MethodName)
	}
	mt := method.Type()

	in := make([]reflect.Value, 0, mt.NumIn())
	next := 0
	if e.hasContext {
		in = append(in, reflect.ValueOf(ctx))
		next = 1
	}
	for i, a := range args {
		v, err := convertArg(a, mt.In(next+i))
		if err != nil {
			return nil, totalCount, fmt.Errorf("%s: argument %d: %w", e.Name, i, err)
		}
		in = append(in, v)
	}
	var count int
	if e.HasTotalCount {
		in = append(in, reflect.ValueOf(&count))
	}

	out := method.Call(in)
	if e.returnsError {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return nil, totalCount, errv.Interface().(error)
		}
		out = out[:len(out)-1]
	}
	if e.HasTotalCount {
		totalCount = count
	}
	if len(out) == 0 {
		return nil, totalCount, nil
	}

	result = out[0].Interface()
	if e.IsTask {
		task, ok := result.(model.Awaitable)
		if !ok || out[0].IsNil() {
			return nil, totalCount, fmt.Errorf("%s: returned a nil task", e.Name)
		}
		if result, err = task.AwaitAny(ctx); err != nil {
			return nil, totalCount, err
		}
	}
	return result, totalCount, nil
}

// convertArg adapts a to the parameter type, dereferencing or taking the
// address of structs as needed.
func convertArg(a any, want reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(want), nil
	}
	v := reflect.ValueOf(a)
	switch {
	case v.Type().AssignableTo(want):
		return v, nil
	case v.Kind() == reflect.Pointer && v.Type().Elem().AssignableTo(want):
		if v.IsNil() {
			return reflect.Zero(want), nil
		}
		return v.Elem(), nil
	case want.Kind() == reflect.Pointer && v.Type().AssignableTo(want.Elem()):
		p := reflect.New(want.Elem())
		p.Elem().Set(v)
		return p, nil
	case v.Type().ConvertibleTo(want) && isNumeric(v.Kind()) && isNumeric(want.Kind()):
		return v.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", v.Type(), want)
}

func isNumeric(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Float64
}
