package model

import "strings"

// DomainOperation is the logical kind of an exposed domain service method.
type DomainOperation int

// Operation kinds.
const (
	OperationNone DomainOperation = iota
	OperationQuery
	OperationInsert
	OperationUpdate
	OperationDelete
	OperationInvoke
	OperationCustom
)

var operationNames = [...]string{"None", "Query", "Insert", "Update", "Delete", "Invoke", "Custom"}

// String returns the operation name.
func (o DomainOperation) String() string {
	if o < 0 || int(o) >= len(operationNames) {
		return "Unknown"
	}
	return operationNames[o]
}

// ParseDomainOperation parses an operation name case-insensitively.
func ParseDomainOperation(s string) (DomainOperation, bool) {
	for i, n := range operationNames {
		if strings.EqualFold(n, s) {
			return DomainOperation(i), true
		}
	}
	return OperationNone, false
}

// MarshalText implements encoding.TextMarshaler.
func (o DomainOperation) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *DomainOperation) UnmarshalText(b []byte) error {
	op, ok := ParseDomainOperation(string(b))
	if !ok {
		return NewBadRequestError("unknown domain operation " + string(b))
	}
	*o = op
	return nil
}

// Attribute is declarative metadata attached to a service, method or
// parameter. Concrete attributes are the value types below.
type Attribute interface {
	attributeName() string
}

// Query marks a method as a query operation.
type Query struct {
	IsComposable   bool
	HasSideEffects bool
	ResultLimit    int
}

// Insert marks a method as an insert operation.
type Insert struct{}

// Update marks a method as an update operation. UsingCustomMethod marks
// the method as a named entity action rather than the default update.
type Update struct {
	UsingCustomMethod bool
}

// Delete marks a method as a delete operation.
type Delete struct{}

// Invoke marks a method as a non-entity invoke operation.
type Invoke struct {
	HasSideEffects bool
}

// EntityAction marks a method as a custom update on an entity.
type EntityAction struct {
	AllowMultipleInvocations bool
}

// Ignore excludes a method from the operation catalog.
type Ignore struct{}

// RequiresAuthentication demands an authenticated caller.
type RequiresAuthentication struct{}

// RequiresRole demands the caller hold at least one of Roles.
type RequiresRole struct {
	Roles []string
}

// Validate attaches a method-level validation function run against the
// operation's arguments before invocation.
type Validate struct {
	Func func(args []any) error
}

// ValidateParam attaches a validator rule (for example "required,min=1") to
// the parameter at Index, counted after any leading context.Context.
type ValidateParam struct {
	Index int
	Rule  string
}

// Params names the operation's parameters in order, counted after any
// leading context.Context. Unnamed parameters are called argN.
type Params struct {
	Names []string
}

// KnownTypes lists additional entity types exposed by a service, typically
// derived types that are never returned directly by a query.
type KnownTypes struct {
	Types []any
}

func (Query) attributeName() string                  { return "Query" }
func (Insert) attributeName() string                 { return "Insert" }
func (Update) attributeName() string                 { return "Update" }
func (Delete) attributeName() string                 { return "Delete" }
func (Invoke) attributeName() string                 { return "Invoke" }
func (EntityAction) attributeName() string           { return "EntityAction" }
func (Ignore) attributeName() string                 { return "Ignore" }
func (RequiresAuthentication) attributeName() string { return "RequiresAuthentication" }
func (RequiresRole) attributeName() string           { return "RequiresRole" }
func (Validate) attributeName() string               { return "Validate" }
func (ValidateParam) attributeName() string          { return "ValidateParam" }
func (Params) attributeName() string                 { return "Params" }
func (KnownTypes) attributeName() string             { return "KnownTypes" }

// AttributeName returns the attribute's display name.
func AttributeName(a Attribute) string {
	if a == nil {
		return ""
	}
	return a.attributeName()
}

// IsAuthorizationAttribute reports whether a is an authorization rule.
func IsAuthorizationAttribute(a Attribute) bool {
	switch a.(type) {
	case RequiresAuthentication, RequiresRole:
		return true
	}
	return false
}

// OperationAttribute returns the operation kind an attribute declares, or
// OperationNone if it is not an operation attribute.
func OperationAttribute(a Attribute) DomainOperation {
	switch v := a.(type) {
	case Query:
		return OperationQuery
	case Insert:
		return OperationInsert
	case Update:
		if v.UsingCustomMethod {
			return OperationCustom
		}
		return OperationUpdate
	case Delete:
		return OperationDelete
	case Invoke:
		return OperationInvoke
	case EntityAction:
		return OperationCustom
	}
	return OperationNone
}

// OperationMetadata maps service method names to their attributes. A service
// exposes it through an Operations method.
type OperationMetadata map[string][]Attribute

// OperationDescriber is implemented by services that declare operation
// attributes explicitly.
type OperationDescriber interface {
	Operations() OperationMetadata
}

// ServiceAttributer is implemented by services carrying type-level
// attributes such as authorization rules or known entity types.
type ServiceAttributer interface {
	ServiceAttributes() []Attribute
}
