package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/pitabwire/ria/internal/memo"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

var (
	contextType     = reflect.TypeFor[context.Context]()
	errorType       = reflect.TypeFor[error]()
	countType       = reflect.TypeFor[*int]()
	describerType   = reflect.TypeFor[model.OperationDescriber]()
	attributerType  = reflect.TypeFor[model.ServiceAttributer]()
	reservedMethods = map[string]bool{"Operations": true, "ServiceAttributes": true}
)

// Naming conventions used when a method declares no operation attribute.
var conventions = []struct {
	op       model.DomainOperation
	prefixes []string
}{
	{model.OperationQuery, []string{"Get", "Fetch", "Find", "Query", "Select", "List"}},
	{model.OperationInsert, []string{"Insert", "Add", "Create"}},
	{model.OperationUpdate, []string{"Update", "Change", "Modify"}},
	{model.OperationDelete, []string{"Delete", "Remove"}},
}

// Catalog describes domain services. Descriptions are computed once per
// service type and shared by every caller of the same Catalog.
type Catalog struct {
	universe     *typesys.Universe
	descriptions *memo.Cache[reflect.Type, *Description]
}

// New creates a catalog building type nodes into u.
func New(u *typesys.Universe) *Catalog {
	return &Catalog{
		universe: u,
		descriptions: memo.New[reflect.Type, *Description](
			func(rt reflect.Type) uint32 { return memo.StringHash(typeKey(rt)) },
			typeKey,
		),
	}
}

func typeKey(rt reflect.Type) string {
	return rt.PkgPath() + "." + rt.String()
}

// CacheStats reports hits and misses of the description cache.
func (c *Catalog) CacheStats() (hits, misses int64) { return c.descriptions.Stats() }

// Universe returns the catalog's type universe.
func (c *Catalog) Universe() *typesys.Universe { return c.universe }

// Describe returns the description of the service's type.
func (c *Catalog) Describe(service any) (*Description, error) {
	if service == nil {
		return nil, errors.New("describe: nil service")
	}
	return c.DescribeType(reflect.TypeOf(service))
}

// DescribeType returns the description of a service type. Pointer and value
// types share one description.
func (c *Catalog) DescribeType(rt reflect.Type) (*Description, error) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return c.descriptions.Get(rt, func() (*Description, error) {
		return c.describe(rt)
	})
}

func (c *Catalog) describe(rt reflect.Type) (*Description, error) {
	service := c.universe.FromReflect(rt)
	pt := reflect.PointerTo(rt)
	zero := reflect.New(rt)

	var metadata model.OperationMetadata
	if pt.Implements(describerType) {
		metadata = zero.Interface().(model.OperationDescriber).Operations()
	}
	var serviceAttrs []model.Attribute
	var known []*typesys.Type
	if pt.Implements(attributerType) {
		serviceAttrs = zero.Interface().(model.ServiceAttributer).ServiceAttributes()
		for _, a := range serviceAttrs {
			if kt, ok := a.(model.KnownTypes); ok {
				for _, v := range kt.Types {
					known = append(known, c.universe.FromReflect(reflect.TypeOf(v)))
				}
			}
		}
	}
	for name := range metadata {
		if _, ok := pt.MethodByName(name); !ok {
			return nil, fmt.Errorf("%s: operation metadata names unknown method %s", rt.Name(), name)
		}
	}

	var entries []*Entry
	var errs []error
	for i := 0; i < pt.NumMethod(); i++ {
		m := pt.Method(i)
		if reservedMethods[m.Name] {
			continue
		}
		e, err := c.entryFor(service, m, metadata[m.Name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", rt.Name(), m.Name, err))
			continue
		}
		if e != nil {
			entries = append(entries, e)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return NewDescription(service, serviceAttrs, entries, known...)
}

// signature is a method's shape after removing the receiver, a leading
// context, a trailing count pointer and a trailing error.
type signature struct {
	params       []reflect.Type
	result       reflect.Type
	hasContext   bool
	hasCount     bool
	returnsError bool
	isTask       bool
}

func parseSignature(mt reflect.Type) (signature, error) {
	var sig signature
	in := make([]reflect.Type, 0, mt.NumIn())
	for i := 1; i < mt.NumIn(); i++ {
		in = append(in, mt.In(i))
	}
	if len(in) > 0 && in[0] == contextType {
		sig.hasContext = true
		in = in[1:]
	}
	if len(in) > 0 && in[len(in)-1] == countType {
		sig.hasCount = true
		in = in[:len(in)-1]
	}
	if mt.IsVariadic() {
		return sig, errors.New("variadic methods cannot be operations")
	}
	for _, p := range in {
		switch p.Kind() {
		case reflect.Func, reflect.Chan, reflect.UnsafePointer:
			return sig, fmt.Errorf("parameter type %s is not serializable", p)
		}
	}
	sig.params = in

	out := make([]reflect.Type, 0, mt.NumOut())
	for i := 0; i < mt.NumOut(); i++ {
		out = append(out, mt.Out(i))
	}
	if len(out) > 0 && out[len(out)-1] == errorType {
		sig.returnsError = true
		out = out[:len(out)-1]
	}
	switch len(out) {
	case 0:
	case 1:
		sig.result = out[0]
		if inner, ok := model.TaskResultType(out[0]); ok {
			sig.isTask = true
			sig.result = inner
		}
	default:
		return sig, fmt.Errorf("operations return at most one value besides error, got %d", len(out))
	}
	return sig, nil
}

// entryFor classifies one method. It returns nil without error for methods
// that are ignored or that do not fit any operation shape and carry no
// operation attribute.
func (c *Catalog) entryFor(service *typesys.Type, m reflect.Method, attrs []model.Attribute) (*Entry, error) {
	explicit := model.OperationNone
	for _, a := range attrs {
		if _, ok := a.(model.Ignore); ok {
			return nil, nil
		}
		if op := model.OperationAttribute(a); op != model.OperationNone {
			explicit = op
		}
	}

	sig, err := parseSignature(m.Type)
	if err != nil {
		if explicit != model.OperationNone {
			return nil, err
		}
		return nil, nil
	}

	name := m.Name
	if sig.isTask {
		name = strings.TrimSuffix(name, "Async")
	}
	op := explicit
	if op == model.OperationNone {
		op = inferOperation(name, sig)
	}

	returnType := c.universe.Void()
	if sig.result != nil {
		returnType = c.universe.FromReflect(sig.result)
	}

	var names []string
	rules := make(map[int]string)
	for _, a := range attrs {
		switch v := a.(type) {
		case model.Params:
			names = v.Names
		case model.ValidateParam:
			rules[v.Index] = v.Rule
		}
	}
	params := make([]Parameter, len(sig.params))
	for i, p := range sig.params {
		params[i] = Parameter{Name: fmt.Sprintf("arg%d", i), Type: c.universe.FromReflect(p), Rule: rules[i]}
		if i < len(names) && names[i] != "" {
			params[i].Name = names[i]
		}
	}

	e, err := NewEntry(service, name, op, returnType, params, attrs)
	if err != nil {
		return nil, err
	}
	e.MethodName = m.Name
	e.IsTask = sig.isTask
	e.HasTotalCount = sig.hasCount
	e.hasContext = sig.hasContext
	e.returnsError = sig.returnsError
	return e, nil
}

// inferOperation applies naming conventions. A query must return an entity
// or a slice of entities; a CUD method takes exactly one struct and returns
// nothing. Anything else is an invoke operation.
func inferOperation(name string, sig signature) model.DomainOperation {
	for _, conv := range conventions {
		if !hasAnyPrefix(name, conv.prefixes) {
			continue
		}
		if conv.op == model.OperationQuery {
			if sig.result != nil && isStructOrStructSlice(sig.result) {
				return model.OperationQuery
			}
			continue
		}
		if len(sig.params) == 1 && sig.result == nil && isStruct(sig.params[0]) {
			return conv.op
		}
	}
	return model.OperationInvoke
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isStruct(rt reflect.Type) bool {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return rt.Kind() == reflect.Struct && rt.Name() != ""
}

func isStructOrStructSlice(rt reflect.Type) bool {
	if rt.Kind() == reflect.Slice || rt.Kind() == reflect.Array {
		return isStruct(rt.Elem())
	}
	return isStruct(rt)
}
