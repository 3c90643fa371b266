package transport

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

const componentPrefix = "#/components/schemas/"

// OpenAPIDocument describes the HTTP surface of one domain service. Paths are
// relative to the service's server URL, /services/{name}. Queries whose
// parameters are all simple are GET operations with query parameters; other
// queries and every invoke take a JSON object body keyed by parameter name.
func OpenAPIDocument(desc *catalog.Description) *openapi3.T {
	b := &schemaBuilder{
		schemas: openapi3.Schemas{},
		names:   make(map[*typesys.Type]string),
		taken:   make(map[string]bool),
	}
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   desc.Name(),
			Version: observability.Version,
		},
		Servers: openapi3.Servers{{URL: "/services/" + desc.Name()}},
		Paths:   openapi3.NewPaths(),
	}
	errorRef := b.errorEnvelope()

	for _, op := range desc.QueryOperations() {
		o := newOperation(op, "query")
		if allSimple(op.Parameters) {
			for _, p := range op.Parameters {
				param := openapi3.NewQueryParameter(p.Name)
				param.Schema = b.ref(p.Type)
				o.AddParameter(param)
			}
			doc.AddOperation("/query/"+op.Name, http.MethodGet, o)
		} else {
			o.RequestBody = &openapi3.RequestBodyRef{Value: b.argumentsBody(op)}
			doc.AddOperation("/query/"+op.Name, http.MethodPost, o)
		}
		list := openapi3.NewArraySchema()
		list.Items = b.ref(op.ReturnType.ElementType())
		results := openapi3.NewObjectSchema().
			WithProperty("results", list).
			WithProperty("total_count", openapi3.NewIntegerSchema())
		results.Required = []string{"results", "total_count"}
		o.Responses = respond(results, errorRef)
	}

	for _, op := range desc.InvokeOperations() {
		o := newOperation(op, "invoke")
		if len(op.Parameters) > 0 {
			o.RequestBody = &openapi3.RequestBodyRef{Value: b.argumentsBody(op)}
		}
		result := openapi3.NewObjectSchema()
		if op.ReturnType != nil {
			result.Properties = openapi3.Schemas{"result": b.ref(op.ReturnType)}
		}
		o.Responses = respond(result, errorRef)
		doc.AddOperation("/invoke/"+op.Name, http.MethodPost, o)
	}

	if len(desc.EntityTypes()) > 0 {
		doc.AddOperation("/submit", http.MethodPost, b.submitOperation(desc, errorRef))
	}

	doc.Components = &openapi3.Components{
		Schemas: b.schemas,
		SecuritySchemes: openapi3.SecuritySchemes{
			"bearer": &openapi3.SecuritySchemeRef{Value: openapi3.NewJWTSecurityScheme()},
		},
	}
	return doc
}

func (h *Host) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	reg, err := h.lookup(chi.URLParam(r, "service"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, OpenAPIDocument(reg.desc))
}

func newOperation(op *catalog.Entry, kind string) *openapi3.Operation {
	o := openapi3.NewOperation()
	o.OperationID = op.Name
	o.Tags = []string{kind}
	if op.RequiresAuthorization() {
		o.Security = &openapi3.SecurityRequirements{{"bearer": []string{}}}
	}
	return o
}

func respond(body *openapi3.Schema, errorRef *openapi3.SchemaRef) *openapi3.Responses {
	return openapi3.NewResponses(
		openapi3.WithStatus(http.StatusOK, &openapi3.ResponseRef{
			Value: openapi3.NewResponse().WithDescription("OK").WithJSONSchema(body),
		}),
		openapi3.WithName("default", openapi3.NewResponse().
			WithDescription("Error").
			WithJSONSchemaRef(errorRef)),
	)
}

func allSimple(params []catalog.Parameter) bool {
	for _, p := range params {
		if !p.Type.IsSimple() {
			return false
		}
	}
	return true
}

// schemaBuilder maps type nodes onto schemas. Named structs and enums become
// components referenced by name; everything else is inlined.
type schemaBuilder struct {
	schemas openapi3.Schemas
	names   map[*typesys.Type]string
	taken   map[string]bool
}

func (b *schemaBuilder) argumentsBody(op *catalog.Entry) *openapi3.RequestBody {
	args := openapi3.NewObjectSchema()
	args.Properties = make(openapi3.Schemas, len(op.Parameters))
	for _, p := range op.Parameters {
		args.Properties[p.Name] = b.ref(p.Type)
		if strings.Contains(p.Rule, "required") {
			args.Required = append(args.Required, p.Name)
		}
	}
	return openapi3.NewRequestBody().WithJSONSchema(args).WithRequired(len(args.Required) > 0)
}

func (b *schemaBuilder) submitOperation(desc *catalog.Description, errorRef *openapi3.SchemaRef) *openapi3.Operation {
	typeNames := make([]any, 0, len(desc.EntityTypes()))
	entities := make(openapi3.SchemaRefs, 0, len(desc.EntityTypes()))
	for _, t := range desc.EntityTypes() {
		typeNames = append(typeNames, t.Name)
		entities = append(entities, b.ref(t))
	}
	operations := []any{
		model.OperationInsert.String(),
		model.OperationUpdate.String(),
		model.OperationDelete.String(),
	}
	entity := &openapi3.Schema{OneOf: entities}

	request := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewIntegerSchema()).
		WithProperty("operation", openapi3.NewStringSchema().WithEnum(operations...)).
		WithProperty("type", openapi3.NewStringSchema().WithEnum(typeNames...)).
		WithProperty("entity", entity).
		WithProperty("original_entity", entity).
		WithProperty("has_member_changes", openapi3.NewBoolSchema()).
		WithProperty("entity_actions", openapi3.NewArraySchema().WithItems(
			openapi3.NewObjectSchema().
				WithProperty("name", openapi3.NewStringSchema()).
				WithProperty("args", openapi3.NewArraySchema().WithItems(openapi3.NewSchema())))).
		WithProperty("associations", openapi3.NewObjectSchema().WithAdditionalProperties(
			openapi3.NewArraySchema().WithItems(openapi3.NewIntegerSchema())))
	request.Required = []string{"id", "operation", "type"}

	result := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewIntegerSchema()).
		WithProperty("operation", openapi3.NewStringSchema().WithEnum(operations...)).
		WithProperty("type", openapi3.NewStringSchema()).
		WithProperty("entity", entity).
		WithProperty("store_entity", entity).
		WithProperty("state", openapi3.NewStringSchema()).
		WithProperty("conflict_members", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
		WithProperty("is_delete_conflict", openapi3.NewBoolSchema()).
		WithProperty("validation_errors", openapi3.NewArraySchema().WithItems(
			openapi3.NewObjectSchema().
				WithProperty("message", openapi3.NewStringSchema()).
				WithProperty("members", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema())).
				WithProperty("error_code", openapi3.NewStringSchema())))

	body := openapi3.NewObjectSchema().
		WithProperty("entries", openapi3.NewArraySchema().WithItems(request).WithMinItems(1)).
		WithProperty("idempotency_key", openapi3.NewStringSchema())
	body.Required = []string{"entries"}

	o := openapi3.NewOperation()
	o.OperationID = "Submit"
	o.Tags = []string{"submit"}
	o.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().WithJSONSchema(body).WithRequired(true)}
	o.Responses = respond(openapi3.NewObjectSchema().
		WithProperty("entries", openapi3.NewArraySchema().WithItems(result)).
		WithProperty("has_error", openapi3.NewBoolSchema()), errorRef)
	return o
}

func (b *schemaBuilder) errorEnvelope() *openapi3.SchemaRef {
	field := openapi3.NewObjectSchema().
		WithProperty("field", openapi3.NewStringSchema()).
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema())
	envelope := openapi3.NewObjectSchema().
		WithProperty("code", openapi3.NewStringSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("details", openapi3.NewArraySchema().WithItems(field)).
		WithProperty("trace_id", openapi3.NewStringSchema())
	envelope.Required = []string{"code", "message"}

	s := openapi3.NewObjectSchema().WithProperty("error", envelope)
	s.Required = []string{"error"}
	b.schemas["ErrorResponse"] = openapi3.NewSchemaRef("", s)
	b.taken["ErrorResponse"] = true
	return openapi3.NewSchemaRef(componentPrefix+"ErrorResponse", s)
}

// ref returns the schema of t, registering named types as components.
func (b *schemaBuilder) ref(t *typesys.Type) *openapi3.SchemaRef {
	if t == nil {
		return openapi3.NewSchemaRef("", openapi3.NewSchema())
	}
	switch t.Kind {
	case typesys.KindPrimitive:
		return openapi3.NewSchemaRef("", primitiveSchema(t))
	case typesys.KindSlice, typesys.KindArray:
		if t.Elem.Kind == typesys.KindPrimitive && t.Elem.Name == "uint8" {
			return openapi3.NewSchemaRef("", openapi3.NewBytesSchema())
		}
		s := openapi3.NewArraySchema()
		s.Items = b.ref(t.Elem)
		return openapi3.NewSchemaRef("", s)
	case typesys.KindMap:
		s := openapi3.NewObjectSchema()
		s.AdditionalProperties = openapi3.AdditionalProperties{Schema: b.ref(t.Elem)}
		return openapi3.NewSchemaRef("", s)
	case typesys.KindInterface:
		return openapi3.NewSchemaRef("", openapi3.NewSchema())
	}

	if name, ok := b.names[t]; ok {
		return openapi3.NewSchemaRef(componentPrefix+name, b.schemas[name].Value)
	}
	name := b.componentName(t)
	s := openapi3.NewSchema()
	b.names[t] = name
	b.schemas[name] = openapi3.NewSchemaRef("", s)

	if t.Kind == typesys.KindEnum {
		s.Type = &openapi3.Types{openapi3.TypeInteger}
		labels := make([]string, 0, len(t.EnumValues))
		for _, m := range t.EnumValues {
			s.Enum = append(s.Enum, float64(m.Value))
			labels = append(labels, fmt.Sprintf("%d=%s", m.Value, m.Name))
		}
		s.Description = strings.Join(labels, ", ")
	} else {
		s.Type = &openapi3.Types{openapi3.TypeObject}
		s.Properties = openapi3.Schemas{}
		for _, p := range t.AllProperties() {
			prop := b.ref(p.Type)
			if p.ReadOnly && prop.Ref == "" {
				prop.Value.ReadOnly = true
			}
			s.Properties[p.JSONName] = prop
			if p.Key || strings.Contains(p.Validate, "required") {
				s.Required = append(s.Required, p.JSONName)
			}
		}
	}
	return openapi3.NewSchemaRef(componentPrefix+name, s)
}

// componentName reserves a component key derived from the type's qualified
// name and type arguments.
func (b *schemaBuilder) componentName(t *typesys.Type) string {
	base := sanitizeComponent(t)
	name := base
	for i := 2; b.taken[name]; i++ {
		name = fmt.Sprintf("%s%d", base, i)
	}
	b.taken[name] = true
	return name
}

// sanitizeComponent maps a type onto the characters allowed in component
// keys: letters, digits and ".-_".
func sanitizeComponent(t *typesys.Type) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, t.QualifiedName())
	for _, a := range t.Args {
		base += "_" + sanitizeComponent(a)
	}
	return base
}

func primitiveSchema(t *typesys.Type) *openapi3.Schema {
	if t.Reflect != nil {
		switch t.Reflect.Kind() {
		case reflect.Bool:
			return openapi3.NewBoolSchema()
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
			return openapi3.NewInt32Schema()
		case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
			return openapi3.NewInt64Schema()
		case reflect.Float32, reflect.Float64:
			return openapi3.NewFloat64Schema()
		}
	}
	switch t.FullName() {
	case "time.Time":
		return openapi3.NewDateTimeSchema()
	case "github.com/google/uuid.UUID":
		return openapi3.NewUUIDSchema()
	case "bool":
		return openapi3.NewBoolSchema()
	case "int", "int64", "uint", "uint32", "uint64":
		return openapi3.NewInt64Schema()
	case "int8", "int16", "int32", "uint8", "uint16":
		return openapi3.NewInt32Schema()
	case "float32", "float64":
		return openapi3.NewFloat64Schema()
	}
	return openapi3.NewStringSchema()
}
