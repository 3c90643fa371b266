package gogen

import (
	"reflect"
	"testing"
)

func TestParamName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"id", "id"},
		{"ProductID", "productID"},
		{"type", "typeArg"},
		{"ctx", "ctxArg"},
		{"e", "eArg"},
		{"first-name", "firstname"},
		{"9lives", "lives"},
		{"", "arg"},
	}
	for _, tt := range tests {
		if got := paramName(tt.in); got != tt.want {
			t.Errorf("paramName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGroupImports(t *testing.T) {
	got := groupImports([]string{"context", "github.com/google/uuid", "github.com/pitabwire/ria/client", "time"})
	want := [][]string{
		{"context", "time"},
		{"github.com/google/uuid", "github.com/pitabwire/ria/client"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("groupImports = %v, want %v", got, want)
	}
	if got := groupImports(nil); got != nil {
		t.Errorf("groupImports(nil) = %v", got)
	}
}

func TestIsBasicKind(t *testing.T) {
	for _, k := range []string{"string", "int64", "float32", "bool"} {
		if !isBasicKind(k) {
			t.Errorf("isBasicKind(%q) = false", k)
		}
	}
	for _, k := range []string{"struct", "array", "complex128"} {
		if isBasicKind(k) {
			t.Errorf("isBasicKind(%q) = true", k)
		}
	}
}
