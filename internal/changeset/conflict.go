package changeset

import (
	"context"
	"reflect"

	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

// ConflictDetector checks an update or delete against the stored state of
// its entity before the domain operation runs. It returns a
// *model.ConflictError when the store no longer matches the client's
// original, model.ErrDeleteConflict when the entity is gone, and nil
// otherwise.
type ConflictDetector interface {
	DetectConflict(ctx context.Context, t *typesys.Type, original any) error
}

// Persister commits the entities of a change set that completed without
// errors.
type Persister interface {
	Persist(ctx context.Context, cs *model.ChangeSet) error
}

// DiffMembers returns the JSON member names of t whose values differ between
// a and b. When t declares concurrency members only those are compared.
// Association members are never compared.
func DiffMembers(t *typesys.Type, a, b any) []string {
	va, vb := indirect(reflect.ValueOf(a)), indirect(reflect.ValueOf(b))
	if !va.IsValid() || !vb.IsValid() || va.Type() != vb.Type() {
		return nil
	}

	props := t.ConcurrencyProperties()
	if len(props) == 0 {
		props = t.AllProperties()
	}
	var out []string
	for _, p := range props {
		if p.Association != nil {
			continue
		}
		fa, okA := FieldOf(va, t, p)
		fb, okB := FieldOf(vb, t, p)
		if !okA || !okB {
			continue
		}
		if !reflect.DeepEqual(fa.Interface(), fb.Interface()) {
			out = append(out, memberName(p))
		}
	}
	return out
}

func memberName(p *typesys.Property) string {
	if p.JSONName != "" {
		return p.JSONName
	}
	return p.Name
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
