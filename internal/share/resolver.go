package share

import (
	"path/filepath"

	"go.uber.org/zap"

	"github.com/pitabwire/ria/internal/memo"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

// Resolver computes share kinds. Results are memoized per member key for
// the lifetime of the resolver.
type Resolver struct {
	index       *ReferenceIndex
	locator     SourceLocator
	sharedFiles map[string]bool
	cache       *memo.Cache[model.CodeMemberKey, model.CodeMemberShareKind]
	logger      *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithReferenceIndex sets the index of referenced packages.
func WithReferenceIndex(x *ReferenceIndex) Option {
	return func(r *Resolver) { r.index = x }
}

// WithSourceLocator sets the locator used for types and members whose
// source file is not recorded on the node.
func WithSourceLocator(l SourceLocator) Option {
	return func(r *Resolver) { r.locator = l }
}

// WithSharedFiles registers the source files shared with the client.
func WithSharedFiles(files ...string) Option {
	return func(r *Resolver) {
		for _, f := range files {
			r.sharedFiles[normalizePath(f)] = true
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver. Without a reference index only builtin
// types are shared by reference.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		index:       NewReferenceIndex(),
		sharedFiles: make(map[string]bool),
		cache: memo.New[model.CodeMemberKey, model.CodeMemberShareKind](
			func(k model.CodeMemberKey) uint32 { return uint32(k.Hash()) },
			model.CodeMemberKey.String,
		),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func normalizePath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}

// CacheStats returns the memo hit and miss counters.
func (r *Resolver) CacheStats() (hits, misses int64) { return r.cache.Stats() }

func (r *Resolver) resolve(key model.CodeMemberKey, byReference func() bool, sourceFile func() (string, bool)) model.CodeMemberShareKind {
	return r.cache.MustGet(key, func() model.CodeMemberShareKind {
		kind := model.NotShared
		if byReference() {
			kind = model.SharedByReference
		} else if file, ok := sourceFile(); ok && file != "" && r.sharedFiles[normalizePath(file)] {
			kind = model.SharedBySource
		}
		r.logger.Debug("share kind resolved",
			zap.Stringer("member", key),
			zap.Stringer("kind", kind),
		)
		return kind
	})
}

// TypeShareKind resolves a type.
func (r *Resolver) TypeShareKind(t *typesys.Type) model.CodeMemberShareKind {
	name := t.FullName()
	return r.resolve(model.TypeKey(name),
		func() bool { return r.index.HasType(name) },
		func() (string, bool) { return r.typeFile(t) },
	)
}

// TypeShareKindByName resolves a type known only by its structural name.
// Only the reference strategy applies.
func (r *Resolver) TypeShareKindByName(fullName string) model.CodeMemberShareKind {
	return r.resolve(model.TypeKey(fullName),
		func() bool { return r.index.HasType(fullName) },
		func() (string, bool) { return "", false },
	)
}

// PropertyShareKind resolves a property visible on t, declared on t or an
// ancestor. Go fields live in the file declaring their struct.
func (r *Resolver) PropertyShareKind(t *typesys.Type, property string) model.CodeMemberShareKind {
	return r.resolve(model.PropertyKey(t.FullName(), property),
		func() bool { return r.index.HasProperty(t.FullName(), property) },
		func() (string, bool) {
			p, ok := t.Property(property)
			if !ok {
				return "", false
			}
			return r.typeFile(p.DeclaringType)
		},
	)
}

// MethodShareKind resolves a method of t or an ancestor, matched by name and
// parameter type names.
func (r *Resolver) MethodShareKind(t *typesys.Type, method string, params ...string) model.CodeMemberShareKind {
	return r.resolve(model.MethodKey(t.FullName(), method, params...),
		func() bool { return r.index.HasMethod(t.FullName(), method, params) },
		func() (string, bool) {
			for c := t; c != nil; c = c.Base {
				m, ok := c.Method(method, params...)
				if !ok {
					continue
				}
				if m.SourceFile != "" {
					return m.SourceFile, true
				}
				if r.locator != nil {
					return r.locator.MethodFile(c, method)
				}
				return "", false
			}
			return "", false
		},
	)
}

// ConstructorShareKind resolves a constructor declared by t itself.
func (r *Resolver) ConstructorShareKind(t *typesys.Type, params ...string) model.CodeMemberShareKind {
	return r.resolve(model.ConstructorKey(t.FullName(), params...),
		func() bool { return r.index.HasConstructor(t.FullName(), params) },
		func() (string, bool) {
			if c, ok := t.Constructor(params...); ok && c.SourceFile != "" {
				return c.SourceFile, true
			}
			if r.locator != nil {
				return r.locator.ConstructorFile(t)
			}
			return "", false
		},
	)
}

func (r *Resolver) typeFile(t *typesys.Type) (string, bool) {
	if t.SourceFile != "" {
		return t.SourceFile, true
	}
	if r.locator != nil {
		return r.locator.TypeFile(t)
	}
	return "", false
}
