package typesys

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/ria/model"
)

// Manifest describes the public types of one package that is compiled
// separately from the server, typically a package shared with clients.
type Manifest struct {
	Namespace string         `yaml:"namespace"`
	Types     []ManifestType `yaml:"types"`
}

// ManifestType is one type entry of a manifest.
type ManifestType struct {
	Name         string             `yaml:"name"`
	Kind         string             `yaml:"kind"`
	Base         string             `yaml:"base"`
	Outer        string             `yaml:"outer"`
	SourceFile   string             `yaml:"source_file"`
	Properties   []ManifestProperty `yaml:"properties"`
	Methods      []ManifestMethod   `yaml:"methods"`
	Constructors []ManifestMethod   `yaml:"constructors"`
	Values       []model.EnumMember `yaml:"values"`
}

// ManifestProperty is a property entry.
type ManifestProperty struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Key  bool   `yaml:"key"`
}

// ManifestMethod is a method or constructor entry. Params hold structural
// full names.
type ManifestMethod struct {
	Name       string   `yaml:"name"`
	Params     []string `yaml:"params"`
	SourceFile string   `yaml:"source_file"`
}

// LoadManifest decodes a YAML manifest.
func LoadManifest(r io.Reader) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadManifestFile reads a manifest from disk.
func LoadManifestFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest %s: %w", path, err)
	}
	defer f.Close()
	m, err := LoadManifest(f)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Validate checks that every type is named and has a known kind.
func (m *Manifest) Validate() error {
	var errs []error
	if m.Namespace == "" {
		errs = append(errs, errors.New("namespace is required"))
	}
	seen := make(map[string]bool, len(m.Types))
	for i, t := range m.Types {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("types[%d]: name is required", i))
			continue
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("types[%d]: duplicate type %s", i, t.Name))
		}
		seen[t.Name] = true
		if t.Kind != "" {
			if _, ok := ParseKind(t.Kind); !ok {
				errs = append(errs, fmt.Errorf("types[%d]: unknown kind %q", i, t.Kind))
			}
		}
	}
	return errors.Join(errs...)
}

// AddManifest defines every manifest type in the universe. Type references
// that do not resolve to a known type become named placeholders.
func (u *Universe) AddManifest(m *Manifest) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	nodes := make([]*Type, len(m.Types))
	for i, mt := range m.Types {
		kind := KindStruct
		if mt.Kind != "" {
			kind, _ = ParseKind(mt.Kind)
		}
		nodes[i] = &Type{
			Name:       mt.Name,
			Namespace:  m.Namespace,
			Kind:       kind,
			SourceFile: mt.SourceFile,
			EnumValues: mt.Values,
		}
	}
	for i, mt := range m.Types {
		if mt.Outer != "" {
			nodes[i].Outer = u.resolveName(m.Namespace, mt.Outer, nodes)
		}
	}
	for _, t := range nodes {
		if err := u.defineLocked(t); err != nil {
			return err
		}
	}

	for i, mt := range m.Types {
		t := nodes[i]
		if mt.Base != "" {
			t.Base = u.resolveName(m.Namespace, mt.Base, nodes)
		}
		for _, mp := range mt.Properties {
			t.Properties = append(t.Properties, &Property{
				Name:          mp.Name,
				JSONName:      mp.Name,
				Type:          u.resolveName(m.Namespace, mp.Type, nodes),
				DeclaringType: t,
				Key:           mp.Key,
			})
		}
		for _, mm := range mt.Methods {
			t.Methods = append(t.Methods, u.manifestMethod(m.Namespace, t, mm, false, nodes))
		}
		for _, mc := range mt.Constructors {
			mc.Name = t.Name
			t.Constructors = append(t.Constructors, u.manifestMethod(m.Namespace, t, mc, true, nodes))
		}
	}
	return nil
}

func (u *Universe) manifestMethod(ns string, t *Type, mm ManifestMethod, ctor bool, nodes []*Type) *Method {
	method := &Method{Name: mm.Name, DeclaringType: t, Constructor: ctor, SourceFile: mm.SourceFile}
	for _, p := range mm.Params {
		method.Params = append(method.Params, u.resolveName(ns, p, nodes))
	}
	return method
}

// resolveName finds a type by structural name. Unqualified names refer to
// the manifest's own namespace when a type of that name is declared there.
func (u *Universe) resolveName(ns, name string, local []*Type) *Type {
	for _, t := range local {
		if t.Name == name {
			return t
		}
	}
	if t, ok := u.byName[name]; ok {
		return t
	}
	if t, ok := u.byName[qualify(ns, name)]; ok {
		return t
	}
	if elem, args, isArray := ParseFullName(name); isArray {
		return u.intern(&Type{Kind: KindSlice, Elem: u.resolveName(ns, elem, local)})
	} else if len(args) > 0 {
		g := &Type{Kind: KindGeneric}
		if elem == "map" {
			g = &Type{Kind: KindMap}
			if len(args) == 2 {
				g.Key = u.resolveName(ns, args[0], local)
				g.Elem = u.resolveName(ns, args[1], local)
			}
			return u.intern(g)
		}
		g.Namespace, g.Name = splitFullName(elem)
		for _, a := range args {
			g.Args = append(g.Args, u.resolveName(ns, a, local))
		}
		return u.intern(g)
	}
	return u.placeholder(name)
}
