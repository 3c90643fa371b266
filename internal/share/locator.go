package share

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/pitabwire/ria/internal/typesys"
)

// SourceLocator resolves types and members to the files declaring them.
type SourceLocator interface {
	TypeFile(t *typesys.Type) (string, bool)
	MethodFile(t *typesys.Type, method string) (string, bool)
	ConstructorFile(t *typesys.Type) (string, bool)
}

// GoSourceLocator indexes the declarations of a Go module tree.
type GoSourceLocator struct {
	types map[string]string
	funcs map[string]string
}

// NewGoSourceLocator parses every non-test Go file below root, treating root
// as the directory of module modulePath.
func NewGoSourceLocator(modulePath, root string) (*GoSourceLocator, error) {
	l := &GoSourceLocator{types: make(map[string]string), funcs: make(map[string]string)}
	fset := token.NewFileSet()

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != root && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			return nil
		}
		f, err := parser.ParseFile(fset, p, nil, parser.SkipObjectResolution)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		rel, err := filepath.Rel(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		importPath := modulePath
		if rel != "." {
			importPath = path.Join(modulePath, filepath.ToSlash(rel))
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		l.index(importPath, abs, f)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (l *GoSourceLocator) index(importPath, file string, f *ast.File) {
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts := spec.(*ast.TypeSpec)
				l.types[importPath+"."+ts.Name.Name] = file
			}
		case *ast.FuncDecl:
			key := importPath + "." + d.Name.Name
			if d.Recv != nil && len(d.Recv.List) > 0 {
				key = importPath + "." + receiverName(d.Recv.List[0].Type) + "." + d.Name.Name
			}
			l.funcs[key] = file
		}
	}
}

func receiverName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.StarExpr:
		return receiverName(e.X)
	case *ast.IndexExpr:
		return receiverName(e.X)
	case *ast.IndexListExpr:
		return receiverName(e.X)
	case *ast.Ident:
		return e.Name
	}
	return ""
}

// TypeFile returns the file declaring the named type.
func (l *GoSourceLocator) TypeFile(t *typesys.Type) (string, bool) {
	f, ok := l.types[t.Namespace+"."+t.Name]
	return f, ok
}

// MethodFile returns the file declaring a method of t. Go has no overloads,
// so the name identifies the method.
func (l *GoSourceLocator) MethodFile(t *typesys.Type, method string) (string, bool) {
	f, ok := l.funcs[t.Namespace+"."+t.Name+"."+method]
	return f, ok
}

// ConstructorFile returns the file declaring the conventional constructor
// NewT of t.
func (l *GoSourceLocator) ConstructorFile(t *typesys.Type) (string, bool) {
	f, ok := l.funcs[t.Namespace+".New"+t.Name]
	return f, ok
}

// Locators consults each locator in order and returns the first match.
type Locators []SourceLocator

// TypeFile implements SourceLocator.
func (ls Locators) TypeFile(t *typesys.Type) (string, bool) {
	for _, l := range ls {
		if f, ok := l.TypeFile(t); ok {
			return f, true
		}
	}
	return "", false
}

// MethodFile implements SourceLocator.
func (ls Locators) MethodFile(t *typesys.Type, method string) (string, bool) {
	for _, l := range ls {
		if f, ok := l.MethodFile(t, method); ok {
			return f, true
		}
	}
	return "", false
}

// ConstructorFile implements SourceLocator.
func (ls Locators) ConstructorFile(t *typesys.Type) (string, bool) {
	for _, l := range ls {
		if f, ok := l.ConstructorFile(t); ok {
			return f, true
		}
	}
	return "", false
}
