package adapter

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mikelane/gremlins/internal/model"
)

// GoSource inspects the target project's Go code.
type GoSource interface {
	// DiscoverTests returns every Test function under root with its
	// file and package directory, both relative to root, sorted by name.
	DiscoverTests(root model.Path) ([]model.TestInfo, error)
}

// LocalGoSource parses test files straight off the disk.
type LocalGoSource struct{}

// NewLocalGoSource constructs a LocalGoSource.
func NewLocalGoSource() *LocalGoSource {
	return &LocalGoSource{}
}

// DiscoverTests walks root for _test.go files and collects their Test
// functions.
func (a *LocalGoSource) DiscoverTests(root model.Path) ([]model.TestInfo, error) {
	var tests []model.TestInfo
	rootStr := string(root)

	err := filepath.Walk(rootStr, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		base := filepath.Base(path)
		if info.IsDir() {
			if path != rootStr && (skipDir(base) || base == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(base, "_test.go") {
			return nil
		}

		rel, err := filepath.Rel(rootStr, path)
		if err != nil {
			return err
		}
		found, err := testsInFile(path, model.Path(rel))
		if err != nil {
			return err
		}
		tests = append(tests, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover tests under %s: %w", root, err)
	}

	sort.Slice(tests, func(i, j int) bool {
		if tests[i].Name != tests[j].Name {
			return tests[i].Name < tests[j].Name
		}
		return tests[i].File < tests[j].File
	})
	return tests, nil
}

func testsInFile(path string, rel model.Path) ([]model.TestInfo, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	pkg := filepath.Dir(string(rel))
	var tests []model.TestInfo
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Recv != nil {
			continue
		}
		if !isTestFunc(fd) {
			continue
		}
		tests = append(tests, model.TestInfo{
			Name:    fd.Name.Name,
			File:    rel,
			Package: pkg,
		})
	}
	return tests, nil
}

// isTestFunc matches what the go tool treats as a test: a TestXxx
// function whose suffix does not start lowercase, taking one *testing.T.
func isTestFunc(fd *ast.FuncDecl) bool {
	name := fd.Name.Name
	if !strings.HasPrefix(name, "Test") {
		return false
	}
	if suffix := name[len("Test"):]; suffix != "" {
		r, _ := utf8.DecodeRuneInString(suffix)
		if unicode.IsLower(r) {
			return false
		}
	}

	params := fd.Type.Params
	if params == nil || len(params.List) != 1 || len(params.List[0].Names) > 1 {
		return false
	}
	star, ok := params.List[0].Type.(*ast.StarExpr)
	if !ok {
		return false
	}
	sel, ok := star.X.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "T" {
		return false
	}
	ident, ok := sel.X.(*ast.Ident)
	return ok && ident.Name == "testing"
}
