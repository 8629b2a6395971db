package domain

import (
	"errors"
	"fmt"
	"go/ast"
	"go/format"
	"go/token"
	"sort"
	"strings"

	"github.com/mikelane/gremlins/internal/model"
)

// ErrSwitchCollision reports a target file that already uses the
// gremlinswitch identifier, which the instrumented rendition needs for
// itself.
var ErrSwitchCollision = errors.New("gremlinswitch identifier already in use")

// SwitchPackageName is the identifier the instrumented code calls into.
const SwitchPackageName = "gremlinswitch"

// site couples one gremlin with the byte span its mutation replaces.
type site struct {
	gremlin model.Gremlin
	start   int
	end     int
	mutated string
}

// edit is a pending byte-range replacement in the original source.
type edit struct {
	start       int
	end         int
	replacement string
}

// instrument renders the runtime-switchable form of one file: every
// function containing gremlins becomes a switch with one case per
// gremlin and the original body as default; package-level initializers
// wrap in Value calls. Exactly one gremlin is ever active in a process,
// so variants never observe each other.
func instrument(src []byte, file *ast.File, fset *token.FileSet, sites []site, switchImport string) ([]byte, error) {
	if len(sites) == 0 {
		return nil, nil
	}
	if err := checkSwitchCollision(file); err != nil {
		return nil, err
	}

	funcSites, exprSites, err := bucketSites(file, fset, sites)
	if err != nil {
		return nil, err
	}

	edits := make([]edit, 0, len(funcSites)+len(exprSites)+1)
	for fn, fnSites := range funcSites {
		edits = append(edits, renderFuncSwitch(src, fset, fn, fnSites))
	}
	for span, spanSites := range exprSites {
		edits = append(edits, renderValueChain(src, span, spanSites))
	}
	edits = append(edits, edit{
		start:       offsetOf(fset, file.Name.End()),
		end:         offsetOf(fset, file.Name.End()),
		replacement: fmt.Sprintf("\n\nimport %s %q\n", SwitchPackageName, switchImport),
	})

	out := applyEdits(src, edits)

	formatted, err := format.Source(out)
	if err != nil {
		return nil, fmt.Errorf("failed to format instrumented source: %w", err)
	}
	return formatted, nil
}

func checkSwitchCollision(file *ast.File) error {
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		name := path[strings.LastIndex(path, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		if name == SwitchPackageName {
			return fmt.Errorf("%w: import %s", ErrSwitchCollision, imp.Path.Value)
		}
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil && d.Name.Name == SwitchPackageName {
				return fmt.Errorf("%w: func %s", ErrSwitchCollision, d.Name.Name)
			}
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				switch s := spec.(type) {
				case *ast.ValueSpec:
					for _, name := range s.Names {
						if name.Name == SwitchPackageName {
							return fmt.Errorf("%w: declaration %s", ErrSwitchCollision, name.Name)
						}
					}
				case *ast.TypeSpec:
					if s.Name.Name == SwitchPackageName {
						return fmt.Errorf("%w: type %s", ErrSwitchCollision, s.Name.Name)
					}
				}
			}
		}
	}
	return nil
}

type span struct {
	start, end int
}

// bucketSites splits sites into those inside function bodies, grouped by
// the declaring function, and those inside package-level initializer
// expressions, grouped by the initializer span.
func bucketSites(file *ast.File, fset *token.FileSet, sites []site) (map[*ast.FuncDecl][]site, map[span][]site, error) {
	funcSites := make(map[*ast.FuncDecl][]site)
	exprSites := make(map[span][]site)

	type initExpr struct{ start, end int }
	var inits []initExpr
	var funcs []*ast.FuncDecl
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Body != nil {
				funcs = append(funcs, d)
			}
		case *ast.GenDecl:
			if d.Tok != token.VAR {
				continue
			}
			for _, spec := range d.Specs {
				vs, ok := spec.(*ast.ValueSpec)
				if !ok {
					continue
				}
				for _, value := range vs.Values {
					inits = append(inits, initExpr{
						start: offsetOf(fset, value.Pos()),
						end:   offsetOf(fset, value.End()),
					})
				}
			}
		}
	}

next:
	for _, st := range sites {
		for _, fn := range funcs {
			bodyStart := offsetOf(fset, fn.Body.Lbrace) + 1
			bodyEnd := offsetOf(fset, fn.Body.Rbrace)
			if st.start >= bodyStart && st.end <= bodyEnd {
				funcSites[fn] = append(funcSites[fn], st)
				continue next
			}
		}
		for _, init := range inits {
			if st.start >= init.start && st.end <= init.end {
				key := span{start: init.start, end: init.end}
				exprSites[key] = append(exprSites[key], st)
				continue next
			}
		}
		return nil, nil, fmt.Errorf("gremlin %s is in neither a function body nor a var initializer", st.gremlin.ID)
	}

	return funcSites, exprSites, nil
}

// renderFuncSwitch rewrites one function body as a case-per-gremlin
// switch. Each case carries the whole body with exactly one mutation
// applied; the default branch is the untouched original.
func renderFuncSwitch(src []byte, fset *token.FileSet, fn *ast.FuncDecl, sites []site) edit {
	bodyStart := offsetOf(fset, fn.Body.Lbrace) + 1
	bodyEnd := offsetOf(fset, fn.Body.Rbrace)
	body := string(src[bodyStart:bodyEnd])

	sortSites(sites)

	var b strings.Builder
	b.WriteString("\nswitch {\n")
	for _, st := range sites {
		variant := body[:st.start-bodyStart] + st.mutated + body[st.end-bodyStart:]
		fmt.Fprintf(&b, "case %s.Enabled(%q):\n", SwitchPackageName, st.gremlin.ID)
		b.WriteString(variant)
		b.WriteString("\n")
	}
	b.WriteString("default:\n")
	b.WriteString(body)
	b.WriteString("\n}\n")

	return edit{start: bodyStart, end: bodyEnd, replacement: b.String()}
}

// renderValueChain wraps a package-level initializer so each gremlin
// selects its variant through Value. At most one gremlin is active, so
// chain order never matters.
func renderValueChain(src []byte, sp span, sites []site) edit {
	original := string(src[sp.start:sp.end])
	sortSites(sites)

	text := original
	for i := len(sites) - 1; i >= 0; i-- {
		st := sites[i]
		variant := original[:st.start-sp.start] + st.mutated + original[st.end-sp.start:]
		text = fmt.Sprintf("%s.Value(%q, %s, %s)", SwitchPackageName, st.gremlin.ID, variant, text)
	}

	return edit{start: sp.start, end: sp.end, replacement: text}
}

// applyEdits splices non-overlapping replacements, highest offset first
// so earlier offsets stay valid.
func applyEdits(src []byte, edits []edit) []byte {
	sort.Slice(edits, func(i, j int) bool {
		return edits[i].start > edits[j].start
	})

	out := append([]byte(nil), src...)
	for _, e := range edits {
		out = append(out[:e.start], append([]byte(e.replacement), out[e.end:]...)...)
	}
	return out
}

func sortSites(sites []site) {
	sort.Slice(sites, func(i, j int) bool {
		return sites[i].gremlin.ID < sites[j].gremlin.ID
	})
}

func offsetOf(fset *token.FileSet, pos token.Pos) int {
	return fset.Position(pos).Offset
}
