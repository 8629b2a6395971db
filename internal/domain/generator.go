package domain

import (
	"bytes"
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/mikelane/gremlins/internal/model"
	"github.com/mikelane/gremlins/internal/operator"
)

// IgnoreMarker disables generation via source comments. On its own it
// suppresses every operator; followed by operator names it suppresses
// only those. It applies to the whole file in the package doc comment,
// to one function in its doc comment, and to one line when trailing or
// directly above it.
const IgnoreMarker = "gremlins:ignore"

// FileMutation is the generation outcome for one source file.
type FileMutation struct {
	Path     model.Path
	Gremlins []model.Gremlin
	// Instrumented is the runtime-switchable rendition of the file,
	// nil when the file produced no gremlins.
	Instrumented []byte
}

// Generator turns Go source into gremlins plus an instrumented
// rendition in which any single gremlin can be activated at process
// start.
type Generator interface {
	GenerateFile(ctx context.Context, path model.Path, src []byte) (FileMutation, error)

	// Reinstrument regenerates the instrumented rendition with the given
	// gremlins left out. Ids are assigned before the exclusion filter, so
	// survivors keep the ids GenerateFile handed out. Returns nil when no
	// gremlin survives the filter.
	Reinstrument(ctx context.Context, path model.Path, src []byte, exclude map[string]bool) ([]byte, error)
}

type generator struct {
	operators    []operator.Operator
	switchImport string
}

// NewGenerator builds a generator applying the given operators in
// order. switchImport is the import path the instrumented code calls
// for gremlin activation checks.
func NewGenerator(operators []operator.Operator, switchImport string) Generator {
	return &generator{operators: operators, switchImport: switchImport}
}

func (g *generator) GenerateFile(ctx context.Context, path model.Path, src []byte) (FileMutation, error) {
	if err := ctx.Err(); err != nil {
		return FileMutation{}, err
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, string(path), src, parser.ParseComments)
	if err != nil {
		return FileMutation{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	ignore := buildIgnoreIndex(file, fset)
	if ignore.file.ignoresAll() {
		slog.Debug("Skipping ignored file", "file", path)
		return FileMutation{Path: path}, nil
	}

	sites := g.collectSites(path, file, fset, src, ignore)
	if len(sites) == 0 {
		return FileMutation{Path: path}, nil
	}

	gremlins := make([]model.Gremlin, len(sites))
	for i, st := range sites {
		gremlins[i] = st.gremlin
	}

	instrumented, err := instrument(src, file, fset, sites, g.switchImport)
	if err != nil {
		return FileMutation{}, fmt.Errorf("failed to instrument %s: %w", path, err)
	}

	return FileMutation{Path: path, Gremlins: gremlins, Instrumented: instrumented}, nil
}

func (g *generator) Reinstrument(ctx context.Context, path model.Path, src []byte, exclude map[string]bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, string(path), src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	ignore := buildIgnoreIndex(file, fset)
	if ignore.file.ignoresAll() {
		return nil, nil
	}

	var kept []site
	for _, st := range g.collectSites(path, file, fset, src, ignore) {
		if exclude[st.gremlin.ID] {
			continue
		}
		kept = append(kept, st)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	instrumented, err := instrument(src, file, fset, kept, g.switchImport)
	if err != nil {
		return nil, fmt.Errorf("failed to instrument %s: %w", path, err)
	}
	return instrumented, nil
}

type rawSite struct {
	opIdx int
	op    string
	cand  operator.Candidate
}

func (g *generator) collectSites(path model.Path, file *ast.File, fset *token.FileSet, src []byte, ignore ignoreIndex) []site {
	skips := skipSpans(file, fset)
	funcs := indexFuncs(file, fset, ignore)

	var raw []rawSite
	ast.Inspect(file, func(n ast.Node) bool {
		if n == nil {
			return true
		}

		// Fully ignored functions are not worth traversing.
		if fd, ok := n.(*ast.FuncDecl); ok {
			if rule, ok := ignore.funcByPos[fd.Pos()]; ok && rule.ignoresAll() {
				return false
			}
		}

		for idx, op := range g.operators {
			if ignore.file.ignores(op.Name()) {
				continue
			}
			for _, cand := range op.Candidates(n, fset, src) {
				if ignore.line[cand.Line].ignores(op.Name()) {
					continue
				}
				if intersectsAny(skips, cand.Start, cand.End) {
					continue
				}
				if fn := funcs.enclosing(cand.Start, cand.End); fn != nil {
					if fn.hasLabel {
						slog.Debug("Skipping gremlin in labeled function",
							"file", path, "line", cand.Line, "operator", op.Name())
						continue
					}
					if fn.rule.ignores(op.Name()) {
						continue
					}
				}
				raw = append(raw, rawSite{opIdx: idx, op: op.Name(), cand: cand})
			}
		}
		return true
	})

	sort.Slice(raw, func(i, j int) bool {
		if raw[i].cand.Start != raw[j].cand.Start {
			return raw[i].cand.Start < raw[j].cand.Start
		}
		if raw[i].cand.End != raw[j].cand.End {
			return raw[i].cand.End < raw[j].cand.End
		}
		if raw[i].opIdx != raw[j].opIdx {
			return raw[i].opIdx < raw[j].opIdx
		}
		return raw[i].cand.Mutated < raw[j].cand.Mutated
	})

	sites := make([]site, len(raw))
	for i, r := range raw {
		id := model.GremlinID(path, i+1)
		sites[i] = site{
			gremlin: model.Gremlin{
				ID:          id,
				File:        path,
				Line:        r.cand.Line,
				Original:    r.cand.Original,
				Mutated:     r.cand.Mutated,
				Operator:    r.op,
				Description: r.cand.Description,
				Diff:        renderDiff(path, src, r.cand),
			},
			start:   r.cand.Start,
			end:     r.cand.End,
			mutated: r.cand.Mutated,
		}
	}
	return sites
}

// renderDiff shows the affected source lines before and after the
// mutation as a unified diff.
func renderDiff(path model.Path, src []byte, cand operator.Candidate) string {
	lineStart := bytes.LastIndexByte(src[:cand.Start], '\n') + 1
	lineEnd := len(src)
	if i := bytes.IndexByte(src[cand.End:], '\n'); i >= 0 {
		lineEnd = cand.End + i
	}

	before := string(src[lineStart:lineEnd])
	after := before[:cand.Start-lineStart] + cand.Mutated + before[cand.End-lineStart:]

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before + "\n"),
		B:        difflib.SplitLines(after + "\n"),
		FromFile: string(path),
		ToFile:   string(path),
		Context:  0,
	})
	if err != nil {
		return ""
	}
	return diff
}

// skipSpans lists byte ranges where mutations cannot be switched at
// runtime: const initializers and array lengths both require compile
// time constants.
func skipSpans(file *ast.File, fset *token.FileSet) []span {
	var spans []span
	ast.Inspect(file, func(n ast.Node) bool {
		switch d := n.(type) {
		case *ast.GenDecl:
			if d.Tok == token.CONST {
				spans = append(spans, span{
					start: offsetOf(fset, d.Pos()),
					end:   offsetOf(fset, d.End()),
				})
				return false
			}
		case *ast.ArrayType:
			if d.Len != nil {
				spans = append(spans, span{
					start: offsetOf(fset, d.Len.Pos()),
					end:   offsetOf(fset, d.Len.End()),
				})
			}
		}
		return true
	})
	return spans
}

func intersectsAny(spans []span, start, end int) bool {
	for _, sp := range spans {
		if start < sp.end && end > sp.start {
			return true
		}
	}
	return false
}

type funcInfo struct {
	start, end int
	hasLabel   bool
	rule       ignoreRule
}

type funcIndex []funcInfo

func indexFuncs(file *ast.File, fset *token.FileSet, ignore ignoreIndex) funcIndex {
	var funcs funcIndex
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}
		info := funcInfo{
			start: offsetOf(fset, fd.Body.Lbrace) + 1,
			end:   offsetOf(fset, fd.Body.Rbrace),
			rule:  ignore.funcByPos[fd.Pos()],
		}
		ast.Inspect(fd.Body, func(n ast.Node) bool {
			if _, ok := n.(*ast.LabeledStmt); ok {
				info.hasLabel = true
				return false
			}
			return true
		})
		funcs = append(funcs, info)
	}
	return funcs
}

func (fi funcIndex) enclosing(start, end int) *funcInfo {
	for i := range fi {
		if start >= fi[i].start && end <= fi[i].end {
			return &fi[i]
		}
	}
	return nil
}

// ignoreRule is one parsed annotation: all operators, or a named set.
type ignoreRule struct {
	all bool
	ops map[string]struct{}
}

func (r ignoreRule) ignores(op string) bool {
	if r.all {
		return true
	}
	_, ok := r.ops[op]
	return ok
}

func (r ignoreRule) ignoresAll() bool {
	return r.all
}

type ignoreIndex struct {
	file      ignoreRule
	funcByPos map[token.Pos]ignoreRule
	line      map[int]ignoreRule
}

// buildIgnoreIndex reads every annotation comment in the file. A rule in
// the package doc covers the file, one in a function doc covers that
// function, any other placement covers its own line and the next.
func buildIgnoreIndex(file *ast.File, fset *token.FileSet) ignoreIndex {
	idx := ignoreIndex{
		funcByPos: make(map[token.Pos]ignoreRule),
		line:      make(map[int]ignoreRule),
	}

	docs := make(map[*ast.CommentGroup]token.Pos)
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Doc != nil {
			docs[fd.Doc] = fd.Pos()
		}
	}

	for _, group := range file.Comments {
		rule, ok := parseIgnoreRule(group)
		if !ok {
			continue
		}
		switch {
		case group == file.Doc:
			idx.file = rule
		default:
			if pos, isDoc := docs[group]; isDoc {
				idx.funcByPos[pos] = rule
				continue
			}
			line := fset.Position(group.End()).Line
			idx.line[line] = rule
			idx.line[line+1] = rule
		}
	}
	return idx
}

func parseIgnoreRule(group *ast.CommentGroup) (ignoreRule, bool) {
	for _, comment := range group.List {
		i := strings.Index(comment.Text, IgnoreMarker)
		if i < 0 {
			continue
		}
		rest := strings.TrimSuffix(comment.Text[i+len(IgnoreMarker):], "*/")
		names := strings.Fields(rest)
		if len(names) == 0 {
			return ignoreRule{all: true}, true
		}
		ops := make(map[string]struct{}, len(names))
		for _, name := range names {
			ops[name] = struct{}{}
		}
		return ignoreRule{ops: ops}, true
	}
	return ignoreRule{}, false
}
