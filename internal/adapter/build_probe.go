package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mikelane/gremlins/internal/model"
)

// ProbeReport is the outcome of compiling an instrumented tree. A
// non-OK report blames the gremlins whose switch cases broke the build;
// errors that map to no gremlin are structural and stop the run.
type ProbeReport struct {
	OK           bool
	Blamed       []string
	Unattributed []string
}

// BuildProbe verifies an instrumented tree still compiles. One
// type-blind variant can break the build for every gremlin sharing the
// tree, so broken variants must be found and expelled before any test
// runs.
type BuildProbe interface {
	Probe(ctx context.Context, treeRoot model.Path) (ProbeReport, error)
}

// GoBuildProbe probes with the go toolchain and attributes compile
// errors by scanning for the nearest activation marker above the
// failing line.
type GoBuildProbe struct{}

// NewGoBuildProbe constructs a GoBuildProbe.
func NewGoBuildProbe() *GoBuildProbe {
	return &GoBuildProbe{}
}

var (
	errLineRe = regexp.MustCompile(`^([^\s:]+\.go):(\d+)(?::\d+)?:`)
	markerRe  = regexp.MustCompile(`gremlinswitch\.Enabled\("([^"]+)"\)`)
)

func (p *GoBuildProbe) Probe(ctx context.Context, treeRoot model.Path) (ProbeReport, error) {
	cmd := exec.CommandContext(ctx, "go", "build", "./...")
	cmd.Dir = string(treeRoot)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return ProbeReport{OK: true}, nil
	}
	if ctx.Err() != nil {
		return ProbeReport{}, ctx.Err()
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ProbeReport{}, fmt.Errorf("failed to run build probe: %w", err)
	}

	return p.attribute(treeRoot, out.String()), nil
}

func (p *GoBuildProbe) attribute(treeRoot model.Path, output string) ProbeReport {
	blamed := make(map[string]struct{})
	var unattributed []string

	for _, line := range strings.Split(output, "\n") {
		m := errLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		file := strings.TrimPrefix(m[1], "./")
		errLine, convErr := strconv.Atoi(m[2])
		if convErr != nil {
			continue
		}
		if id := blameMarker(filepath.Join(string(treeRoot), file), errLine); id != "" {
			blamed[id] = struct{}{}
		} else {
			unattributed = append(unattributed, strings.TrimSpace(line))
		}
	}

	ids := make([]string, 0, len(blamed))
	for id := range blamed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ProbeReport{Blamed: ids, Unattributed: unattributed}
}

// blameMarker finds the nearest activation marker at or above errLine.
// Instrumented variants always sit directly below their marker, so the
// nearest one owns the error.
func blameMarker(path string, errLine int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if errLine > len(lines) {
		errLine = len(lines)
	}
	for i := errLine - 1; i >= 0; i-- {
		if m := markerRe.FindStringSubmatch(lines[i]); m != nil {
			return m[1]
		}
	}
	return ""
}
