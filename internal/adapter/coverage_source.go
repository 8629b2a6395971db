package adapter

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mikelane/gremlins/internal/model"
	"github.com/mikelane/gremlins/pkg/spill"
)

// CoverageSource builds the per-test coverage map: which source lines
// each test executes, observed over one baseline run per test.
type CoverageSource interface {
	Collect(ctx context.Context, root model.Path, modulePath string, tests []model.TestInfo) (*model.CoverageMap, error)
}

// GoCoverageSource runs each test alone with a coverage profile and
// merges the profiles into one map. Line records spill to disk while
// collecting, so large suites do not hold the whole mapping in memory
// twice.
type GoCoverageSource struct {
	spillDir string
}

// NewGoCoverageSource constructs a GoCoverageSource spilling to the
// given directory, or the system temp directory when empty.
func NewGoCoverageSource(spillDir string) *GoCoverageSource {
	return &GoCoverageSource{spillDir: spillDir}
}

type coverRecord struct {
	File string
	Line int
	Test string
}

// Collect runs every test once against the pristine tree. A baseline
// failure aborts the run: mutants tested against a red suite would all
// look caught.
func (c *GoCoverageSource) Collect(ctx context.Context, root model.Path, modulePath string, tests []model.TestInfo) (*model.CoverageMap, error) {
	records, err := spill.New[coverRecord](c.spillDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open coverage spill: %w", err)
	}
	defer func() {
		if err := records.Close(); err != nil {
			slog.Error("Failed to close coverage spill", "error", err)
		}
	}()

	profileDir, err := os.MkdirTemp(c.spillDir, "gremlins-cover-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(profileDir) }()
	profile := filepath.Join(profileDir, "cover.out")

	started := time.Now()
	for _, test := range tests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.runOne(ctx, root, test, profile); err != nil {
			return nil, err
		}
		if err := c.spillProfile(profile, modulePath, test.Name, records); err != nil {
			return nil, err
		}
	}
	slog.Info("Baseline coverage collected",
		"tests", len(tests), "elapsed", time.Since(started).Round(time.Millisecond))

	cov := model.NewCoverageMap()
	err = records.Range(func(_ uint64, r coverRecord) error {
		cov.Add(model.Path(r.File), r.Line, r.Test)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to replay coverage records: %w", err)
	}
	return cov, nil
}

func (c *GoCoverageSource) runOne(ctx context.Context, root model.Path, test model.TestInfo, profile string) error {
	argv := []string{
		"test",
		"-run", "^" + test.Name + "$",
		"-count=1",
		"-coverpkg=./...",
		"-coverprofile=" + profile,
		pkgArg(test.Package),
	}
	cmd := exec.CommandContext(ctx, "go", argv...)
	cmd.Dir = string(root)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	slog.Debug("Collecting coverage", "test", test.Name, "package", test.Package)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("baseline run of %s failed: %w\n%s", test.Name, err, tailOf(out.String(), 2048))
	}
	return nil
}

// spillProfile records every line the profile marks executed. Profile
// entries name files by import path; only files inside the target
// module map back to relative paths.
func (c *GoCoverageSource) spillProfile(profile, modulePath, testName string, records spill.Spill[coverRecord]) error {
	f, err := os.Open(profile)
	if err != nil {
		return fmt.Errorf("failed to open coverage profile: %w", err)
	}
	defer func() { _ = f.Close() }()

	prefix := modulePath + "/"
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "mode:") || line == "" {
			continue
		}
		entry, ok := parseProfileLine(line)
		if !ok || entry.count == 0 {
			continue
		}
		rel, ok := strings.CutPrefix(entry.file, prefix)
		if !ok {
			continue
		}
		for l := entry.startLine; l <= entry.endLine; l++ {
			if err := records.Append(coverRecord{File: rel, Line: l, Test: testName}); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

type profileEntry struct {
	file      string
	startLine int
	endLine   int
	count     int
}

// parseProfileLine reads one "file:sl.sc,el.ec stmts count" entry.
func parseProfileLine(line string) (profileEntry, bool) {
	colon := strings.LastIndex(line, ":")
	if colon < 0 {
		return profileEntry{}, false
	}
	fields := strings.Fields(line[colon+1:])
	if len(fields) != 3 {
		return profileEntry{}, false
	}
	span, _, ok := strings.Cut(fields[0], ",")
	if !ok {
		return profileEntry{}, false
	}
	endSpan := fields[0][len(span)+1:]

	startLine, ok1 := lineOfSpan(span)
	endLine, ok2 := lineOfSpan(endSpan)
	count, err := strconv.Atoi(fields[2])
	if !ok1 || !ok2 || err != nil {
		return profileEntry{}, false
	}
	return profileEntry{
		file:      line[:colon],
		startLine: startLine,
		endLine:   endLine,
		count:     count,
	}, true
}

func lineOfSpan(span string) (int, bool) {
	num, _, ok := strings.Cut(span, ".")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return 0, false
	}
	return n, true
}

func tailOf(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}

func pkgArg(pkg string) string {
	if pkg == "" || pkg == "." {
		return "."
	}
	return "./" + filepath.ToSlash(pkg)
}
