// Package adapter contains filesystem, toolchain and code-emission
// adapters backing the mutation workflow.
package adapter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mikelane/gremlins/internal/model"
)

// SourceFS abstracts the filesystem operations the domain layer needs
// when scanning user projects and building instrumented copies. It
// hides direct os access so workflow logic can be tested without
// touching the disk.
type SourceFS interface {
	// ListGoFiles returns the non-test .go files under root as paths
	// relative to root, sorted. Hidden, vendor and testdata directories
	// are skipped.
	ListGoFiles(root model.Path) ([]model.Path, error)

	// ReadFile loads a file from disk.
	ReadFile(path model.Path) ([]byte, error)

	// WriteFile writes content with the given permissions, creating
	// parent directories as needed.
	WriteFile(path model.Path, content []byte, perm os.FileMode) error

	// FindProjectRoot walks up from startPath to the nearest directory
	// holding a go.mod.
	FindProjectRoot(startPath model.Path) (model.Path, error)

	// CreateTempDir creates a scratch directory for one run.
	CreateTempDir(pattern string) (model.Path, error)

	// RemoveAll removes a directory tree.
	RemoveAll(path model.Path) error

	// CopyTree recursively copies a project tree. VCS metadata is
	// skipped; vendored dependencies are kept so the copy still builds.
	CopyTree(src, dst model.Path) error

	// RelPath returns target relative to base.
	RelPath(base, target model.Path) (model.Path, error)

	// JoinPath joins path elements.
	JoinPath(elem ...string) model.Path
}

// LocalSourceFS implements SourceFS on the host filesystem.
type LocalSourceFS struct{}

// NewLocalSourceFS constructs a LocalSourceFS ready to be wired into
// the workflow.
func NewLocalSourceFS() *LocalSourceFS {
	return &LocalSourceFS{}
}

// skipDir lists directory names never worth scanning or copying into an
// instrumented tree.
func skipDir(name string) bool {
	if strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	switch name {
	case "testdata", "node_modules":
		return true
	}
	return false
}

// ListGoFiles returns the project's mutable source files relative to root.
func (a *LocalSourceFS) ListGoFiles(root model.Path) ([]model.Path, error) {
	var files []model.Path
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
		if !strings.HasSuffix(base, ".go") || strings.HasSuffix(base, "_test.go") {
			return nil
		}
		rel, err := filepath.Rel(rootStr, path)
		if err != nil {
			return err
		}
		files = append(files, model.Path(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return files, nil
}

// ReadFile loads file contents from disk.
func (a *LocalSourceFS) ReadFile(path model.Path) ([]byte, error) {
	return os.ReadFile(string(path))
}

// WriteFile writes content to a file, creating parent directories.
func (a *LocalSourceFS) WriteFile(path model.Path, content []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(string(path)), 0o750); err != nil {
		return err
	}
	return os.WriteFile(string(path), content, perm)
}

// FindProjectRoot searches for a go.mod walking up the directory tree.
func (a *LocalSourceFS) FindProjectRoot(startPath model.Path) (model.Path, error) {
	dir := string(startPath)
	if info, err := os.Stat(dir); err != nil {
		return "", err
	} else if !info.IsDir() {
		dir = filepath.Dir(dir)
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return model.Path(dir), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory of %s", startPath)
		}
		dir = parent
	}
}

// CreateTempDir creates a temporary directory for one mutation run.
func (a *LocalSourceFS) CreateTempDir(pattern string) (model.Path, error) {
	tmpDir, err := os.MkdirTemp("", pattern)
	if err != nil {
		return "", err
	}
	return model.Path(tmpDir), nil
}

// RemoveAll removes a directory and all its contents.
func (a *LocalSourceFS) RemoveAll(path model.Path) error {
	return os.RemoveAll(string(path))
}

// CopyTree recursively copies a project tree. Vendored dependencies are
// copied because the instrumented tree must still build.
func (a *LocalSourceFS) CopyTree(src, dst model.Path) error {
	return filepath.Walk(string(src), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(string(src), path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if rel != "." && skipDir(filepath.Base(path)) {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(string(dst), rel), info.Mode())
		}
		return copyFile(path, filepath.Join(string(dst), rel), info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = sourceFile.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = destFile.Close() }()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return os.Chmod(dst, mode)
}

// RelPath returns the relative path from base to target.
func (a *LocalSourceFS) RelPath(base, target model.Path) (model.Path, error) {
	rel, err := filepath.Rel(string(base), string(target))
	if err != nil {
		return "", err
	}
	return model.Path(rel), nil
}

// JoinPath joins path elements into a single path.
func (a *LocalSourceFS) JoinPath(elem ...string) model.Path {
	return model.Path(filepath.Join(elem...))
}
