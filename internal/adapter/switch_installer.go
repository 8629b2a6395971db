package adapter

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/mod/modfile"

	"github.com/mikelane/gremlins/internal/model"
)

// ActiveEnvVar names the environment variable carrying the active
// gremlin id. A worker process reads it exactly once, at start; nothing
// can re-target a running process.
const ActiveEnvVar = "GREMLINS_MUTANT"

// switchDirName is the directory the runtime package is emitted into,
// directly under the instrumented tree's module root.
const switchDirName = "gremlinswitch"

// switchSource is the whole runtime package. Enabled compares against a
// value captured at process start, so activation is immutable within a
// process and unrelated gremlins never observe each other.
const switchSource = `// Code generated by gremlins. DO NOT EDIT.

// Package gremlinswitch routes instrumented code to the single active
// gremlin of this process, if any.
package gremlinswitch

import "os"

var active = os.Getenv("` + ActiveEnvVar + `")

// Enabled reports whether the gremlin with the given id is active.
func Enabled(id string) bool {
	return active == id
}

// Value returns mutated while the gremlin with the given id is active,
// original otherwise.
func Value[T any](id string, mutated, original T) T {
	if Enabled(id) {
		return mutated
	}
	return original
}
`

// SwitchInstaller emits the activation runtime into an instrumented
// tree and reports the import path instrumented files must use.
type SwitchInstaller interface {
	Install(treeRoot model.Path) (importPath string, err error)
}

// ModSwitchInstaller derives the import path from the tree's go.mod,
// so the runtime package is part of the target module itself and needs
// no dependency edits.
type ModSwitchInstaller struct{}

// NewModSwitchInstaller constructs a ModSwitchInstaller.
func NewModSwitchInstaller() *ModSwitchInstaller {
	return &ModSwitchInstaller{}
}

// Install writes the runtime package under treeRoot and returns its
// import path. A pre-existing directory of the same name means the
// target project already claims the identifier.
func (i *ModSwitchInstaller) Install(treeRoot model.Path) (string, error) {
	modPath := filepath.Join(string(treeRoot), "go.mod")
	data, err := os.ReadFile(modPath)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", modPath, err)
	}

	mod, err := modfile.Parse(modPath, data, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", modPath, err)
	}
	if mod.Module == nil || mod.Module.Mod.Path == "" {
		return "", fmt.Errorf("%s declares no module path", modPath)
	}

	dir := filepath.Join(string(treeRoot), switchDirName)
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("target already contains a %s directory", switchDirName)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	file := filepath.Join(dir, switchDirName+".go")
	if err := os.WriteFile(file, []byte(switchSource), 0o600); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", file, err)
	}

	return path.Join(mod.Module.Mod.Path, switchDirName), nil
}
