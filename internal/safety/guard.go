// Package safety confines destructive filesystem operations to the data root.
package safety

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ForbiddenExtensions are source and project extensions that must never be
// swept up by a cleanup.
var ForbiddenExtensions = []string{
	".xcodeproj", ".xcworkspace", ".swift", ".h", ".hpp", ".c", ".cpp", ".m", ".mm",
}

// forbiddenBundles are directory extensions that mark a project bundle.
var forbiddenBundles = []string{".xcodeproj", ".xcworkspace"}

// Guard vets paths against a single data root.
type Guard struct {
	root string
}

// Verdict is the combined outcome of Check.
type Verdict struct {
	Path    string
	Allowed bool
	Reason  string
}

// New builds a guard for dataRoot. The root is made absolute and, when it
// exists, symlink-evaluated so later containment checks compare like with like.
func New(dataRoot string) (*Guard, error) {
	if strings.TrimSpace(dataRoot) == "" {
		return nil, errors.New("safety: data root is empty")
	}
	abs, err := filepath.Abs(dataRoot)
	if err != nil {
		return nil, fmt.Errorf("safety: resolve data root: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &Guard{root: filepath.Clean(abs)}, nil
}

// Root returns the resolved data root.
func (g *Guard) Root() string { return g.root }

// IsSafeToRemove reports whether path is an existing directory strictly
// inside the data root, both lexically and after resolving symlinks.
func (g *Guard) IsSafeToRemove(path string) bool {
	_, ok := g.removable(path)
	return ok
}

func (g *Guard) removable(path string) (string, bool) {
	if g == nil {
		return "no guard configured", false
	}
	if strings.TrimSpace(path) == "" {
		return "empty path", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "path cannot be made absolute", false
	}
	abs = filepath.Clean(abs)
	if abs == string(filepath.Separator) || abs == filepath.VolumeName(abs)+string(filepath.Separator) {
		return "filesystem root", false
	}
	if abs == g.root {
		return "data root itself", false
	}
	if !within(g.root, abs) {
		// The lexical path may still reach the root through a symlinked
		// parent, e.g. a relative path under a symlinked working directory.
		parent, perr := filepath.EvalSymlinks(filepath.Dir(abs))
		if perr != nil || !within(g.root, filepath.Join(parent, filepath.Base(abs))) {
			return "outside the data root", false
		}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "path does not exist", false
	}
	if resolved == g.root || !within(g.root, resolved) {
		return "resolves outside the data root", false
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "path does not exist", false
	}
	if !info.IsDir() {
		return "not a directory", false
	}
	return "", true
}

// ContainsForbiddenContent reports whether dir holds source files or project
// bundles. Symlinks are not followed. A missing or non-directory dir holds
// nothing; a walk that cannot finish is treated as forbidden.
func (g *Guard) ContainsForbiddenContent(dir string) bool {
	found, _ := forbiddenEntry(dir)
	return found
}

func forbiddenEntry(dir string) (bool, string) {
	info, err := os.Lstat(dir)
	if err != nil || !info.IsDir() {
		return false, ""
	}
	var hit string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		switch {
		case d.IsDir():
			if path != dir && contains(forbiddenBundles, ext) {
				hit = path
				return fs.SkipAll
			}
		case d.Type().IsRegular():
			if contains(ForbiddenExtensions, ext) {
				hit = path
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return true, "walk failed: " + err.Error()
	}
	if hit != "" {
		return true, "contains " + hit
	}
	return false, ""
}

// Check applies both gates used by cleanup.
func (g *Guard) Check(path string) Verdict {
	if reason, ok := g.removable(path); !ok {
		return Verdict{Path: path, Reason: reason}
	}
	if found, reason := forbiddenEntry(path); found {
		return Verdict{Path: path, Reason: reason}
	}
	return Verdict{Path: path, Allowed: true}
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
