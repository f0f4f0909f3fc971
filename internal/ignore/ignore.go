// Package ignore decides which parts of a checked-out working tree are
// skipped when looking for notebooks. Patterns use gitignore syntax.
package ignore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileName is an optional per-repository ignore file, read from the root of
// the working tree.
const FileName = ".blueprintignore"

// Folders that are never walked.
var defaultFolders = []string{
	".git",
	".ipynb_checkpoints",
}

type rule struct {
	glob     string
	negated  bool
	dirOnly  bool
	anchored bool
}

// Matcher holds compiled rules. Later rules win over earlier ones.
type Matcher struct {
	rules []rule
}

// New returns a matcher that skips VCS metadata and notebook checkpoint
// folders, plus the given folder names at any depth.
func New(folders ...string) *Matcher {
	m := &Matcher{}
	for _, f := range defaultFolders {
		m.AddFolder(f)
	}
	for _, f := range folders {
		m.AddFolder(f)
	}
	return m
}

// ForWorkTree is New plus the rules found in the tree's ignore file, if any.
func ForWorkTree(root string, folders ...string) (*Matcher, error) {
	m := New(folders...)
	if err := m.LoadFile(filepath.Join(root, FileName)); err != nil {
		return nil, err
	}
	return m, nil
}

// AddFolder ignores every directory called name, wherever it appears.
func (m *Matcher) AddFolder(name string) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return
	}
	m.Add(name + "/")
}

// Add compiles one gitignore-style line. Blank lines and comments are skipped.
func (m *Matcher) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}

	var r rule
	if strings.HasPrefix(line, "!") {
		r.negated = true
		line = line[1:]
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = line[1:]
	}
	// Unanchored names without a slash match at any depth.
	if !r.anchored && !strings.Contains(line, "/") {
		line = "**/" + line
	}
	r.glob = line
	m.rules = append(m.rules, r)
}

// LoadFile adds the rules in path. A missing file is not an error.
func (m *Matcher) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.Add(sc.Text())
	}
	return sc.Err()
}

// Match reports whether rel, a slash or OS separated path relative to the
// working tree root, is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")

	ignored := false
	for _, r := range m.rules {
		var hit bool
		if r.dirOnly && !isDir {
			hit = underDir(r.glob, rel)
		} else {
			hit = matchGlob(r.glob, rel)
		}
		if hit {
			ignored = !r.negated
		}
	}
	return ignored
}

// underDir reports whether some parent directory of the file rel matches glob.
func underDir(glob, rel string) bool {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if matchGlob(glob, strings.Join(parts[:i], "/")) {
			return true
		}
	}
	return false
}

func matchGlob(glob, rel string) bool {
	if ok, _ := doublestar.Match(glob, rel); ok {
		return true
	}
	if !strings.HasSuffix(glob, "/**") {
		ok, _ := doublestar.Match(glob+"/**", rel)
		return ok
	}
	return false
}
