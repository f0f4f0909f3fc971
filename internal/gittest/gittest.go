// Package gittest builds throwaway Git repositories for tests.
package gittest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Repo is a non-bare repository in a temporary directory.
type Repo struct {
	t     testing.TB
	Dir   string
	Git   *git.Repository
	clock time.Time
}

// New initializes an empty repository.
func New(t testing.TB) *Repo {
	t.Helper()
	dir := t.TempDir()
	r, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	return &Repo{
		t:     t,
		Dir:   dir,
		Git:   r,
		clock: time.Date(2020, 5, 4, 12, 0, 0, 0, time.UTC),
	}
}

// Write creates or replaces a file in the working tree.
func (r *Repo) Write(path string, content []byte) {
	r.t.Helper()
	full := filepath.Join(r.Dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		r.t.Fatalf("write %s: %v", path, err)
	}
}

// WriteNotebook writes a notebook declaring the given datasets.
func (r *Repo) WriteNotebook(path string, inputs, outputs []string, code ...string) {
	r.t.Helper()
	r.Write(path, Notebook(inputs, outputs, code...))
}

// Remove deletes a tracked file from the working tree and the index.
func (r *Repo) Remove(path string) {
	r.t.Helper()
	wt := r.worktree()
	if _, err := wt.Remove(path); err != nil {
		r.t.Fatalf("remove %s: %v", path, err)
	}
}

// Move renames a tracked file.
func (r *Repo) Move(from, to string) {
	r.t.Helper()
	wt := r.worktree()
	if err := os.MkdirAll(filepath.Dir(filepath.Join(r.Dir, to)), 0o755); err != nil {
		r.t.Fatalf("mkdir for %s: %v", to, err)
	}
	if _, err := wt.Move(from, to); err != nil {
		r.t.Fatalf("move %s to %s: %v", from, to, err)
	}
}

// Commit stages everything and commits it. Each commit is stamped one
// minute after the previous one.
func (r *Repo) Commit(msg string) string {
	r.t.Helper()
	wt := r.worktree()
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		r.t.Fatalf("add: %v", err)
	}
	r.clock = r.clock.Add(time.Minute)
	author := &object.Signature{Name: "Ola Nordmann", Email: "ola@example.com", When: r.clock}
	committer := &object.Signature{Name: "Kari Nordmann", Email: "kari@example.com", When: r.clock.Add(time.Second)}
	h, err := wt.Commit(msg, &git.CommitOptions{Author: author, Committer: committer, AllowEmptyCommits: true})
	if err != nil {
		r.t.Fatalf("commit: %v", err)
	}
	return h.String()
}

// SetClock sets the time the next commit is stamped from, which may lie
// before earlier commits to mimic a skewed committer clock.
func (r *Repo) SetClock(t time.Time) {
	r.clock = t
}

func (r *Repo) worktree() *git.Worktree {
	r.t.Helper()
	wt, err := r.Git.Worktree()
	if err != nil {
		r.t.Fatalf("worktree: %v", err)
	}
	return wt
}

type cell struct {
	CellType string   `json:"cell_type"`
	Metadata struct{} `json:"metadata"`
	Outputs  []any    `json:"outputs"`
	Source   []string `json:"source"`
}

// Notebook renders an nbformat 4 document with one magic cell per declared
// direction, followed by a code cell holding code.
func Notebook(inputs, outputs []string, code ...string) []byte {
	var cells []cell
	add := func(magic string, paths []string) {
		if len(paths) == 0 {
			return
		}
		src := []string{magic + "\n"}
		for _, p := range paths {
			src = append(src, p+"\n")
		}
		cells = append(cells, cell{CellType: "code", Outputs: []any{}, Source: src})
	}
	add("%%input", inputs)
	add("%%output", outputs)
	cells = append(cells, cell{CellType: "code", Outputs: []any{}, Source: append([]string{}, code...)})

	doc := map[string]any{
		"cells":          cells,
		"metadata":       map[string]any{},
		"nbformat":       4,
		"nbformat_minor": 4,
	}
	out, err := json.MarshalIndent(doc, "", " ")
	if err != nil {
		panic(err)
	}
	return out
}
