// Package model holds the in-memory shape of a processed commit: the
// repository it belongs to, the notebook files it touched or carried, and
// the datasets those notebooks read and write.
package model

import (
	"sort"
	"strings"
)

// Dataset is a logical data location referenced by a notebook. Two datasets
// are the same exactly when their normalized paths are equal.
type Dataset struct {
	path string
}

// NewDataset normalizes raw into a Dataset. Surrounding whitespace is
// trimmed, runs of '/' collapse to one and a trailing '/' is dropped unless
// the path is the root. Nothing else is rewritten. ok is false when nothing
// is left after normalization.
func NewDataset(raw string) (d Dataset, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Dataset{}, false
	}
	if strings.Contains(s, "//") {
		var b strings.Builder
		b.Grow(len(s))
		prevSlash := false
		for i := 0; i < len(s); i++ {
			c := s[i]
			if c == '/' {
				if prevSlash {
					continue
				}
				prevSlash = true
			} else {
				prevSlash = false
			}
			b.WriteByte(c)
		}
		s = b.String()
	}
	if len(s) > 1 && strings.HasSuffix(s, "/") {
		s = s[:len(s)-1]
	}
	return Dataset{path: s}, true
}

// Path returns the normalized path.
func (d Dataset) Path() string { return d.path }

func (d Dataset) String() string { return d.path }

// DatasetSet is a deduplicated set of datasets. The zero value is ready to use.
type DatasetSet struct {
	m map[string]struct{}
}

// NewDatasetSet builds a set from raw paths, skipping ones that normalize to
// nothing.
func NewDatasetSet(raw ...string) DatasetSet {
	var s DatasetSet
	for _, r := range raw {
		s.Add(r)
	}
	return s
}

// Add normalizes raw and inserts it. It reports whether the set grew.
func (s *DatasetSet) Add(raw string) bool {
	d, ok := NewDataset(raw)
	if !ok {
		return false
	}
	return s.Insert(d)
}

// Insert adds an already normalized dataset.
func (s *DatasetSet) Insert(d Dataset) bool {
	if d.path == "" {
		return false
	}
	if s.m == nil {
		s.m = make(map[string]struct{})
	}
	if _, exists := s.m[d.path]; exists {
		return false
	}
	s.m[d.path] = struct{}{}
	return true
}

// Has reports whether the normalized form of raw is in the set.
func (s DatasetSet) Has(raw string) bool {
	d, ok := NewDataset(raw)
	if !ok {
		return false
	}
	_, exists := s.m[d.path]
	return exists
}

// Len returns the number of datasets.
func (s DatasetSet) Len() int { return len(s.m) }

// Paths returns the normalized paths in lexical order.
func (s DatasetSet) Paths() []string {
	out := make([]string, 0, len(s.m))
	for p := range s.m {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Intersects reports whether the two sets share at least one dataset.
func (s DatasetSet) Intersects(other DatasetSet) bool {
	small, large := s.m, other.m
	if len(small) > len(large) {
		small, large = large, small
	}
	for p := range small {
		if _, ok := large[p]; ok {
			return true
		}
	}
	return false
}
