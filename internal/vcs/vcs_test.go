package vcs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiffMapKeys(t *testing.T) {
	d := DiffMap{}
	d.Put(Change{Type: Add, NewPath: "a.ipynb", NewBlobID: "1"})
	d.Put(Change{Type: Delete, OldPath: "b.ipynb", OldBlobID: "2"})
	d.Put(Change{Type: Rename, OldPath: "c.ipynb", NewPath: "d.ipynb"})
	d.Put(Change{Type: Delete, OldPath: "a-old.ipynb", OldBlobID: "3"})

	c, ok := d.Lookup("a.ipynb")
	assert.True(t, ok)
	assert.Equal(t, Add, c.Type)

	_, ok = d.Lookup("c.ipynb")
	assert.False(t, ok)
	c, ok = d.Lookup("d.ipynb")
	assert.True(t, ok)
	assert.Equal(t, Rename, c.Type)

	deleted := d.Deleted()
	assert.Len(t, deleted, 2)
	assert.Equal(t, "a-old.ipynb", deleted[0].OldPath)
	assert.Equal(t, "b.ipynb", deleted[1].OldPath)
}

func TestErrorUnwrap(t *testing.T) {
	err := &Error{Op: "checkout", Rev: "abc", Err: ErrNotFound}
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "vcs checkout abc: not found", err.Error())
	assert.Equal(t, "modify", Modify.String())
}
