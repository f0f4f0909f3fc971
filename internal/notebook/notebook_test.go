package notebook

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFile(t *testing.T, name string) ([]string, []string) {
	t.Helper()
	content, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	nb, err := Parse(name, content)
	require.NoError(t, err)
	return nb.Inputs.Paths(), nb.Outputs.Paths()
}

func TestParse_Fixtures(t *testing.T) {
	in, out := parseFile(t, "with-metadata.ipynb")
	assert.Equal(t, []string{"/some/input/path", "/some/other/input/path"}, in)
	assert.Equal(t, []string{"/some/other/path", "/some/path"}, out)

	in, out = parseFile(t, "without-metadata.ipynb")
	assert.Empty(t, in)
	assert.Empty(t, out)

	in, out = parseFile(t, "empty-metadata.ipynb")
	assert.Empty(t, in)
	assert.Empty(t, out)
}

func TestParse_UnusualCharactersPassThrough(t *testing.T) {
	in, out := parseFile(t, "weird-metadata.ipynb")
	assert.ElementsMatch(t, []string{
		"/ÅÍÎÏ˝ÓÔÒÚÆ☃",
		"/田中さんにあげて下さい",
		"/<script>alert(123)</script>",
	}, in)
	assert.ElementsMatch(t, []string{"/‪‪test‪", "/Ω≈ç√∫˜µ≤≥÷"}, out)
}

func doc(sources ...string) []byte {
	return []byte(`{"cells":[` + join(sources) + `]}`)
}

func join(sources []string) string {
	s := ""
	for i, src := range sources {
		if i > 0 {
			s += ","
		}
		s += `{"cell_type":"code","source":` + src + `}`
	}
	return s
}

func TestParse_Annotations(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		inputs  []string
		outputs []string
	}{
		{
			name:    "magic input dedupes",
			content: doc(`["%%input\n", "/a\n", "/b\n", "/a\n", "/b/\n"]`),
			inputs:  []string{"/a", "/b"},
		},
		{
			name:    "magic after leading blank lines",
			content: doc(`["\n", "  %%output  \n", "/out\n"]`),
			outputs: []string{"/out"},
		},
		{
			name:    "magic must be first non-empty line",
			content: doc(`["x = 1\n", "%%input\n", "/a\n"]`),
		},
		{
			name:    "comment markers switch target",
			content: doc(`["#!inputs\n", "# /in1\n", "#!outputs\n", "# /out1\n"]`),
			inputs:  []string{"/in1"},
			outputs: []string{"/out1"},
		},
		{
			name:    "code resets active set",
			content: doc(`["#!inputs\n", "# /in1\n", "read()\n", "# /ignored\n"]`),
			inputs:  []string{"/in1"},
		},
		{
			name:    "blank line resets active set",
			content: doc(`["# !outputs\n", "#/out\n", "\n", "# /ignored\n"]`),
			outputs: []string{"/out"},
		},
		{
			name:    "only one hash is stripped",
			content: doc(`["##!inputs\n", "# /ignored\n"]`),
		},
		{
			name:    "state does not leak across cells",
			content: doc(`["#!inputs\n", "# /a\n"]`, `["# /b\n"]`),
			inputs:  []string{"/a"},
		},
		{
			name:    "both forms accumulate",
			content: doc(`["%%input\n", "/x\n"]`, `["#!inputs\n", "# /x\n", "# /y\n"]`),
			inputs:  []string{"/x", "/y"},
		},
		{
			name:    "empty source",
			content: doc(`[]`),
		},
		{
			name:    "no cells",
			content: []byte(`{"cells":[]}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nb, err := Parse("test.ipynb", tt.content)
			require.NoError(t, err)
			if tt.inputs == nil {
				assert.Zero(t, nb.Inputs.Len())
			} else {
				assert.Equal(t, tt.inputs, nb.Inputs.Paths())
			}
			if tt.outputs == nil {
				assert.Zero(t, nb.Outputs.Len())
			} else {
				assert.Equal(t, tt.outputs, nb.Outputs.Paths())
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `not json`},
		{"missing cells", `{"metadata":{}}`},
		{"cells not array", `{"cells":{}}`},
		{"cells null", `{"cells":null}`},
		{"missing source", `{"cells":[{"cell_type":"code"}]}`},
		{"source is a string", `{"cells":[{"source":"%%input\n/a"}]}`},
		{"source of numbers", `{"cells":[{"source":[1,2]}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("bad.ipynb", []byte(tt.content))
			require.Error(t, err)
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, "bad.ipynb", pe.File)
			assert.Contains(t, err.Error(), "bad.ipynb")
		})
	}
}
