// Package notebook extracts dataset declarations from Jupyter notebooks.
//
// Two annotation styles are recognized inside cell sources. A source block
// whose first non-empty line is %%input or %%output lists one dataset path
// per following line:
//
//	%%input
//	/skatt/person
//	/skatt/inntekt
//
// Comment markers switch collection on within ordinary code, and any
// non-comment line switches it off again:
//
//	#!outputs
//	# /skatt/en
//	df.write(...)
package notebook

import (
	"bytes"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/statisticsnorway/blueprint/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	magicInput    = "%%input"
	magicOutput   = "%%output"
	markerInputs  = "!inputs"
	markerOutputs = "!outputs"
)

// ParseError reports a notebook document that does not have the expected
// cell structure.
type ParseError struct {
	File   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse notebook %s: %s: %v", e.File, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse notebook %s: %s", e.File, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads the notebook document in content and returns a Notebook with
// its declared inputs and outputs. name identifies the file in errors. The
// returned notebook has no blob id; callers fill it in.
func Parse(name string, content []byte) (*model.Notebook, error) {
	var doc map[string]jsoniter.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, &ParseError{File: name, Reason: "invalid JSON document", Err: err}
	}
	rawCells, ok := doc["cells"]
	if !ok {
		return nil, &ParseError{File: name, Reason: "missing cells"}
	}
	if !isArray(rawCells) {
		return nil, &ParseError{File: name, Reason: "cells is not an array"}
	}
	var cells []map[string]jsoniter.RawMessage
	if err := json.Unmarshal(rawCells, &cells); err != nil {
		return nil, &ParseError{File: name, Reason: "cells is not an array of objects", Err: err}
	}

	nb := &model.Notebook{}
	for i, cell := range cells {
		rawSource, ok := cell["source"]
		if !ok {
			return nil, &ParseError{File: name, Reason: fmt.Sprintf("cell %d has no source", i)}
		}
		if !isArray(rawSource) {
			return nil, &ParseError{File: name, Reason: fmt.Sprintf("cell %d source is not an array", i)}
		}
		var lines []string
		if err := json.Unmarshal(rawSource, &lines); err != nil {
			return nil, &ParseError{File: name, Reason: fmt.Sprintf("cell %d source is not an array of strings", i), Err: err}
		}
		scanSource(nb, lines)
	}
	return nb, nil
}

func isArray(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

// scanSource collects the datasets declared in one cell's source lines.
func scanSource(nb *model.Notebook, lines []string) {
	first := -1
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			first = i
			break
		}
	}
	if first < 0 {
		return
	}

	switch strings.TrimSpace(lines[first]) {
	case magicInput:
		addLines(&nb.Inputs, lines[first+1:])
		return
	case magicOutput:
		addLines(&nb.Outputs, lines[first+1:])
		return
	}

	var active *model.DatasetSet
	for _, l := range lines {
		text := strings.TrimSpace(l)
		if !strings.HasPrefix(text, "#") {
			active = nil
			continue
		}
		text = strings.TrimSpace(text[1:])
		switch text {
		case markerInputs:
			active = &nb.Inputs
		case markerOutputs:
			active = &nb.Outputs
		default:
			if active != nil {
				active.Add(text)
			}
		}
	}
}

// addLines adds every non-blank line as a dataset path.
func addLines(set *model.DatasetSet, lines []string) {
	for _, l := range lines {
		set.Add(l)
	}
}
