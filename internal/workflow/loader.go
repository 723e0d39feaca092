// Package workflow loads workflow files into the task tree and prepares them
// for execution.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	ewerrors "github.com/justakazh/ewe/internal/errors"
	"github.com/justakazh/ewe/internal/types"
)

// Format identifies the encoding of a workflow file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat picks the format from the file extension. Unknown extensions
// are sniffed: content starting with '{' is JSON, anything else YAML.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return FormatJSON
	}
	return FormatYAML
}

// LoadFile reads, parses, validates and prepares a workflow file.
// The returned warnings are non-fatal validation findings.
func LoadFile(path string) (*types.Workflow, []ValidationError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ewerrors.IOFileNotFound(path)
		}
		return nil, nil, ewerrors.IOReadError(path, err)
	}
	return Load(path, data)
}

// Load parses workflow bytes. The path is used for format detection and
// error messages only.
func Load(path string, data []byte) (*types.Workflow, []ValidationError, error) {
	wf, err := Parse(DetectFormat(path, data), data)
	if err != nil {
		return nil, nil, ewerrors.WorkflowParseError(path, err)
	}

	result := Validate(wf)
	if err := result.Err(); err != nil {
		return nil, result.Warnings, err
	}

	Prepare(wf)
	return wf, result.Warnings, nil
}

// Parse decodes a workflow document without validating it.
func Parse(format Format, data []byte) (*types.Workflow, error) {
	var wf types.Workflow
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &wf); err != nil {
			return nil, err
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &wf); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown workflow format %q", format)
	}
	return &wf, nil
}

// Prepare stamps every task with status pending, empty result fields and a
// stable pre-order ID. It returns the number of tasks in the tree.
func Prepare(wf *types.Workflow) int {
	next := 0
	types.Walk(wf.Tasks, func(task, _ *types.Task) bool {
		task.ID = next
		task.Reset()
		next++
		return true
	})
	return next
}
