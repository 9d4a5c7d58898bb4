// Package report provides the builtin task that persists collected step data
// as a report artifact in the workspace.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aegis-sec/aegis/pkg/registry"
	"github.com/aegis-sec/aegis/pkg/runctx"
	"github.com/aegis-sec/aegis/pkg/task"
	"github.com/aegis-sec/aegis/pkg/workspace"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Document is the envelope written around the caller-supplied data.
type Document struct {
	Title       string      `json:"title" yaml:"title"`
	GeneratedAt time.Time   `json:"generated_at" yaml:"generated_at"`
	Data        interface{} `json:"data" yaml:"data"`
}

// Result describes the written artifact.
type Result struct {
	Path   string `json:"path"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
}

// Task writes a report document to disk.
type Task struct{}

// New creates a write-report task.
func New() *Task { return &Task{} }

var supportedFormats = map[string]bool{"json": true, "yaml": true}

// Validate implements the task contract.
func (t *Task) Validate(params task.Params) error {
	ve := &task.ValidationError{TaskName: "write-report"}
	if !params.Has("data") {
		ve.Add("data", "report data is required")
	}
	if params.Has("format") && !supportedFormats[strings.ToLower(params.String("format"))] {
		ve.Add("format", "must be json or yaml")
	}
	return ve.OrNil()
}

// Execute marshals the data and writes it under the workspace reports
// directory, or to an explicit path when one is given. Sandboxed runs write
// into the run's temp directory instead of the workspace.
func (t *Task) Execute(ctx context.Context, rc *runctx.Context, params task.Params) (interface{}, error) {
	if ctx.Err() != nil {
		return nil, &task.CancelledError{TaskName: "write-report"}
	}

	format := strings.ToLower(params.String("format"))
	if format == "" {
		format = "json"
	}

	doc := Document{
		Title:       params.String("title"),
		GeneratedAt: time.Now().UTC(),
		Data:        params["data"],
	}

	var (
		payload []byte
		err     error
	)
	switch format {
	case "yaml":
		payload, err = yaml.Marshal(doc)
	default:
		payload, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return nil, &task.ExecError{TaskName: "write-report", Err: fmt.Errorf("marshal report: %w", err)}
	}

	path, err := t.resolvePath(rc, params, format)
	if err != nil {
		return nil, &task.ExecError{TaskName: "write-report", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, &task.ExecError{TaskName: "write-report", Err: err}
	}
	if err := os.WriteFile(path, payload, 0o640); err != nil {
		return nil, &task.ExecError{TaskName: "write-report", Err: err}
	}

	log.Info().Str("task", "write-report").Str("path", path).Int("bytes", len(payload)).Msg("report written")
	return &Result{Path: path, Format: format, Bytes: len(payload)}, nil
}

func (t *Task) resolvePath(rc *runctx.Context, params task.Params, format string) (string, error) {
	if explicit := params.String("path"); explicit != "" {
		return explicit, nil
	}

	name := params.String("name")
	if name == "" {
		name = "report"
	}
	filename := fmt.Sprintf("%s-%s.%s", name, time.Now().UTC().Format("20060102-150405"), format)

	if rc.Sandboxed() {
		return filepath.Join(rc.TempDir(), filename), nil
	}

	root, err := workspace.Prepare(rc.GetString("workspace", ""))
	if err != nil {
		return "", err
	}
	return filepath.Join(workspace.ReportsDir(root), filename), nil
}

// Descriptor describes the write-report task for registration.
func Descriptor() registry.Descriptor {
	return registry.Descriptor{
		Name:           "write-report",
		Description:    "Writes collected step data to a report file",
		Kind:           "reporting",
		Version:        "0.1.0",
		RequiredParams: []string{"data"},
		OptionalParams: []string{"title", "name", "path", "format"},
		Tags:           []string{"report", "output"},
		Factory:        func() task.Task { return New() },
	}
}
