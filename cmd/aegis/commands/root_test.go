package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestTaskList(t *testing.T) {
	out, err := execute(t, "task", "list", "-o", "json", "-q")
	require.NoError(t, err)

	var items []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &items))

	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, item["name"])
	}
	assert.Contains(t, names, "ping-sweep")
	assert.Contains(t, names, "tcp-probe")
	assert.Contains(t, names, "exec-command")
	assert.Contains(t, names, "write-report")
}

func TestTaskSearch(t *testing.T) {
	out, err := execute(t, "task", "search", "report", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "write-report")
}

func TestWorkflowValidate_Valid(t *testing.T) {
	path := writeWorkflow(t, `
name: ok
steps:
  - name: report
    task: write-report
    params:
      data: 1
`)

	out, err := execute(t, "workflow", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
}

func TestWorkflowValidate_Cycle(t *testing.T) {
	path := writeWorkflow(t, `
name: bad
steps:
  - name: a
    task: write-report
    depends_on: [b]
  - name: b
    task: write-report
    depends_on: [a]
`)

	out, err := execute(t, "workflow", "validate", path)
	require.Error(t, err)
	assert.Contains(t, out, "cycle")
}

func TestWorkflowExport(t *testing.T) {
	path := writeWorkflow(t, `
name: convert
steps:
  - name: report
    task: write-report
    params:
      data: 1
`)
	outPath := filepath.Join(t.TempDir(), "wf.json")

	_, err := execute(t, "workflow", "export", path, "--out", outPath)
	require.NoError(t, err)

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var def map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &def))
	assert.Equal(t, "convert", def["name"])
}

func TestRun_EndToEnd(t *testing.T) {
	reportPath := filepath.Join(t.TempDir(), "out.json")
	path := writeWorkflow(t, `
name: e2e
variables:
  title: nightly
steps:
  - name: report
    task: write-report
    params:
      title: ${var.title}
      data:
        findings: 0
      path: `+reportPath+`
`)

	t.Setenv("AEGIS_WORKSPACE", t.TempDir())

	out, err := execute(t, "run", path, "-o", "json")
	require.NoError(t, err, out)

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "nightly", doc["title"])

	assert.Contains(t, out, `"status": "completed"`)
}

func TestRun_UnknownTaskExitsNonZero(t *testing.T) {
	path := writeWorkflow(t, `
name: missing
steps:
  - name: x
    task: not-a-task
`)
	t.Setenv("AEGIS_WORKSPACE", t.TempDir())

	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"run", path, "-o", "json"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(cmd, err))
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Aegis")
}
