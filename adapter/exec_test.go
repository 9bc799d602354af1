package adapter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DICKY1987/pipeline-core/job"
)

func shellJob(id, script string) *job.Job {
	return &job.Job{
		ID:           id,
		WorkstreamID: "ws-1",
		Tool:         "shell",
		Command:      job.Command{Exe: "sh", Args: []string{"-c", script}},
	}
}

func TestExecValidate(t *testing.T) {
	e := NewExec("shell", nil, nil)

	t.Run("valid job passes", func(t *testing.T) {
		require.NoError(t, e.Validate(shellJob("j1", "true")))
	})

	t.Run("nil job rejected", func(t *testing.T) {
		require.Error(t, e.Validate(nil))
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		j := shellJob("j1", "true")
		j.Command.Exe = ""
		err := e.Validate(j)
		var ve *job.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "command.exe", ve.Field)
	})

	t.Run("tool mismatch rejected", func(t *testing.T) {
		j := shellJob("j1", "true")
		j.Tool = "pytest"
		require.Error(t, e.Validate(j))
	})

	t.Run("allowlist enforced", func(t *testing.T) {
		restricted := NewExec("shell", []string{"/usr/bin/**", "pytest*"}, nil)
		require.Error(t, restricted.Validate(shellJob("j1", "true")))

		j := shellJob("j2", "true")
		j.Command.Exe = "pytest-3.11"
		require.NoError(t, restricted.Validate(j))
	})
}

func TestExecRunSuccess(t *testing.T) {
	e := NewExec("shell", nil, nil)
	result := e.Run(context.Background(), shellJob("j1", "echo hello"))

	require.NotNil(t, result)
	assert.Equal(t, 0, result.ExitCode)
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.StdoutPreview)
	assert.GreaterOrEqual(t, result.DurationSeconds, 0.0)
	assert.Empty(t, result.ErrorReportPath)
}

func TestExecRunFailureWritesErrorReport(t *testing.T) {
	dir := t.TempDir()
	e := NewExec("shell", nil, nil)
	j := shellJob("j2", "echo broken >&2; exit 3")
	j.Paths.ErrorReport = filepath.Join(dir, "reports", "j2.json")

	result := e.Run(context.Background(), j)

	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.Success)
	assert.Contains(t, result.StderrPreview, "broken")
	require.Equal(t, j.Paths.ErrorReport, result.ErrorReportPath)

	data, err := os.ReadFile(result.ErrorReportPath)
	require.NoError(t, err)
	var report map[string]any
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Equal(t, "j2", report["job_id"])
	assert.Equal(t, float64(3), report["exit_code"])
}

func TestExecRunTimeout(t *testing.T) {
	dir := t.TempDir()
	e := NewExec("shell", nil, nil)
	j := shellJob("j3", "sleep 5")
	j.Metadata = map[string]any{"timeout_seconds": 0.1}
	j.Paths.ErrorReport = filepath.Join(dir, "j3.json")

	result := e.Run(context.Background(), j)

	assert.Equal(t, job.ExitTimeout, result.ExitCode)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorReportPath)
}

func TestExecRunMissingExecutable(t *testing.T) {
	dir := t.TempDir()
	e := NewExec("shell", nil, nil)
	j := shellJob("j4", "")
	j.Command.Exe = "definitely-not-a-real-binary-12345"
	j.Paths.ErrorReport = filepath.Join(dir, "j4.json")

	result := e.Run(context.Background(), j)

	assert.Equal(t, job.ExitException, result.ExitCode)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.ErrorReportPath)
}

func TestExecRunWritesLogFile(t *testing.T) {
	dir := t.TempDir()
	e := NewExec("shell", nil, nil)
	j := shellJob("j5", "echo out; echo err >&2")
	j.Paths.LogFile = filepath.Join(dir, "logs", "j5.log")

	_ = e.Run(context.Background(), j)

	data, err := os.ReadFile(j.Paths.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "out")
	assert.Contains(t, string(data), "err")
}

func TestExecRunEnvPassthrough(t *testing.T) {
	e := NewExec("shell", nil, nil)
	j := shellJob("j6", "printf %s \"$PIPELINE_TEST_VAR\"")
	j.Env = map[string]string{"PIPELINE_TEST_VAR": "wired"}

	result := e.Run(context.Background(), j)
	assert.Equal(t, "wired", result.StdoutPreview)
}

func TestPreviewBounds(t *testing.T) {
	long := strings.Repeat("line\n", 200)
	p := preview(long, stdoutPreviewLines)
	assert.Equal(t, stdoutPreviewLines, len(strings.Split(p, "\n")))
	assert.Equal(t, "", preview("", 10))
	assert.Equal(t, "short", preview("short\n", 10))
}

func TestExecDescribe(t *testing.T) {
	d := NewExec("pytest", nil, nil).Describe()
	assert.Equal(t, "pytest", d.Name)
	assert.NotEmpty(t, d.Version)
	assert.Contains(t, d.Capabilities, "timeout")
}
