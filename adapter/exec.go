package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/DICKY1987/pipeline-core/job"
)

// Output preview bounds.
const (
	stdoutPreviewLines = 100
	stderrPreviewLines = 50
)

// Exec runs a job's command as a subprocess. One Exec instance serves one
// tool name; an optional allowlist of doublestar patterns restricts which
// executables it will launch.
type Exec struct {
	tool      string
	version   string
	allowlist []string
	logger    *slog.Logger
}

// NewExec creates a subprocess adapter for the given tool name. Patterns,
// when non-empty, must match the job's executable (doublestar globs, e.g.
// "pytest*" or "/usr/bin/**").
func NewExec(tool string, allowlist []string, logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{
		tool:      tool,
		version:   "1.0.0",
		allowlist: allowlist,
		logger:    logger,
	}
}

// Validate checks the descriptor shape, the tool binding, and the
// executable allowlist.
func (e *Exec) Validate(j *job.Job) error {
	if j == nil {
		return &job.ValidationError{Field: "job", Message: "job is required"}
	}
	if err := j.Validate(); err != nil {
		return err
	}
	if j.Tool != e.tool {
		return &job.ValidationError{
			Field:   "tool",
			Message: fmt.Sprintf("adapter serves %q, job requests %q", e.tool, j.Tool),
		}
	}
	if len(e.allowlist) > 0 && !e.allowed(j.Command.Exe) {
		return &job.ValidationError{
			Field:   "command.exe",
			Message: fmt.Sprintf("executable %q not in allowlist", j.Command.Exe),
		}
	}
	return nil
}

func (e *Exec) allowed(exe string) bool {
	for _, pattern := range e.allowlist {
		if ok, err := doublestar.Match(pattern, exe); err == nil && ok {
			return true
		}
	}
	return false
}

// Run executes the job's command, enforcing the metadata timeout and
// writing an error report when the tool fails. It always returns a result.
func (e *Exec) Run(ctx context.Context, j *job.Job) *job.Result {
	start := time.Now()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout := j.Timeout(); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, j.Command.Exe, j.Command.Args...)
	if j.Paths.WorkingDir != "" {
		cmd.Dir = j.Paths.WorkingDir
	}
	cmd.Env = mergedEnv(j.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	var failure string
	switch {
	case runErr == nil:
		// tool exited zero
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		exitCode = job.ExitTimeout
		failure = fmt.Sprintf("timed out after %s", j.Timeout())
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
			failure = runErr.Error()
		} else {
			exitCode = job.ExitException
			failure = runErr.Error()
		}
	}

	result := job.NewResult(j.ID, exitCode)
	result.DurationSeconds = duration.Seconds()
	result.StdoutPreview = preview(stdout.String(), stdoutPreviewLines)
	result.StderrPreview = preview(stderr.String(), stderrPreviewLines)

	if j.Paths.LogFile != "" {
		e.writeLog(j, stdout.Bytes(), stderr.Bytes())
	}
	if exitCode != 0 {
		result.ErrorReportPath = e.writeErrorReport(j, exitCode, failure, result.StderrPreview)
	}

	e.logger.Debug("tool execution finished",
		"tool", e.tool,
		"job_id", j.ID,
		"exit_code", exitCode,
		"duration_s", result.DurationSeconds)

	return result
}

// Describe returns static adapter metadata.
func (e *Exec) Describe() Description {
	return Description{
		Name:         e.tool,
		Version:      e.version,
		Capabilities: []string{"subprocess", "timeout", "error_report"},
	}
}

// errorReport is the structured failure report written next to the job.
type errorReport struct {
	JobID         string    `json:"job_id"`
	Tool          string    `json:"tool"`
	ExitCode      int       `json:"exit_code"`
	Message       string    `json:"message"`
	StderrPreview string    `json:"stderr_preview,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// writeErrorReport writes the report and returns its path, or empty on
// failure. Report-write failures are logged, never propagated: the result
// must still reach the caller.
func (e *Exec) writeErrorReport(j *job.Job, exitCode int, message, stderrPreview string) string {
	path := j.Paths.ErrorReport
	if path == "" {
		path = filepath.Join(os.TempDir(), fmt.Sprintf("%s-error.json", j.ID))
	}

	report := errorReport{
		JobID:         j.ID,
		Tool:          j.Tool,
		ExitCode:      exitCode,
		Message:       message,
		StderrPreview: stderrPreview,
		Timestamp:     time.Now().UTC(),
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		e.logger.Warn("failed to marshal error report", "job_id", j.ID, "error", err)
		return ""
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		e.logger.Warn("failed to create error report dir", "job_id", j.ID, "error", err)
		return ""
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.logger.Warn("failed to write error report", "job_id", j.ID, "path", path, "error", err)
		return ""
	}
	return path
}

func (e *Exec) writeLog(j *job.Job, stdout, stderr []byte) {
	if err := os.MkdirAll(filepath.Dir(j.Paths.LogFile), 0o755); err != nil {
		e.logger.Warn("failed to create log dir", "job_id", j.ID, "error", err)
		return
	}
	var buf bytes.Buffer
	buf.Write(stdout)
	if len(stderr) > 0 {
		buf.WriteString("\n--- stderr ---\n")
		buf.Write(stderr)
	}
	if err := os.WriteFile(j.Paths.LogFile, buf.Bytes(), 0o644); err != nil {
		e.logger.Warn("failed to write log file", "job_id", j.ID, "path", j.Paths.LogFile, "error", err)
	}
}

// preview returns the first n lines of s.
func preview(s string, n int) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return strings.TrimRight(s, "\n")
	}
	return strings.Join(lines[:n], "\n")
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

var _ Adapter = (*Exec)(nil)
