// Package job defines the job descriptor submitted to the orchestrator and
// the result every execution produces. A Job is immutable once submitted;
// the orchestrator only ever produces a Result for it.
package job

import (
	"time"
)

// Command is the executable and arguments a job runs.
type Command struct {
	Exe  string   `json:"exe"`
	Args []string `json:"args,omitempty"`
}

// Paths locates the job's working tree and output files.
type Paths struct {
	RepoRoot    string `json:"repo_root,omitempty"`
	WorkingDir  string `json:"working_dir,omitempty"`
	LogFile     string `json:"log_file,omitempty"`
	ErrorReport string `json:"error_report,omitempty"`
}

// Job is one concrete request to execute a tool.
type Job struct {
	ID           string            `json:"job_id"`
	WorkstreamID string            `json:"workstream_id"`
	Tool         string            `json:"tool"`
	Command      Command           `json:"command"`
	Env          map[string]string `json:"env,omitempty"`
	Paths        Paths             `json:"paths"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
}

// Validate checks the structural shape of the descriptor.
func (j *Job) Validate() error {
	if j.ID == "" {
		return &ValidationError{Field: "job_id", Message: "job_id is required"}
	}
	if j.Tool == "" {
		return &ValidationError{Field: "tool", Message: "tool is required"}
	}
	if j.Command.Exe == "" {
		return &ValidationError{Field: "command.exe", Message: "command executable is required"}
	}
	return nil
}

// Timeout returns the job's execution timeout from metadata, or zero when
// none is set.
func (j *Job) Timeout() time.Duration {
	raw, ok := j.Metadata["timeout_seconds"]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	default:
		return 0
	}
}

// ValidationError reports a malformed job descriptor field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
