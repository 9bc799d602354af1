package job

// Distinguished exit codes for failures that never reached the tool, or
// that the adapter synthesized. Real tool exits are always >= 0.
const (
	// ExitTimeout means the adapter killed the tool at its deadline.
	ExitTimeout = -2
	// ExitMissingInput means the descriptor or a required file was absent.
	ExitMissingInput = -3
	// ExitUnknownTool means no adapter is registered for the job's tool.
	ExitUnknownTool = -4
	// ExitException means the adapter hit an execution error that produced
	// no tool exit code.
	ExitException = -5
	// ExitBreakerOpen means the tool's circuit breaker refused the call.
	ExitBreakerOpen = -6
)

// Result is the outcome of one job execution. Success is derived from the
// exit code at construction and never drifts afterwards.
type Result struct {
	JobID           string         `json:"job_id"`
	ExitCode        int            `json:"exit_code"`
	Success         bool           `json:"success"`
	DurationSeconds float64        `json:"duration_s"`
	ErrorReportPath string         `json:"error_report_path,omitempty"`
	StdoutPreview   string         `json:"stdout_preview,omitempty"`
	StderrPreview   string         `json:"stderr_preview,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// NewResult creates a result for the given job, deriving Success from the
// exit code (zero means success).
func NewResult(jobID string, exitCode int) *Result {
	return &Result{
		JobID:    jobID,
		ExitCode: exitCode,
		Success:  exitCode == 0,
	}
}
