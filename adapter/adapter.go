// Package adapter defines the uniform contract every external tool
// integration satisfies, and provides Exec, the subprocess reference
// adapter. The orchestrator invokes any tool identically through this
// interface and never sees a raw error from an adapter: execution failures
// are data, carried in the result.
package adapter

import (
	"context"

	"github.com/DICKY1987/pipeline-core/job"
)

// Description is static capability and version information for discovery
// and health display.
type Description struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Adapter is the contract each tool integration implements.
//
// Run must always return a result, never panic or leak an error: a timeout
// yields job.ExitTimeout, any other execution failure job.ExitException,
// both with the error report path populated.
type Adapter interface {
	// Validate structurally checks the job before any execution. The
	// orchestrator calls it as a gate outside the state-machine transitions.
	Validate(j *job.Job) error

	// Run executes the tool synchronously, honoring the job's timeout
	// metadata and capturing bounded output previews.
	Run(ctx context.Context, j *job.Job) *job.Result

	// Describe returns static adapter metadata.
	Describe() Description
}
