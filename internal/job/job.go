package job

import (
	"encoding/json"

	appErr "judgeflow/pkg/errors"

	"github.com/google/uuid"
)

// Submission statuses published on the result channel. These are the wire
// values the client UI switches on, so they never change casing.
const (
	StatusRunning   = "Running"
	StatusCompleted = "Completed"
	StatusFailed    = "Failed"
)

// GenericFailureMessage is the only failure text that ever reaches a client.
// Internal errors stay in the logs.
const GenericFailureMessage = "Execution error"

// Job is one unit of work submitted for execution. The token is minted once
// at enqueue time and is the sole key used to route the result back to the
// originating client.
type Job struct {
	Token          string `json:"token"`
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ProblemID      int64  `json:"problem_id,omitempty"`
	IsSubmission   bool   `json:"is_submission,omitempty"`
}

// Validate checks the fields a job must carry before it may be enqueued.
func (j *Job) Validate() error {
	if j.Token == "" {
		return appErr.ValidationError("token", "required")
	}
	if j.SourceCode == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if j.LanguageID <= 0 {
		return appErr.ValidationError("language_id", "must be positive")
	}
	return nil
}

// Encode serializes the job for queue transport.
func (j *Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// Decode deserializes a job from queue transport.
func Decode(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "decode job failed")
	}
	return &j, nil
}

// NewToken mints an opaque, unguessable correlation token. Tokens are bearer
// capabilities: anyone holding one may subscribe to its results.
func NewToken() string {
	return uuid.NewString()
}

// ExecutionResult is the raw sandbox output for one job attempt. It is owned
// by the worker that produced it until handed to the formatter.
type ExecutionResult struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Time          string `json:"time"`   // elapsed seconds, decimal string
	Memory        int64  `json:"memory"` // kilobytes
}

// SubmissionUpdate is the wire message published once per job lifecycle
// event on the channel keyed by token.
type SubmissionUpdate struct {
	Status string `json:"status,omitempty"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Running builds the update published when a worker claims a job.
func Running() SubmissionUpdate {
	return SubmissionUpdate{Status: StatusRunning}
}

// Completed builds the terminal update carrying a formatted report.
func Completed(output string) SubmissionUpdate {
	return SubmissionUpdate{Status: StatusCompleted, Output: output}
}

// Failed builds the terminal update for a job that could not be executed.
// The output is always the generic message, never an internal error string.
func Failed() SubmissionUpdate {
	return SubmissionUpdate{Status: StatusFailed, Output: GenericFailureMessage}
}
