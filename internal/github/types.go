package github

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Run statuses reported by the Actions API.
const (
	StatusQueued     = "queued"
	StatusWaiting    = "waiting"
	StatusPending    = "pending"
	StatusRequested  = "requested"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Conclusions of completed runs and jobs.
const (
	ConclusionSuccess   = "success"
	ConclusionFailure   = "failure"
	ConclusionCancelled = "cancelled"
	ConclusionTimedOut  = "timed_out"
)

// Run is a workflow run. Raw keeps the full JSON document so fields the
// struct does not model, such as echoed inputs, stay reachable.
type Run struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	DisplayTitle string     `json:"display_title"`
	Path         string     `json:"path"`
	Event        string     `json:"event"`
	Status       string     `json:"status"`
	Conclusion   string     `json:"conclusion"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	RunStartedAt *time.Time `json:"run_started_at"`

	Raw json.RawMessage `json:"-"`
}

// Input returns an echoed workflow_dispatch input, or "" when absent.
func (r Run) Input(key string) string {
	if len(r.Raw) == 0 || key == "" {
		return ""
	}
	return gjson.GetBytes(r.Raw, "inputs."+key).String()
}

// Field returns an arbitrary field of the raw document by gjson path.
func (r Run) Field(path string) string {
	if len(r.Raw) == 0 {
		return ""
	}
	return gjson.GetBytes(r.Raw, path).String()
}

// IsTerminal reports whether the run will not change status again.
func (r Run) IsTerminal() bool {
	return r.Status == StatusCompleted
}

// IsRunning reports whether a runner has picked up the run.
func (r Run) IsRunning() bool {
	return r.Status == StatusInProgress
}

// Succeeded reports whether a completed run concluded successfully.
func (r Run) Succeeded() bool {
	return r.Status == StatusCompleted && r.Conclusion == ConclusionSuccess
}

// Job is one job of a workflow run, carrying the worker-level timestamps.
type Job struct {
	ID          int64      `json:"id"`
	RunID       int64      `json:"run_id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Conclusion  string     `json:"conclusion"`
	CreatedAt   *time.Time `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	RunnerID    int64      `json:"runner_id"`
	RunnerName  string     `json:"runner_name"`
	Steps       []Step     `json:"steps"`
}

// Step is one step of a job.
type Step struct {
	Number     int    `json:"number"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// Mentions reports whether token appears in the job name or any step name.
func (j Job) Mentions(token string) bool {
	if token == "" {
		return false
	}
	if strings.Contains(j.Name, token) {
		return true
	}
	for _, s := range j.Steps {
		if strings.Contains(s.Name, token) {
			return true
		}
	}
	return false
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Workflow     string    // workflow file name; empty lists runs of every workflow
	CreatedAfter time.Time // inclusive lower bound on created_at
	Event        string
	Status       string
	PerPage      int // overrides the client default
	MaxPages     int // overrides the client default
}
