package tracker

import "time"

// State is the lifecycle position of a tracked job.
type State string

const (
	StatePending   State = "pending"
	StateMatched   State = "matched"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

func (s State) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateMatched:
		return 1
	case StateQueued:
		return 2
	case StateRunning:
		return 3
	case StateCompleted, StateFailed, StateTimedOut:
		return 4
	default:
		return -1
	}
}

// Intent is a submission about to be dispatched.
type Intent struct {
	Tag       string
	Workflow  string
	Inputs    map[string]string
	CreatedAt time.Time
}

// Job is a copy of one row of the table. Mutations go through Table methods.
type Job struct {
	Tag          string
	Workflow     string
	RunID        int64
	RemoteJobID  int64
	State        State
	DispatchedAt time.Time
	Submitting   bool // reserved before the dispatch call returned

	CreatedAt   time.Time // remote run creation; queue time starts here
	StartedAt   time.Time
	CompletedAt time.Time

	QueueDuration time.Duration
	ExecDuration  time.Duration
	QueueKnown    bool
	ExecKnown     bool

	RunnerID   int64
	RunnerName string
	Conclusion string
}

// Matched reports whether the job has been correlated with a run.
func (j Job) Matched() bool {
	return j.RunID != 0
}

// TotalDuration is queue plus execution time, known only when both are.
func (j Job) TotalDuration() (time.Duration, bool) {
	if !j.QueueKnown || !j.ExecKnown {
		return 0, false
	}
	return j.QueueDuration + j.ExecDuration, true
}

// Observation is what one poll learned about a matched job. Zero fields are
// unknown and leave the job untouched.
type Observation struct {
	State       State
	At          time.Time // poll time, used when the service omits a timestamp
	StartedAt   time.Time
	CompletedAt time.Time
	RemoteJobID int64
	RunnerID    int64
	RunnerName  string
	Conclusion  string
}

// Counts summarises the table.
type Counts struct {
	Registered int
	Pending    int
	Matched    int
	Queued     int
	Running    int
	Completed  int
	Failed     int
	TimedOut   int
}

// Active is the number of matched jobs that have not reached a terminal state.
func (c Counts) Active() int {
	return c.Matched - c.Completed - c.Failed - c.TimedOut
}
