// Package githubtest runs an in-memory imitation of the Actions REST API
// backed by a fixed pool of runners. Queued runs are assigned to the runner
// that frees up first, in creation order, and each run occupies its runner
// for JobDuration.
package githubtest

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Options shape the simulated service.
type Options struct {
	Runners          int           // size of the runner pool
	JobDuration      time.Duration // how long each run occupies a runner
	StartDelay       time.Duration // minimum provisioning time before pickup
	VisibilityDelay  time.Duration // runs are hidden from listings until created+delay
	HideInputs       bool          // omit echoed inputs from run documents
	TitleInput       string        // when set, display_title carries this input
	JobNameInput     string        // when set, the job name carries this input
	FailEvery        int           // every Nth run concludes with failure
	DispatchFailures int           // the first N dispatch calls answer 502
	Token            string        // when set, requests must carry this bearer token
	RateLimit        int
	Now              func() time.Time
}

// RunRecord is the server-side truth about one run.
type RunRecord struct {
	ID          int64
	Workflow    string
	Inputs      map[string]string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Runner      int
	Failed      bool
}

type fakeRun struct {
	RunRecord
	scheduled bool
}

// Server is a running fake.
type Server struct {
	srv  *httptest.Server
	opts Options

	mu            sync.Mutex
	nextID        int64
	runs          []*fakeRun
	runnerFree    []time.Time
	dispatchCalls int
	calls         map[string]int
	remaining     int
}

// NewServer starts a fake; Close it when done.
func NewServer(opts Options) *Server {
	s, handler := newServer(opts)
	s.srv = httptest.NewServer(handler)
	return s
}

// Listen is NewServer on a fixed address, for running the fake outside tests.
func Listen(addr string, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s, handler := newServer(opts)
	s.srv = httptest.NewUnstartedServer(handler)
	s.srv.Listener.Close()
	s.srv.Listener = ln
	s.srv.Start()
	return s, nil
}

func newServer(opts Options) (*Server, http.Handler) {
	if opts.Runners <= 0 {
		opts.Runners = 2
	}
	if opts.JobDuration <= 0 {
		opts.JobDuration = 50 * time.Millisecond
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		opts:       opts,
		nextID:     1000,
		runnerFree: make([]time.Time, opts.Runners),
		calls:      map[string]int{},
		remaining:  opts.RateLimit,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/{owner}/{repo}/actions/workflows/{workflow}/dispatches", s.handleDispatch)
	mux.HandleFunc("GET /repos/{owner}/{repo}/actions/runs", s.handleListRuns)
	mux.HandleFunc("GET /repos/{owner}/{repo}/actions/workflows/{workflow}/runs", s.handleListRuns)
	mux.HandleFunc("GET /repos/{owner}/{repo}/actions/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /repos/{owner}/{repo}/actions/runs/{id}/jobs", s.handleListJobs)
	return s, s.authenticate(mux)
}

// URL is the API base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close shuts the server down.
func (s *Server) Close() { s.srv.Close() }

// Calls returns how many requests each endpoint served.
func (s *Server) Calls() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.calls))
	for k, v := range s.calls {
		out[k] = v
	}
	return out
}

// Runs returns the scheduling record of every run created so far.
func (s *Server) Runs() []RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule(s.opts.Now())
	out := make([]RunRecord, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.RunRecord)
	}
	return out
}

// Seed creates runs that predate a test, as if dispatched by someone else.
func (s *Server) Seed(n int, workflow string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.createRun(workflow, map[string]string{}, s.opts.Now())
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.opts.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Bad credentials"})
			return
		}
		s.mu.Lock()
		if s.remaining > 0 {
			s.remaining--
		}
		remaining := s.remaining
		s.mu.Unlock()
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.opts.RateLimit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(s.opts.Now().Add(time.Hour).Unix(), 10))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ref    string            `json:"ref"`
		Inputs map[string]string `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["dispatch"]++
	s.dispatchCalls++
	if s.dispatchCalls <= s.opts.DispatchFailures {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	if strings.TrimSpace(body.Ref) == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "Required input 'ref' not provided"})
		return
	}
	s.createRun(r.PathValue("workflow"), body.Inputs, s.opts.Now())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createRun(workflow string, inputs map[string]string, now time.Time) {
	s.nextID++
	run := &fakeRun{RunRecord: RunRecord{
		ID:        s.nextID,
		Workflow:  workflow,
		Inputs:    inputs,
		CreatedAt: now,
		Runner:    -1,
	}}
	if s.opts.FailEvery > 0 && len(s.runs)%s.opts.FailEvery == s.opts.FailEvery-1 {
		run.Failed = true
	}
	s.runs = append(s.runs, run)
}

// schedule assigns queued runs to runners in creation order up to now.
func (s *Server) schedule(now time.Time) {
	for _, run := range s.runs {
		if run.scheduled {
			continue
		}
		slot := 0
		for i := range s.runnerFree {
			if s.runnerFree[i].Before(s.runnerFree[slot]) {
				slot = i
			}
		}
		start := run.CreatedAt.Add(s.opts.StartDelay)
		if s.runnerFree[slot].After(start) {
			start = s.runnerFree[slot]
		}
		if start.After(now) {
			return
		}
		run.scheduled = true
		run.Runner = slot
		run.StartedAt = start
		run.CompletedAt = start.Add(s.opts.JobDuration)
		s.runnerFree[slot] = run.CompletedAt
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perPage := atoiDefault(q.Get("per_page"), 30)
	page := atoiDefault(q.Get("page"), 1)
	var createdAfter time.Time
	if c := strings.TrimPrefix(q.Get("created"), ">="); c != "" {
		if t, err := time.Parse(time.RFC3339, c); err == nil {
			createdAfter = t
		}
	}
	workflow := r.PathValue("workflow")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list_runs"]++
	now := s.opts.Now()
	s.schedule(now)

	var matched []map[string]interface{}
	for i := len(s.runs) - 1; i >= 0; i-- {
		run := s.runs[i]
		if now.Before(run.CreatedAt.Add(s.opts.VisibilityDelay)) {
			continue
		}
		if !createdAfter.IsZero() && run.CreatedAt.Before(createdAfter) {
			continue
		}
		if workflow != "" && run.Workflow != workflow {
			continue
		}
		if ev := q.Get("event"); ev != "" && ev != "workflow_dispatch" {
			continue
		}
		doc := s.runDocument(run, now)
		if st := q.Get("status"); st != "" && doc["status"] != st {
			continue
		}
		matched = append(matched, doc)
	}

	start := (page - 1) * perPage
	end := start + perPage
	if start > len(matched) {
		start = len(matched)
	}
	if end > len(matched) {
		end = len(matched)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_count":   len(matched),
		"workflow_runs": matched[start:end],
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["get_run"]++
	run := s.lookup(r.PathValue("id"))
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	now := s.opts.Now()
	s.schedule(now)
	writeJSON(w, http.StatusOK, s.runDocument(run, now))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list_jobs"]++
	run := s.lookup(r.PathValue("id"))
	if run == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	now := s.opts.Now()
	s.schedule(now)
	status, conclusion := s.state(run, now)

	name := "probe"
	if s.opts.JobNameInput != "" {
		if v := run.Inputs[s.opts.JobNameInput]; v != "" {
			name = "probe " + v
		}
	}
	job := map[string]interface{}{
		"id":           run.ID*10 + 1,
		"run_id":       run.ID,
		"name":         name,
		"status":       status,
		"conclusion":   nullable(conclusion),
		"created_at":   stamp(run.CreatedAt),
		"started_at":   nil,
		"completed_at": nil,
		"runner_id":    nil,
		"runner_name":  nil,
		"steps": []map[string]interface{}{
			{"number": 1, "name": "Set up job", "status": status},
			{"number": 2, "name": "Run load probe", "status": status},
		},
	}
	if status != "queued" {
		job["started_at"] = stamp(run.StartedAt)
		job["runner_id"] = run.Runner + 1
		job["runner_name"] = fmt.Sprintf("fake-runner-%d", run.Runner+1)
	}
	if status == "completed" {
		job["completed_at"] = stamp(run.CompletedAt)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_count": 1,
		"jobs":        []map[string]interface{}{job},
	})
}

func (s *Server) lookup(rawID string) *fakeRun {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil
	}
	idx := sort.Search(len(s.runs), func(i int) bool { return s.runs[i].ID >= id })
	if idx < len(s.runs) && s.runs[idx].ID == id {
		return s.runs[idx]
	}
	return nil
}

func (s *Server) state(run *fakeRun, now time.Time) (status, conclusion string) {
	switch {
	case !run.scheduled:
		return "queued", ""
	case now.Before(run.CompletedAt):
		return "in_progress", ""
	case run.Failed:
		return "completed", "failure"
	default:
		return "completed", "success"
	}
}

func (s *Server) runDocument(run *fakeRun, now time.Time) map[string]interface{} {
	status, conclusion := s.state(run, now)
	name := strings.TrimSuffix(strings.TrimSuffix(run.Workflow, ".yml"), ".yaml")
	title := name
	if s.opts.TitleInput != "" {
		if v := run.Inputs[s.opts.TitleInput]; v != "" {
			title = "Load probe " + v
		}
	}
	updated := run.CreatedAt
	doc := map[string]interface{}{
		"id":             run.ID,
		"name":           name,
		"display_title":  title,
		"path":           ".github/workflows/" + run.Workflow,
		"event":          "workflow_dispatch",
		"status":         status,
		"conclusion":     nullable(conclusion),
		"created_at":     stamp(run.CreatedAt),
		// run_started_at is coarse; job documents carry the real pickup time.
		"run_started_at": stamp(run.CreatedAt),
	}
	if run.scheduled && !now.Before(run.StartedAt) {
		updated = run.StartedAt
	}
	if status == "completed" {
		updated = run.CompletedAt
	}
	doc["updated_at"] = stamp(updated)
	if !s.opts.HideInputs {
		doc["inputs"] = run.Inputs
	}
	return doc
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func atoiDefault(raw string, def int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
