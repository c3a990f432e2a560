package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/torosent/runnerprobe/internal/httpclient"
)

const (
	DefaultBaseURL  = "https://api.github.com"
	defaultPerPage  = 100
	defaultMaxPages = 20
	apiVersion      = "2022-11-28"
)

// Doer executes one logical API call. *httpclient.Client satisfies it.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) httpclient.Result
}

// Options identify the repository a Client talks to.
type Options struct {
	BaseURL  string
	Owner    string
	Repo     string
	PerPage  int
	MaxPages int
}

// Client is a thin typed view of the Actions REST endpoints runnerprobe needs.
type Client struct {
	doer     Doer
	base     string
	owner    string
	repo     string
	perPage  int
	maxPages int
}

// NewClient validates opts and returns a Client.
func NewClient(doer Doer, opts Options) (*Client, error) {
	if doer == nil {
		return nil, errors.New("github client requires a doer")
	}
	owner := strings.TrimSpace(opts.Owner)
	repo := strings.TrimSpace(opts.Repo)
	if owner == "" || repo == "" {
		return nil, errors.New("github client requires owner and repo")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", opts.BaseURL, err)
	}
	perPage := opts.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = defaultPerPage
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Client{
		doer:     doer,
		base:     base,
		owner:    owner,
		repo:     repo,
		perPage:  perPage,
		maxPages: maxPages,
	}, nil
}

type dispatchBody struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// Dispatch triggers a workflow_dispatch event. The server answers 204 with
// no body, so the caller learns nothing about the run it created.
func (c *Client) Dispatch(ctx context.Context, workflow, ref string, inputs map[string]string) httpclient.Result {
	body, err := json.Marshal(dispatchBody{Ref: ref, Inputs: inputs})
	if err != nil {
		return httpclient.Result{Outcome: httpclient.OutcomeFatal, Err: err}
	}
	return c.doer.Do(ctx, httpclient.Request{
		Name:   "dispatch",
		Method: http.MethodPost,
		URL:    c.repoURL("actions", "workflows", workflow, "dispatches"),
		Body:   body,
		Header: c.headers(true),
	})
}

// ListRuns pages through workflow runs matching filter, newest first,
// stopping at the first short page or after the page cap.
func (c *Client) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	perPage := c.perPage
	if filter.PerPage > 0 && filter.PerPage <= 100 {
		perPage = filter.PerPage
	}
	maxPages := c.maxPages
	if filter.MaxPages > 0 {
		maxPages = filter.MaxPages
	}

	endpoint := c.repoURL("actions", "runs")
	if filter.Workflow != "" {
		endpoint = c.repoURL("actions", "workflows", filter.Workflow, "runs")
	}

	var runs []Run
	for page := 1; page <= maxPages; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(perPage))
		q.Set("page", strconv.Itoa(page))
		if !filter.CreatedAfter.IsZero() {
			q.Set("created", ">="+filter.CreatedAfter.UTC().Format(time.RFC3339))
		}
		if filter.Event != "" {
			q.Set("event", filter.Event)
		}
		if filter.Status != "" {
			q.Set("status", filter.Status)
		}

		var envelope struct {
			WorkflowRuns []json.RawMessage `json:"workflow_runs"`
		}
		if err := c.getJSON(ctx, "list_runs", endpoint+"?"+q.Encode(), &envelope); err != nil {
			return nil, err
		}
		for _, raw := range envelope.WorkflowRuns {
			run, err := decodeRun(raw)
			if err != nil {
				return nil, err
			}
			runs = append(runs, run)
		}
		if len(envelope.WorkflowRuns) < perPage {
			break
		}
	}
	return runs, nil
}

// GetRun fetches one run.
func (c *Client) GetRun(ctx context.Context, id int64) (Run, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, "get_run", c.repoURL("actions", "runs", strconv.FormatInt(id, 10)), &raw); err != nil {
		return Run{}, err
	}
	return decodeRun(raw)
}

// ListJobs fetches every job of a run.
func (c *Client) ListJobs(ctx context.Context, runID int64) ([]Job, error) {
	endpoint := c.repoURL("actions", "runs", strconv.FormatInt(runID, 10), "jobs")
	var jobs []Job
	for page := 1; page <= c.maxPages; page++ {
		q := url.Values{}
		q.Set("per_page", strconv.Itoa(c.perPage))
		q.Set("page", strconv.Itoa(page))
		var envelope struct {
			Jobs []Job `json:"jobs"`
		}
		if err := c.getJSON(ctx, "list_jobs", endpoint+"?"+q.Encode(), &envelope); err != nil {
			return nil, err
		}
		jobs = append(jobs, envelope.Jobs...)
		if len(envelope.Jobs) < c.perPage {
			break
		}
	}
	return jobs, nil
}

// LatestRunID returns the highest run id currently visible, or 0 when the
// repository has no runs. It is the baseline for ordinal matching.
func (c *Client) LatestRunID(ctx context.Context, workflow string) (int64, error) {
	runs, err := c.ListRuns(ctx, RunFilter{Workflow: workflow, PerPage: 1, MaxPages: 1})
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, r := range runs {
		if r.ID > latest {
			latest = r.ID
		}
	}
	return latest, nil
}

func (c *Client) getJSON(ctx context.Context, name, u string, dst interface{}) error {
	res := c.doer.Do(ctx, httpclient.Request{
		Name:   name,
		Method: http.MethodGet,
		URL:    u,
		Header: c.headers(false),
	})
	if !res.OK() {
		return fmt.Errorf("%s: %w", name, res.Error())
	}
	if err := json.Unmarshal(res.Body, dst); err != nil {
		return fmt.Errorf("%s: decode response: %w", name, err)
	}
	return nil
}

func (c *Client) repoURL(parts ...string) string {
	escaped := make([]string, 0, len(parts)+3)
	escaped = append(escaped, "repos", url.PathEscape(c.owner), url.PathEscape(c.repo))
	for _, p := range parts {
		escaped = append(escaped, url.PathEscape(p))
	}
	return c.base + "/" + strings.Join(escaped, "/")
}

func (c *Client) headers(withBody bool) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", apiVersion)
	if withBody {
		h.Set("Content-Type", "application/json")
	}
	return h
}

func decodeRun(raw json.RawMessage) (Run, error) {
	var run Run
	if err := json.Unmarshal(raw, &run); err != nil {
		return Run{}, fmt.Errorf("decode run: %w", err)
	}
	run.Raw = append(json.RawMessage(nil), raw...)
	return run, nil
}
