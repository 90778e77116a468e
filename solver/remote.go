package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cepro/microplan/linprog"
)

// Remote submits programs to a solve service over HTTP: the MPS rendering is
// posted as a job, then the job is polled until it finishes. Useful when the
// machine running the planner is too small for the program.
type Remote struct {
	baseURL string
	token   string
	poll    time.Duration
	client  *http.Client
}

// RemoteOptions configure the remote backend.
type RemoteOptions struct {
	// BaseURL is the root of the solve service, without a trailing slash.
	BaseURL string `mapstructure:"base_url"`

	// Token is sent as a bearer token when set.
	Token string `mapstructure:"token"`

	// PollInterval is the delay between job status checks. Zero selects 2s.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// NewRemote returns a backend for the given solve service.
func NewRemote(opts RemoteOptions) (*Remote, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote solver needs a base_url")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Remote{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		poll:    poll,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (r *Remote) Name() string { return "remote" }

// jobState is the service's view of one submitted solve.
type jobState struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"`
	Objective float64            `json:"objective"`
	Columns   map[string]float64 `json:"columns"`
	Message   string             `json:"message"`
}

func (r *Remote) Solve(ctx context.Context, m *linprog.Model, opts Options) (*linprog.Solution, error) {
	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit)
		defer cancel()
	}

	id, err := r.submit(ctx, m)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		state, err := r.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		switch state.Status {
		case "pending", "running":
		case "optimal":
			return r.toSolution(m, state), nil
		case "infeasible":
			return nil, &InfeasibleError{Solver: r.Name()}
		case "unbounded":
			return nil, &UnboundedError{Solver: r.Name()}
		case "timeout":
			return nil, &TimeoutError{Solver: r.Name(), Elapsed: time.Since(start)}
		default:
			return nil, fmt.Errorf("remote job %s reported status %q: %s", id, state.Status, state.Message)
		}

		select {
		case <-ctx.Done():
			return nil, &TimeoutError{Solver: r.Name(), Elapsed: time.Since(start)}
		case <-ticker.C:
		}
	}
}

func (r *Remote) submit(ctx context.Context, m *linprog.Model) (string, error) {
	var body bytes.Buffer
	if err := m.WriteMPS(&body); err != nil {
		return "", fmt.Errorf("rendering model: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/jobs", &body)
	if err != nil {
		return "", fmt.Errorf("building submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/mps")
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", &UnavailableError{Solver: r.Name(), Reason: err.Error()}
	}
	defer resp.Body.Close()

	if err := r.checkStatus(resp); err != nil {
		return "", err
	}

	var state jobState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return "", fmt.Errorf("decoding submit response: %w", err)
	}
	if state.ID == "" {
		return "", fmt.Errorf("solve service accepted the job but returned no id")
	}
	return state.ID, nil
}

func (r *Remote) fetch(ctx context.Context, id string) (*jobState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/jobs/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}
	r.authorize(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &UnavailableError{Solver: r.Name(), Reason: err.Error()}
	}
	defer resp.Body.Close()

	if err := r.checkStatus(resp); err != nil {
		return nil, err
	}

	var state jobState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decoding job %s status: %w", id, err)
	}
	return &state, nil
}

func (r *Remote) authorize(req *http.Request) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
}

func (r *Remote) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &UnavailableError{Solver: r.Name(), Reason: "solve service rejected the credentials"}
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("solve service returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

func (r *Remote) toSolution(m *linprog.Model, state *jobState) *linprog.Solution {
	sol := &linprog.Solution{
		Status:     linprog.StatusOptimal,
		ColValues:  make([]float64, m.NumVars()),
		Objective:  state.Objective,
		SolverName: r.Name(),
	}
	for name, v := range state.Columns {
		if id, ok := m.VarByName(name); ok {
			sol.ColValues[id] = v
		}
	}
	return sol
}
