package syncer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"animehub/internal/logging"
	"animehub/pkg/models"
)

// RunState is the lifecycle of a detached run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Task is the work a detached run performs. The returned value is kept as
// the run's result.
type Task func(ctx context.Context, runID string) (any, error)

// Run is a handle on work that outlives the request that started it.
type Run struct {
	ID          string
	Kind        models.SyncKind
	ContentType models.ContentType
	StartedAt   time.Time

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      RunState
	result     any
	err        error
	finishedAt *time.Time
}

func (r *Run) Done() <-chan struct{} { return r.done }

func (r *Run) Cancel() { r.cancel() }

func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Result is only meaningful once Done is closed.
func (r *Run) Result() (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.err
}

// Wait blocks until the run ends or ctx is done.
func (r *Run) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type RunInfo struct {
	ID          string             `json:"id"`
	Kind        models.SyncKind    `json:"kind"`
	ContentType models.ContentType `json:"contentType"`
	State       RunState           `json:"state"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  *time.Time         `json:"finishedAt,omitempty"`
	Result      any                `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
}

func (r *Run) Info() RunInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := RunInfo{
		ID:          r.ID,
		Kind:        r.Kind,
		ContentType: r.ContentType,
		State:       r.state,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.finishedAt,
		Result:      r.result,
	}
	if r.err != nil {
		info.Error = r.err.Error()
	}
	return info
}

// Runner keeps the handles of detached runs. Runs are bound to the runner's
// base context, so cancelling it (on shutdown) stops them all.
type Runner struct {
	base context.Context
	keep int

	mu   sync.Mutex
	runs map[string]*Run
}

func NewRunner(base context.Context) *Runner {
	return &Runner{base: base, keep: 100, runs: make(map[string]*Run)}
}

// Start launches task in the background and returns its handle immediately.
func (rn *Runner) Start(kind models.SyncKind, ct models.ContentType, task Task) *Run {
	ctx, cancel := context.WithCancel(rn.base)
	run := &Run{
		ID:          uuid.NewString(),
		Kind:        kind,
		ContentType: ct,
		StartedAt:   time.Now().UTC(),
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       RunRunning,
	}

	rn.mu.Lock()
	rn.runs[run.ID] = run
	rn.pruneLocked()
	rn.mu.Unlock()

	go func() {
		defer cancel()
		defer close(run.done)

		res, err := task(ctx, run.ID)

		state := RunSucceeded
		switch {
		case ctx.Err() != nil:
			state = RunCancelled
		case err != nil:
			state = RunFailed
		}
		now := time.Now().UTC()

		run.mu.Lock()
		run.state = state
		run.result = res
		run.err = err
		run.finishedAt = &now
		run.mu.Unlock()

		ev := logging.Info()
		if err != nil {
			ev = logging.Warn().Err(err)
		}
		ev.Str("run_id", run.ID).Str("state", string(state)).Msg("[runner] detached run finished")
	}()
	return run
}

func (rn *Runner) Get(id string) (*Run, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	r, ok := rn.runs[id]
	return r, ok
}

// List returns every tracked run, newest first.
func (rn *Runner) List() []RunInfo {
	rn.mu.Lock()
	runs := make([]*Run, 0, len(rn.runs))
	for _, r := range rn.runs {
		runs = append(runs, r)
	}
	rn.mu.Unlock()

	out := make([]RunInfo, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// pruneLocked forgets the oldest finished runs beyond the keep limit.
func (rn *Runner) pruneLocked() {
	if len(rn.runs) <= rn.keep {
		return
	}
	var finished []*Run
	for _, r := range rn.runs {
		if r.State() != RunRunning {
			finished = append(finished, r)
		}
	}
	sort.Slice(finished, func(i, j int) bool { return finished[i].StartedAt.Before(finished[j].StartedAt) })
	for _, r := range finished {
		if len(rn.runs) <= rn.keep {
			return
		}
		delete(rn.runs, r.ID)
	}
}
