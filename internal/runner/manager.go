package runner

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

// Hooks receive run events. Both are called from the run goroutine.
type Hooks struct {
	OnProgress func(runID string, c Counters)
	OnFinish   func(rep Report)
}

type active struct {
	id    string
	token *Token
	kind  fleet.ActionKind
}

// Manager starts runs as detached goroutines, one per operator.
type Manager struct {
	runner *Runner
	base   context.Context

	mu   sync.Mutex
	runs map[int64]*active
	wg   sync.WaitGroup
}

// NewManager returns a manager whose runs inherit base, so cancelling base
// (process shutdown) stops every run.
func NewManager(base context.Context, r *Runner) *Manager {
	if base == nil {
		base = context.Background()
	}
	return &Manager{runner: r, base: base, runs: make(map[int64]*active)}
}

// Start launches plan for its operator and returns the run id. It does not
// wait for the run and is independent of ctx's lifetime; ctx only carries
// logging metadata.
func (m *Manager) Start(ctx context.Context, plan fleet.Plan, hooks Hooks) (string, error) {
	if len(plan.Accounts) == 0 {
		return "", fleet.ErrSelectionEmpty
	}
	m.mu.Lock()
	if _, busy := m.runs[plan.OperatorID]; busy {
		m.mu.Unlock()
		return "", fleet.ErrRunInProgress
	}
	run := &active{id: uuid.NewString(), token: NewToken(), kind: plan.Kind()}
	m.runs[plan.OperatorID] = run
	m.wg.Add(1)
	m.mu.Unlock()

	runCtx := logger.WithRID(m.base, logger.RIDFrom(ctx))
	runCtx = logger.WithUpdateMeta(runCtx, logger.UpdateIDFrom(ctx), logger.UserIDFrom(ctx), logger.ChatIDFrom(ctx))
	go func() {
		defer m.wg.Done()
		defer m.finish(plan.OperatorID, run)
		defer func() {
			if rec := recover(); rec != nil {
				logger.Panic(runCtx, component, "run.panic", rec,
					slog.String("run_id", run.id),
				)
			}
		}()

		var progress ProgressFunc
		if hooks.OnProgress != nil {
			progress = func(c Counters) { hooks.OnProgress(run.id, c) }
		}
		rep := m.runner.Run(runCtx, run.id, plan, progress, run.token)
		if hooks.OnFinish != nil {
			hooks.OnFinish(rep)
		}
	}()
	return run.id, nil
}

func (m *Manager) finish(operatorID int64, run *active) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.runs[operatorID]; ok && cur == run {
		delete(m.runs, operatorID)
	}
}

// Stop cancels the operator's active run. It reports false when none runs.
func (m *Manager) Stop(operatorID int64) bool {
	m.mu.Lock()
	run, ok := m.runs[operatorID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	run.token.Cancel()
	return true
}

// Active returns the operator's running action, if any.
func (m *Manager) Active(operatorID int64) (fleet.ActionKind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[operatorID]
	if !ok {
		return "", false
	}
	return run.kind, true
}

// Wait blocks until every started run returned or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
