// Package runner executes confirmed plans across accounts, one session at a
// time, with delays, progress callbacks and cancellation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/m3rciful/fleetbot/core/logger"
	"github.com/m3rciful/fleetbot/internal/classify"
	"github.com/m3rciful/fleetbot/internal/fleet"
)

const component = "fleet.runner"

var errCancelled = errors.New("runner: cancelled")

// Options controls delays and reporting. Zero values get defaults in New.
type Options struct {
	// AccountDelay separates two accounts; RiskyDelay replaces it for
	// credential and photo changes.
	AccountDelay time.Duration
	RiskyDelay   time.Duration
	// RepeatDelay separates repetitions within one account.
	RepeatDelay time.Duration
	// Jitter adds a random [0, Jitter) to account delays.
	Jitter time.Duration
	// ProgressEvery is the progress callback cadence in accounts.
	ProgressEvery int
	// DetailLimit caps the outcomes kept in the report.
	DetailLimit int
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Runner executes plans. It is safe for concurrent use by different runs.
type Runner struct {
	provider fleet.SessionProvider
	store    fleet.AccountStore
	locks    *Locks
	opts     Options
}

// New builds a runner. store may be nil, in which case nothing is written back.
func New(provider fleet.SessionProvider, store fleet.AccountStore, locks *Locks, opts Options) *Runner {
	if opts.AccountDelay < 0 {
		opts.AccountDelay = 0
	}
	if opts.RiskyDelay < opts.AccountDelay {
		opts.RiskyDelay = opts.AccountDelay
	}
	if opts.RepeatDelay < 0 {
		opts.RepeatDelay = 0
	}
	if opts.Jitter < 0 {
		opts.Jitter = 0
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 10
	}
	if opts.DetailLimit <= 0 {
		opts.DetailLimit = 20
	}
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if locks == nil {
		locks = NewLocks()
	}
	return &Runner{provider: provider, store: store, locks: locks, opts: opts}
}

// Run executes plan in account order. Per-account failures never stop the
// run; cancellation through token or ctx returns the partial report.
func (r *Runner) Run(ctx context.Context, runID string, plan fleet.Plan, onProgress ProgressFunc, token *Token) Report {
	if token == nil {
		token = NewToken()
	}
	ctx = logger.WithRun(ctx, runID)
	rep := Report{
		RunID:     runID,
		Action:    plan.Kind(),
		Counters:  Counters{Total: len(plan.Accounts)},
		StartedAt: r.opts.Now(),
	}
	logger.Info(ctx, component, "run.start",
		slog.String("action", string(rep.Action)),
		slog.Int64("operator_id", plan.OperatorID),
		slog.Int("accounts", len(plan.Accounts)),
		slog.Int("repeat", plan.Repeat),
	)

	reported := 0
	progress := func() {
		if onProgress != nil && rep.Counters.Processed != reported {
			reported = rep.Counters.Processed
			onProgress(rep.Counters)
		}
	}

	for i, acc := range plan.Accounts {
		if token.Cancelled() || ctx.Err() != nil {
			rep.Cancelled = true
			break
		}
		if i > 0 {
			if err := r.wait(ctx, token, r.accountDelay(plan.Kind())); err != nil {
				rep.Cancelled = true
				break
			}
		}

		out, stopped, err := r.account(ctx, plan, i, acc, token)
		if err != nil {
			rep.Cancelled = true
			break
		}
		r.record(&rep, out)
		if stopped {
			rep.Cancelled = true
			break
		}
		if rep.Counters.Processed%r.opts.ProgressEvery == 0 {
			progress()
		}
	}
	progress()

	rep.FinishedAt = r.opts.Now()
	status := "ok"
	if rep.Cancelled {
		status = "cancelled"
	}
	logger.Info(ctx, component, "run.finish",
		slog.String("status", status),
		slog.String("action", string(rep.Action)),
		slog.Int("processed", rep.Counters.Processed),
		slog.Int("success", rep.Counters.Success),
		slog.Int("failed", rep.Counters.Failed),
		slog.Int("sent", rep.Counters.Sent),
		slog.Int64("duration_ms", rep.Duration().Milliseconds()),
	)
	return rep
}

func (r *Runner) record(rep *Report, out Outcome) {
	rep.Counters.Processed++
	if out.Succeeded() {
		rep.Counters.Success++
	} else {
		rep.Counters.Failed++
	}
	rep.Counters.Sent += out.Sent
	if len(rep.Outcomes) < r.opts.DetailLimit {
		rep.Outcomes = append(rep.Outcomes, out)
	} else {
		rep.Truncated++
	}
}

// account processes one account. stopped reports that a cancel cut its
// repetitions short; the outcome is still recorded. An error means the run
// ended before the account produced a result: cancelled before it was
// touched, or the process shutting down mid-call.
func (r *Runner) account(ctx context.Context, plan fleet.Plan, idx int, acc fleet.Account, token *Token) (out Outcome, stopped bool, err error) {
	ctx = logger.WithAccount(ctx, acc.ID)
	out = Outcome{AccountID: acc.ID, Label: acc.Label()}

	release, err := r.locks.Acquire(ctx, acc.ID, token.Done())
	if err != nil {
		return out, false, err
	}
	defer release()

	sess, err := r.provider.Open(ctx, acc.Credential())
	if err != nil && ctx.Err() != nil {
		r.logInterrupted(ctx, plan, err)
		return out, false, errCancelled
	}
	if err != nil {
		res := classify.Classify(err)
		out.Kind = classify.PermanentReject
		out.Code = res.Code
		out.Detail = "connection error"
		out.At = r.opts.Now()
		r.writeBack(ctx, acc, failurePatch(plan, res, out.At))
		r.logOutcome(ctx, plan, out, err)
		return out, false, nil
	}
	defer func() {
		if cerr := sess.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn(ctx, component, "session.close",
				slog.String("status", "fail"),
				slog.String("err", cerr.Error()),
			)
		}
	}()

	var (
		last    classify.Result
		failure *classify.Result
		patch   fleet.Patch
		lastErr error
	)
	for rep := 0; rep < plan.Repeat; rep++ {
		if rep > 0 {
			if token.Cancelled() {
				stopped = true
				break
			}
			if err := r.wait(ctx, token, r.opts.RepeatDelay); err != nil {
				stopped = true
				break
			}
		}
		p, err := apply(ctx, sess, plan, idx, rep, r.opts.Now())
		if err != nil && ctx.Err() != nil {
			r.logInterrupted(ctx, plan, err)
			return out, false, errCancelled
		}
		res := classify.Classify(err)
		out.Attempts++
		if res.Kind.Succeeded() {
			out.Sent++
			last = res
			if !p.Empty() {
				patch = p
			}
			continue
		}
		lastErr = err
		if failure == nil {
			f := res
			failure = &f
		}
		if res.Kind == classify.Throttled {
			break
		}
	}

	out.At = r.opts.Now()
	switch {
	case failure != nil:
		out.Kind = failure.Kind
		out.Code = failure.Code
		out.Detail = failure.Detail
		if out.Sent > 0 {
			out.Detail = fmt.Sprintf("%d/%d sent, %s", out.Sent, out.Attempts, failure.Detail)
		}
		r.writeBack(ctx, acc, failurePatch(plan, *failure, out.At))
	default:
		out.Kind = last.Kind
		out.Code = last.Code
		out.Detail = last.Detail
		r.writeBack(ctx, acc, patch)
	}
	if stopped {
		out.Detail = fmt.Sprintf("%d/%d sent, stopped", out.Sent, plan.Repeat)
	}
	r.logOutcome(ctx, plan, out, lastErr)
	return out, stopped, nil
}

func (r *Runner) logInterrupted(ctx context.Context, plan fleet.Plan, err error) {
	logger.Info(ctx, component, "run.account",
		slog.String("status", "cancelled"),
		slog.String("action", string(plan.Kind())),
		slog.String("err", logger.SanitizeLimit(err.Error(), 256)),
	)
}

// failurePatch marks revoked or frozen accounts. Health checks also record
// the check time on failure.
func failurePatch(plan fleet.Plan, res classify.Result, at time.Time) fleet.Patch {
	var p fleet.Patch
	if res.Status != "" {
		p.Status = fleet.StatusPtr(res.Status)
	}
	if plan.Kind() == fleet.ActionCheck {
		p.LastCheckedAt = &at
	}
	return p
}

func (r *Runner) writeBack(ctx context.Context, acc fleet.Account, p fleet.Patch) {
	if r.store == nil || p.Empty() {
		return
	}
	if err := r.store.UpdateOne(context.WithoutCancel(ctx), acc.ID, p); err != nil {
		logger.Warn(ctx, component, "account.write_back",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
}

func (r *Runner) logOutcome(ctx context.Context, plan fleet.Plan, out Outcome, err error) {
	status := "ok"
	if !out.Succeeded() {
		status = "fail"
		if out.Kind == classify.Throttled {
			status = "rate_limited"
		}
	}
	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("action", string(plan.Kind())),
		slog.String("kind", out.Kind.String()),
		slog.Int("attempts", out.Attempts),
	}
	if out.Code != "" {
		attrs = append(attrs, slog.String("err_code", out.Code))
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", logger.SanitizeLimit(err.Error(), 256)))
	}
	logger.Info(ctx, component, "run.account", attrs...)
}

func (r *Runner) accountDelay(kind fleet.ActionKind) time.Duration {
	d := r.opts.AccountDelay
	if kind.Risky() {
		d = r.opts.RiskyDelay
	}
	if r.opts.Jitter > 0 {
		d += rand.N(r.opts.Jitter)
	}
	return d
}

// wait sleeps for d unless the run is cancelled first.
func (r *Runner) wait(ctx context.Context, token *Token, d time.Duration) error {
	if token.Cancelled() {
		return errCancelled
	}
	if d <= 0 {
		return nil
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-waitCtx.Done():
		}
	}()
	if err := r.opts.Sleep(waitCtx, d); err != nil {
		return err
	}
	if token.Cancelled() {
		return errCancelled
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
