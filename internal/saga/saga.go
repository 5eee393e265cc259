// Package saga implements the migration executor: an ordered queue of steps,
// a LIFO compensation stack, and a forward-data registry connecting them.
//
// None of the remote operations a step performs are transactional, so the
// executor's job is bookkeeping: know exactly which steps have produced
// effects that need undoing, and always run those undo actions — in reverse
// order — before handing control back, whether the run succeeded, aborted,
// or blew up.
package saga

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/heroku/heroku-pgmigrate/internal/runlog"
)

// StepID identifies a step kind. It keys the forward-data registry, so it
// must be stable across instances of the same kind.
type StepID string

// Step is a single unit of migration work.
//
// Perform receives the forward registry holding payloads published by steps
// that already completed. It fails in one of three ways: wrapped in
// NeedsCompensation when the step took effect before failing, with an
// AbortError when the run should stop without error noise, or with any
// other error for an unexpected fault. All three end the run and trigger
// the unwind.
//
// Steps that can undo their effect additionally implement Rollbacker.
type Step interface {
	ID() StepID
	Perform(ctx context.Context, fwd *Forward) (Outcome, error)
}

// Rollbacker is the optional compensation side of a Step. Rollback must be
// idempotent: it can run more than once across retried unwind attempts, and
// it must no-op when the step never actually performed (each concrete step
// keeps its captured state nil until Perform has run).
type Rollbacker interface {
	Rollback(ctx context.Context) error
}

// Outcome is what a successful Perform hands back to the executor.
type Outcome struct {
	// Next holds follow-up steps, appended to the back of the pending
	// queue in order. Never reordered, never deduplicated.
	Next []Step

	// Compensate holds steps that now require rollback, pushed onto the
	// compensation stack one at a time (so the last entry is undone
	// first). A step may register itself here even though it succeeded.
	Compensate []Step

	// Payload, when non-nil, is recorded in the forward registry under
	// the performing step's ID for later steps to read.
	Payload any
}

// Executor owns the pending queue, the compensation stack, and the forward
// registry for a single run. All of it is created fresh per Engage call;
// nothing survives the process.
type Executor struct {
	runID   string
	subject string
	runs    runlog.Repository // nil-safe: transitions are not persisted if nil

	// RollbackRetries is how many times a failing rollback is retried
	// (beyond the first attempt) before the unwind moves on.
	RollbackRetries uint64

	// RollbackWait is the initial backoff interval between rollback
	// attempts.
	RollbackWait time.Duration

	// Progress, when set, receives user-facing progress lines.
	Progress func(format string, args ...any)

	stack     []Step
	unwinding atomic.Bool
}

// NewExecutor builds an executor for one run. runID is the identifier
// recorded on every run-log entry; subject is a human-readable description
// of what is being migrated (typically the app name).
func NewExecutor(runID, subject string, runs runlog.Repository) *Executor {
	return &Executor{
		runID:           runID,
		subject:         subject,
		runs:            runs,
		RollbackRetries: 2,
		RollbackWait:    time.Second,
	}
}

// Unwinding reports whether compensation has started. Once true it never
// goes back to false: the signal handler consults it to suppress interrupts
// so the unwind is guaranteed to run to completion.
func (x *Executor) Unwinding() bool {
	return x.unwinding.Load()
}

// Engage runs the given steps in FIFO order, including any follow-ups they
// enqueue, then drains the compensation stack regardless of how the loop
// ended.
//
// It returns nil on success and on a clean abort (the reason is surfaced,
// not returned), and the propagated failure otherwise — but only after the
// unwind has run.
func (x *Executor) Engage(ctx context.Context, steps ...Step) error {
	queue := append([]Step(nil), steps...)
	fwd := NewForward()
	x.stack = x.stack[:0]

	x.record(ctx, runlog.StatusStarted, "", x.subject, nil)

	var runErr error
	var aborted *AbortError

loop:
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		step := queue[0]
		queue = queue[1:]

		slog.InfoContext(ctx, "performing step", "run_id", x.runID, "step", step.ID())
		x.progressf("running %s", step.ID())

		out, err := step.Perform(ctx, fwd)
		if err != nil {
			switch {
			case isCompensate(err):
				ce, _ := AsNeedsCompensation(err)
				x.push(ce.Step)
				runErr = err
			case isAbort(err):
				aborted, _ = AsAbort(err)
			default:
				runErr = err
			}
			break loop
		}

		queue = append(queue, out.Next...)
		for _, c := range out.Compensate {
			x.push(c)
		}
		if out.Payload != nil {
			fwd.Put(step.ID(), out.Payload)
		}

		x.record(ctx, runlog.StatusStepDone, string(step.ID()), "", nil)
	}

	// The loop may have ended because ctx was cancelled; everything from
	// here on (abort notice, unwind, final record) must still happen.
	ctx = context.WithoutCancel(ctx)

	if aborted != nil {
		slog.InfoContext(ctx, "migration aborted", "run_id", x.runID, "reason", aborted.Reason)
		x.progressf("%s", aborted.Reason)
		x.record(ctx, runlog.StatusAborted, "", aborted.Reason, nil)
	}

	x.unwind(ctx)

	switch {
	case runErr != nil:
		x.record(ctx, runlog.StatusFailed, "", "", []string{runErr.Error()})
	case aborted == nil:
		x.record(ctx, runlog.StatusCompleted, "", "", nil)
	}
	return runErr
}

// push adds a step to the compensation stack. Duplicate pushes are allowed;
// each entry's rollback runs independently during the unwind.
func (x *Executor) push(step Step) {
	x.stack = append(x.stack, step)
}

// unwind drains the compensation stack LIFO. Steps without a Rollbacker are
// skipped. A rollback that keeps failing after its retries is logged and
// recorded, never re-raised, so one bad compensation cannot block the rest.
//
// Cancellation is deliberately ignored here: the incoming context is
// detached so a second Ctrl-C cannot abandon the unwind partway.
func (x *Executor) unwind(ctx context.Context) {
	if len(x.stack) == 0 {
		return
	}

	x.unwinding.Store(true)
	ctx = context.WithoutCancel(ctx)

	x.record(ctx, runlog.StatusCompensating, "", "", nil)

	var failures []string
	for i := len(x.stack) - 1; i >= 0; i-- {
		step := x.stack[i]
		rb, ok := step.(Rollbacker)
		if !ok {
			continue
		}

		slog.InfoContext(ctx, "compensating step", "run_id", x.runID, "step", step.ID())
		x.progressf("undoing %s", step.ID())

		if err := x.retryRollback(ctx, rb); err != nil {
			slog.ErrorContext(ctx, "CRITICAL: compensation failed; manual cleanup may be required",
				"run_id", x.runID,
				"step", step.ID(),
				"error", err,
			)
			x.progressf("could not undo %s: %v", step.ID(), err)
			failures = append(failures, string(step.ID())+": "+err.Error())
		}
	}
	x.stack = nil

	if len(failures) > 0 {
		x.record(ctx, runlog.StatusCompensationFailed, "", "", failures)
	}
}

// retryRollback attempts a single step's rollback with bounded exponential
// backoff. The backoff starts at RollbackWait and gives up after
// RollbackRetries retries.
func (x *Executor) retryRollback(ctx context.Context, rb Rollbacker) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = x.RollbackWait

	return backoff.Retry(func() error {
		return rb.Rollback(ctx)
	}, backoff.WithMaxRetries(bo, x.RollbackRetries))
}

func (x *Executor) record(ctx context.Context, status runlog.Status, step, detail string, errs []string) {
	if x.runs == nil {
		return
	}
	entry := runlog.NewEntry(ctx, x.runID, status, step, detail, errs)
	if err := x.runs.Save(ctx, entry); err != nil {
		slog.WarnContext(ctx, "could not persist run log entry", "run_id", x.runID, "error", err)
	}
}

func (x *Executor) progressf(format string, args ...any) {
	if x.Progress != nil {
		x.Progress(format, args...)
	}
}

func isAbort(err error) bool {
	var ae *AbortError
	return errors.As(err, &ae)
}

func isCompensate(err error) bool {
	var ce *CompensateError
	return errors.As(err, &ce)
}
