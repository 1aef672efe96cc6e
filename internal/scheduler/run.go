package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kingrea/journeysim/internal/checkpoint"
	"github.com/kingrea/journeysim/internal/journey"
	"github.com/kingrea/journeysim/internal/lineage"
	"github.com/kingrea/journeysim/internal/logbook"
)

// Runner drives a full simulation from a starting week to a final week. It
// owns the explicit state object and the lineage tracker bound to it; there
// is no ambient global run state.
type Runner struct {
	sched *Scheduler
	store *checkpoint.Store
	log   *logbook.Logbook
}

// NewRunner builds a runner around a scheduler and its store.
func NewRunner(sched *Scheduler, store *checkpoint.Store, log *logbook.Logbook) (*Runner, error) {
	if sched == nil {
		return nil, fmt.Errorf("scheduler: runner requires a scheduler")
	}
	if store == nil {
		return nil, fmt.Errorf("scheduler: runner requires a checkpoint store")
	}
	return &Runner{sched: sched, store: store, log: log}, nil
}

// RunID derives the run identifier from the member and seed, so the same
// configuration names the same run.
func RunID(memberName string, seed int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("journeysim|%s|%d", memberName, seed))).String()
}

// Start begins a fresh journey at week 0 and simulates through finalWeek
// inclusive.
func (r *Runner) Start(ctx context.Context, memberName string, finalWeek int) (*journey.MemberState, error) {
	if finalWeek < 0 {
		return nil, fmt.Errorf("scheduler: final week %d is negative", finalWeek)
	}
	state := journey.NewMemberState(RunID(memberName, r.sched.policy.Seed), memberName)
	r.log.Info("starting run %s for %s through week %d", state.RunID, memberName, finalWeek)
	return r.loop(ctx, state, finalWeek)
}

// Resume reloads the state exactly as of checkpoint fromWeek-1 and continues
// as if the run had never stopped. A missing or corrupt checkpoint is
// surfaced to the operator; it is never silently treated as a fresh start.
func (r *Runner) Resume(ctx context.Context, fromWeek, finalWeek int) (*journey.MemberState, error) {
	if fromWeek <= 0 {
		return nil, fmt.Errorf("scheduler: resume needs a positive week, got %d", fromWeek)
	}
	state, _, err := r.store.Load(fromWeek - 1)
	if err != nil {
		return nil, fmt.Errorf("scheduler: resume from week %d: %w", fromWeek, err)
	}
	state.AdvanceWeek()
	r.log.Info("resuming run %s at week %d through week %d", state.RunID, fromWeek, finalWeek)
	return r.loop(ctx, state, finalWeek)
}

// loop simulates week after week. An interrupted run simply stops after the
// last successfully saved checkpoint; resume is the sole recovery mechanism.
func (r *Runner) loop(ctx context.Context, state *journey.MemberState, finalWeek int) (*journey.MemberState, error) {
	tracker, err := lineage.NewTracker(state, lineage.WithClock(r.sched.Now))
	if err != nil {
		return nil, err
	}
	for state.Week <= finalWeek {
		if err := ctx.Err(); err != nil {
			r.log.Warn("run interrupted before week %d: %v", state.Week, err)
			return state, err
		}
		if _, _, err := r.sched.RunWeek(ctx, state, tracker); err != nil {
			return state, err
		}
	}
	if err := r.store.WriteFullTranscript(); err != nil {
		return state, err
	}
	r.log.Info("run %s complete through week %d", state.RunID, finalWeek)
	return state, nil
}
