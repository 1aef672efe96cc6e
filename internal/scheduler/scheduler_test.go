package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kingrea/journeysim/internal/checkpoint"
	"github.com/kingrea/journeysim/internal/generate"
	"github.com/kingrea/journeysim/internal/journey"
	"github.com/kingrea/journeysim/internal/lineage"
)

func testPolicy() Policy {
	policy := DefaultPolicy()
	policy.Seed = 7
	return policy
}

func newRun(t *testing.T, dir string, gen generate.Generator) (*Runner, *checkpoint.Store) {
	t.Helper()
	store, err := checkpoint.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	sched, err := New(testPolicy(), gen, store, DefaultCostModel(), nil)
	if err != nil {
		t.Fatal(err)
	}
	runner, err := NewRunner(sched, store, nil)
	if err != nil {
		t.Fatal(err)
	}
	return runner, store
}

func TestFreshRunCheckpointsEveryWeek(t *testing.T) {
	runner, store := newRun(t, filepath.Join(t.TempDir(), "cp"), generate.NewScripted(7))
	state, err := runner.Start(context.Background(), "Rohan Patel", 2)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if state.Week != 3 {
		t.Fatalf("state week after run = %d, want 3", state.Week)
	}

	weeks, err := store.Weeks()
	if err != nil {
		t.Fatal(err)
	}
	if len(weeks) != 3 {
		t.Fatalf("weeks = %v, want [0 1 2]", weeks)
	}
	for _, week := range weeks {
		loaded, transcript, err := store.Load(week)
		if err != nil {
			t.Fatalf("load week %d: %v", week, err)
		}
		if loaded.Week != week {
			t.Fatalf("week %d snapshot holds week %d", week, loaded.Week)
		}
		if transcript == "" {
			t.Fatalf("week %d has no transcript", week)
		}
	}
	if _, err := os.Stat(store.FullTranscriptPath()); err != nil {
		t.Fatalf("full transcript missing: %v", err)
	}
}

func TestWeekZeroRunsDiagnostics(t *testing.T) {
	runner, store := newRun(t, filepath.Join(t.TempDir(), "cp"), generate.NewScripted(7))
	if _, err := runner.Start(context.Background(), "Rohan Patel", 0); err != nil {
		t.Fatal(err)
	}
	state, _, err := store.Load(0)
	if err != nil {
		t.Fatal(err)
	}

	found := false
	for _, thread := range state.ThreadsForWeek(0) {
		if thread.Topic == journey.TopicDiagnostics {
			found = true
		}
		if !thread.Closed {
			t.Fatalf("thread %s not closed at finalize", thread.ID)
		}
	}
	if !found {
		t.Fatal("week 0 did not schedule a diagnostics thread")
	}
	// The panel is either still pending or was already interpreted within
	// the same thread, depending on how long the member kept it open.
	if state.Attributes[journey.AttrPendingTestResult] == "" && state.Attributes["glucose_status"] == "" {
		t.Fatal("week 0 diagnostics did not order a panel")
	}
	hasTest := false
	for _, d := range state.Decisions {
		if d.Kind == journey.KindTest {
			hasTest = true
			if d.Outcome != journey.OutcomeAccepted {
				t.Fatalf("finalized decision outcome = %s, want accepted", d.Outcome)
			}
		}
	}
	if !hasTest {
		t.Fatal("no test decision registered for the panel order")
	}
}

func TestResumeReproducesFreshRun(t *testing.T) {
	// Reference: one uninterrupted run through week 3.
	freshDir := filepath.Join(t.TempDir(), "fresh")
	freshRunner, _ := newRun(t, freshDir, generate.NewScripted(7))
	if _, err := freshRunner.Start(context.Background(), "Rohan Patel", 3); err != nil {
		t.Fatal(err)
	}

	// Interrupted: stop after week 1, then resume in a brand-new process
	// (fresh store, scheduler, tracker).
	resumeDir := filepath.Join(t.TempDir(), "resumed")
	firstHalf, _ := newRun(t, resumeDir, generate.NewScripted(7))
	if _, err := firstHalf.Start(context.Background(), "Rohan Patel", 1); err != nil {
		t.Fatal(err)
	}
	secondHalf, _ := newRun(t, resumeDir, generate.NewScripted(7))
	if _, err := secondHalf.Resume(context.Background(), 2, 3); err != nil {
		t.Fatal(err)
	}

	for _, week := range []int{2, 3} {
		name := fmt.Sprintf("week_%02d.json", week)
		fresh, err := os.ReadFile(filepath.Join(freshDir, name))
		if err != nil {
			t.Fatal(err)
		}
		resumed, err := os.ReadFile(filepath.Join(resumeDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if string(fresh) != string(resumed) {
			t.Fatalf("week %d checkpoint differs between fresh and resumed runs", week)
		}
	}
}

func TestResumeSurfacesMissingCheckpoint(t *testing.T) {
	runner, _ := newRun(t, filepath.Join(t.TempDir(), "cp"), generate.NewScripted(7))
	_, err := runner.Resume(context.Background(), 5, 8)
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("resume without checkpoint returned %v, want ErrNotFound", err)
	}
}

// roleFailing fails every call for one role and delegates the rest.
type roleFailing struct {
	inner generate.Generator
	role  journey.Role
	err   error
	calls int
}

func (g *roleFailing) Generate(ctx context.Context, req generate.Request) (generate.Reply, error) {
	if req.Role == g.role {
		g.calls++
		return generate.Reply{}, g.err
	}
	return g.inner.Generate(ctx, req)
}

func TestFailedThreadIsAnnotatedAndWeekFinalizes(t *testing.T) {
	inner := &roleFailing{
		inner: generate.NewScripted(7),
		role:  journey.RoleDiagnostics,
		err:   errors.New("provider rejected request"),
	}
	gen := generate.NewResilient(inner, generate.RetryConfig{MaxAttempts: 2},
		generate.WithSleep(func(context.Context, time.Duration) error { return nil }))

	runner, store := newRun(t, filepath.Join(t.TempDir(), "cp"), gen)
	if _, err := runner.Start(context.Background(), "Rohan Patel", 0); err != nil {
		t.Fatalf("a failed thread must not abort the run: %v", err)
	}

	state, _, err := store.Load(0)
	if err != nil {
		t.Fatalf("week 0 must still checkpoint: %v", err)
	}
	failed := 0
	for _, thread := range state.ThreadsForWeek(0) {
		if thread.Topic == journey.TopicDiagnostics {
			if thread.Failure == "" {
				t.Fatal("diagnostics thread should carry a failure annotation")
			}
			failed++
		}
		if !thread.Closed {
			t.Fatalf("thread %s not closed", thread.ID)
		}
	}
	if failed == 0 {
		t.Fatal("no failed diagnostics thread recorded")
	}
}

// flakyOnce fails the first attempts calls for a role, then recovers.
type flakyOnce struct {
	inner    generate.Generator
	role     journey.Role
	failures int
	calls    int
}

func (g *flakyOnce) Generate(ctx context.Context, req generate.Request) (generate.Reply, error) {
	if req.Role == g.role && g.calls < g.failures {
		g.calls++
		return generate.Reply{}, generate.Transient(errors.New("timeout"))
	}
	return g.inner.Generate(ctx, req)
}

func TestRetriedTurnAppendsExactlyOnce(t *testing.T) {
	inner := &flakyOnce{inner: generate.NewScripted(7), role: journey.RoleDiagnostics, failures: 2}
	gen := generate.NewResilient(inner, generate.RetryConfig{MaxAttempts: 3},
		generate.WithSleep(func(context.Context, time.Duration) error { return nil }))

	runner, store := newRun(t, filepath.Join(t.TempDir(), "cp"), gen)
	if _, err := runner.Start(context.Background(), "Rohan Patel", 0); err != nil {
		t.Fatal(err)
	}
	state, _, err := store.Load(0)
	if err != nil {
		t.Fatal(err)
	}
	// Save already validates the sequence invariant; double-check no thread
	// recorded a failure and the retried reply landed once.
	for _, thread := range state.ThreadsForWeek(0) {
		if thread.Failure != "" {
			t.Fatalf("thread %s failed despite recovery: %s", thread.ID, thread.Failure)
		}
		for seq, msg := range thread.Messages {
			if msg.Seq != seq {
				t.Fatalf("thread %s seq %d holds message seq %d", thread.ID, seq, msg.Seq)
			}
		}
	}
	if inner.calls != 2 {
		t.Fatalf("flaky generator saw %d failing calls, want 2", inner.calls)
	}
}

func TestWeekRNGIsStablePerWeek(t *testing.T) {
	for _, seed := range []int64{7, -3, 1 << 62} {
		a, b := weekRNG(seed, 4), weekRNG(seed, 4)
		for i := 0; i < 8; i++ {
			if a.Int63() != b.Int63() {
				t.Fatalf("seed %d: week 4 stream not reproducible at draw %d", seed, i)
			}
		}
		this, next := weekRNG(seed, 4), weekRNG(seed, 5)
		same := true
		for i := 0; i < 8; i++ {
			if this.Int63() != next.Int63() {
				same = false
			}
		}
		if same {
			t.Fatalf("seed %d: weeks 4 and 5 drew identical streams", seed)
		}
	}
}

// memberDropsOut fails the member's later turns in one topic and delegates
// everything else, so a thread dies after its lead already replied.
type memberDropsOut struct {
	inner generate.Generator
	topic journey.Topic
}

func (g *memberDropsOut) Generate(ctx context.Context, req generate.Request) (generate.Reply, error) {
	if req.Topic == g.topic && req.Role == journey.RoleMember && req.Turn >= 2 {
		return generate.Reply{}, errors.New("provider rejected request")
	}
	return g.inner.Generate(ctx, req)
}

func TestFailedThreadKeepsItsMintedDecisions(t *testing.T) {
	gen := generate.NewResilient(
		&memberDropsOut{inner: generate.NewScripted(7), topic: journey.TopicDiagnostics},
		generate.RetryConfig{MaxAttempts: 2},
		generate.WithSleep(func(context.Context, time.Duration) error { return nil }))

	store, err := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp"))
	if err != nil {
		t.Fatal(err)
	}
	sched, err := New(testPolicy(), gen, store, DefaultCostModel(), nil)
	if err != nil {
		t.Fatal(err)
	}
	state := journey.NewMemberState(RunID("Rohan Patel", 7), "Rohan Patel")
	tracker, err := lineage.NewTracker(state, lineage.WithClock(sched.Now))
	if err != nil {
		t.Fatal(err)
	}
	_, result, err := sched.RunWeek(context.Background(), state, tracker)
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 {
		t.Fatalf("failed threads = %d, want 1", result.Failed)
	}

	// The panel was ordered before the member call failed, so the decision
	// exists, stays proposed, and is still reported by the week.
	var panel journey.Decision
	for _, d := range state.Decisions {
		if d.Kind == journey.KindTest {
			panel = d
		}
	}
	if panel.ID == 0 {
		t.Fatal("panel order was not registered before the thread failed")
	}
	if panel.Outcome != journey.OutcomeProposed {
		t.Fatalf("decision from failed thread is %s, want proposed", panel.Outcome)
	}
	found := false
	for _, id := range result.DecisionIDs {
		if id == panel.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("result decisions %v do not include id %d from the failed thread", result.DecisionIDs, panel.ID)
	}
}

func TestRunWeekReportsAgentHours(t *testing.T) {
	store, err := checkpoint.NewStore(filepath.Join(t.TempDir(), "cp"))
	if err != nil {
		t.Fatal(err)
	}
	sched, err := New(testPolicy(), generate.NewScripted(7), store, DefaultCostModel(), nil)
	if err != nil {
		t.Fatal(err)
	}
	state := journey.NewMemberState(RunID("Rohan Patel", 7), "Rohan Patel")
	tracker, err := lineage.NewTracker(state, lineage.WithClock(sched.Now))
	if err != nil {
		t.Fatal(err)
	}
	_, result, err := sched.RunWeek(context.Background(), state, tracker)
	if err != nil {
		t.Fatal(err)
	}
	if result.Week != 0 || result.Threads == 0 {
		t.Fatalf("result = %+v", result)
	}
	if len(result.AgentHours) == 0 {
		t.Fatal("no agent hours recorded")
	}
	for role, hours := range result.AgentHours {
		if role == journey.RoleMember {
			t.Fatal("member time must not be billed")
		}
		if hours <= 0 {
			t.Fatalf("role %s billed %f hours", role, hours)
		}
	}
}

func TestRunIDIsStable(t *testing.T) {
	a := RunID("Rohan Patel", 7)
	b := RunID("Rohan Patel", 7)
	c := RunID("Rohan Patel", 8)
	if a != b {
		t.Fatal("same member and seed must produce the same run id")
	}
	if a == c {
		t.Fatal("different seeds must produce different run ids")
	}
}

func TestInterruptionStopsAfterLastCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	runner, store := newRun(t, filepath.Join(t.TempDir(), "cp"), generate.NewScripted(7))
	if _, err := runner.Start(ctx, "Rohan Patel", 3); err == nil {
		t.Fatal("cancelled run should report the interruption")
	}
	if _, ok, err := store.Latest(); err != nil || ok {
		t.Fatalf("cancelled-before-start run wrote checkpoints: ok=%v err=%v", ok, err)
	}
}
