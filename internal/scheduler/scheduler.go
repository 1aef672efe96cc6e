// Package scheduler drives the week-by-week, thread-by-thread, turn-by-turn
// progression of a coaching journey. It owns the routing policy (which role
// leads which topic), registers decisions through the lineage tracker when a
// reply carries an intervention, and finalizes each week into the checkpoint
// store before the next may begin.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/journeysim/internal/checkpoint"
	"github.com/kingrea/journeysim/internal/generate"
	"github.com/kingrea/journeysim/internal/journey"
	"github.com/kingrea/journeysim/internal/lineage"
	"github.com/kingrea/journeysim/internal/logbook"
)

// Policy carries the tunable constants of the simulation. The reference
// execution model is single-threaded cooperative progression; the per-week
// schedule is derived from the seed alone so a resumed run re-derives the
// identical plan.
type Policy struct {
	MinThreads              int       `yaml:"min_threads"`
	MaxThreads              int       `yaml:"max_threads"`
	MaxTurns                int       `yaml:"max_turns"`
	DiagnosticIntervalWeeks int       `yaml:"diagnostic_interval_weeks"`
	ContextWindow           int       `yaml:"context_window"`
	Seed                    int64     `yaml:"seed"`
	StartDate               time.Time `yaml:"start_date"`
}

// DefaultPolicy returns the standard simulation constants.
func DefaultPolicy() Policy {
	return Policy{
		MinThreads:              2,
		MaxThreads:              4,
		MaxTurns:                12,
		DiagnosticIntervalWeeks: 12,
		ContextWindow:           20,
		Seed:                    1,
		StartDate:               time.Date(2024, time.December, 30, 10, 0, 0, 0, time.UTC),
	}
}

// WeekResult summarizes one finalized week. DecisionIDs lists every decision
// minted during the week, including those minted by a thread before its
// generation failed; decisions from failed threads remain proposed.
type WeekResult struct {
	Week        int
	Threads     int
	Failed      int
	DecisionIDs []int
	AgentHours  map[journey.Role]float64
	Transcript  string
}

// Scheduler runs weeks against a generation capability. It never mutates
// canonical state on a failed generation call; a thread that exhausts its
// retries is recorded with a failure annotation and the week finalizes with
// the threads that succeeded.
type Scheduler struct {
	policy Policy
	gen    generate.Generator
	store  *checkpoint.Store
	costs  CostModel
	log    *logbook.Logbook
	// now is the simulated timeline cursor; decision timestamps come from
	// here via the tracker's clock.
	now time.Time
}

// New wires a scheduler to its generator and checkpoint store.
func New(policy Policy, gen generate.Generator, store *checkpoint.Store, costs CostModel, log *logbook.Logbook) (*Scheduler, error) {
	if gen == nil {
		return nil, fmt.Errorf("scheduler: generator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("scheduler: checkpoint store is required")
	}
	if policy.MinThreads <= 0 || policy.MaxThreads < policy.MinThreads {
		return nil, fmt.Errorf("scheduler: invalid thread bounds %d..%d", policy.MinThreads, policy.MaxThreads)
	}
	if policy.MaxTurns <= 0 {
		policy.MaxTurns = DefaultPolicy().MaxTurns
	}
	if policy.ContextWindow <= 0 {
		policy.ContextWindow = DefaultPolicy().ContextWindow
	}
	if policy.StartDate.IsZero() {
		policy.StartDate = DefaultPolicy().StartDate
	}
	return &Scheduler{
		policy: policy,
		gen:    gen,
		store:  store,
		costs:  costs,
		log:    log,
		now:    policy.StartDate,
	}, nil
}

// Now returns the current simulated time. The lineage tracker uses it as its
// clock so decision timestamps land on the simulated timeline.
func (s *Scheduler) Now() time.Time {
	return s.now
}

// RunWeek simulates the state's current week, finalizes it into the
// checkpoint store, and advances the week index. Week N+1 never begins until
// week N is fully checkpointed.
func (s *Scheduler) RunWeek(ctx context.Context, state *journey.MemberState, tracker *lineage.Tracker) (*journey.MemberState, WeekResult, error) {
	week := state.Week
	result := WeekResult{Week: week}
	rng := weekRNG(s.policy.Seed, week)

	if week > 0 {
		state.Attributes.SetInt(journey.AttrWeeksSinceDiagnostic, state.Attributes.Int(journey.AttrWeeksSinceDiagnostic)+1)
		state.Attributes.SetInt(journey.AttrWeeksSinceTrip, state.Attributes.Int(journey.AttrWeeksSinceTrip)+1)
	}

	topics := s.topicsForWeek(state, rng)
	result.Threads = len(topics)
	s.log.Info("week %d: scheduling %d threads: %v", week, len(topics), topics)

	for i, topic := range topics {
		if err := ctx.Err(); err != nil {
			return state, result, err
		}
		decisions, err := s.runThread(ctx, state, tracker, week, i+1, topic)
		result.DecisionIDs = append(result.DecisionIDs, decisions...)
		if err != nil {
			var failed *generate.FailedError
			if errors.As(err, &failed) {
				// Partial failure: the thread is annotated and kept; the
				// rest of the week proceeds.
				result.Failed++
				s.log.Warn("week %d thread %d (%s): %v", week, i+1, topic, err)
				continue
			}
			return state, result, err
		}
	}

	s.finalizeWeek(state, tracker, week)
	result.AgentHours = s.costs.WeekHours(state, week)
	result.Transcript = RenderTranscript(state, week)

	if err := s.store.Save(week, state, result.Transcript); err != nil {
		return state, result, err
	}
	s.log.Info("week %d finalized: %d decisions, %d failed threads", week, len(result.DecisionIDs), result.Failed)
	state.AdvanceWeek()
	return state, result, nil
}

// topicsForWeek picks a bounded random thread count and fills the slots:
// topics demanded by outstanding state flags first, then the standard
// rotation.
func (s *Scheduler) topicsForWeek(state *journey.MemberState, rng *rand.Rand) []journey.Topic {
	count := s.policy.MinThreads + rng.Intn(s.policy.MaxThreads-s.policy.MinThreads+1)
	topics := s.outstandingTopics(state)
	if len(topics) > count {
		count = len(topics)
	}
	rotation := journey.RotationTopics()
	offset := rng.Intn(len(rotation))
	for i := 0; len(topics) < count && i < len(rotation); i++ {
		candidate := rotation[(offset+i)%len(rotation)]
		if !containsTopic(topics, candidate) {
			topics = append(topics, candidate)
		}
	}
	return topics
}

// outstandingTopics maps state flags to the topics that must run this week:
// a due or pending diagnostic routes to the diagnostics thread, an upcoming
// trip routes to travel, and an unaddressed elevated glucose result routes
// to nutrition.
func (s *Scheduler) outstandingTopics(state *journey.MemberState) []journey.Topic {
	attrs := state.Attributes
	var topics []journey.Topic
	diagnosticDue := state.Week == 0 ||
		attrs.Int(journey.AttrWeeksSinceDiagnostic) >= s.policy.DiagnosticIntervalWeeks
	if diagnosticDue || attrs[journey.AttrPendingTestResult] != "" {
		topics = append(topics, journey.TopicDiagnostics)
	}
	if attrs[journey.AttrUpcomingTrip] != "" {
		topics = append(topics, journey.TopicTravel)
	}
	if attrs["glucose_status"] == "elevated" && attrs["medication.metformin"] == "" {
		topics = append(topics, journey.TopicNutrition)
	}
	return topics
}

// runThread plays one thread to termination: the member opens, then turns
// alternate between the lead agent and the member until a resolved signal,
// an end-turn signal, or the turn cap. Returns the decision ids minted in
// the thread.
func (s *Scheduler) runThread(ctx context.Context, state *journey.MemberState, tracker *lineage.Tracker, week, ordinal int, topic journey.Topic) ([]int, error) {
	id := journey.ThreadID(week, ordinal)
	state.Threads = append(state.Threads, journey.Thread{ID: id, Week: week, Topic: topic})
	thread, _ := state.Thread(id)

	if err := s.takeTurn(ctx, state, thread, journey.RoleMember); err != nil {
		return nil, s.markFailure(thread, err)
	}
	var minted []int
	for thread.NextSeq() < s.policy.MaxTurns {
		lead := journey.LeadRole(topic, state.Attributes)
		ids, stop, err := s.agentTurn(ctx, state, tracker, thread, lead)
		if err != nil {
			return minted, s.markFailure(thread, err)
		}
		minted = append(minted, ids...)
		if stop || thread.NextSeq() >= s.policy.MaxTurns {
			break
		}
		if err := s.takeTurn(ctx, state, thread, journey.RoleMember); err != nil {
			return minted, s.markFailure(thread, err)
		}
		last := thread.Messages[len(thread.Messages)-1]
		if last.Annotations.EndTurn {
			break
		}
	}
	return minted, nil
}

// markFailure annotates the thread and passes generation failures through;
// lineage and invariant errors propagate as fatal.
func (s *Scheduler) markFailure(thread *journey.Thread, err error) error {
	var failed *generate.FailedError
	if errors.As(err, &failed) {
		thread.Failure = err.Error()
	}
	return err
}

// takeTurn requests one member reply and appends it. Canonical state is only
// touched after the generation call succeeds.
func (s *Scheduler) takeTurn(ctx context.Context, state *journey.MemberState, thread *journey.Thread, role journey.Role) error {
	reply, err := s.generate(ctx, state, thread, role)
	if err != nil {
		return err
	}
	_, err = s.applyReply(state, thread, role, reply)
	return err
}

// agentTurn requests one agent reply, appends it, and registers a decision
// when the reply is flagged as carrying a recommendation, medication, or
// test order.
func (s *Scheduler) agentTurn(ctx context.Context, state *journey.MemberState, tracker *lineage.Tracker, thread *journey.Thread, role journey.Role) ([]int, bool, error) {
	reply, err := s.generate(ctx, state, thread, role)
	if err != nil {
		return nil, false, err
	}
	msg, err := s.applyReply(state, thread, role, reply)
	if err != nil {
		return nil, false, err
	}
	var minted []int
	if reply.Annotations.CarriesDecision() {
		d, err := s.registerDecision(state, tracker, thread, role, msg)
		if err != nil {
			return nil, false, err
		}
		minted = append(minted, d.ID)
	}
	return minted, reply.Annotations.Resolved, nil
}

func (s *Scheduler) generate(ctx context.Context, state *journey.MemberState, thread *journey.Thread, role journey.Role) (generate.Reply, error) {
	history := thread.Messages
	if len(history) > s.policy.ContextWindow {
		history = history[len(history)-s.policy.ContextWindow:]
	}
	return s.gen.Generate(ctx, generate.Request{
		Role:       role,
		Topic:      thread.Topic,
		Week:       thread.Week,
		Turn:       thread.NextSeq(),
		MemberName: state.MemberName,
		History:    append([]journey.Message(nil), history...),
		Attributes: state.Attributes,
	})
}

// applyReply folds a successful reply into canonical state: the message is
// appended at the next sequence number and attribute writes land. Attribute
// keys are owned by their topic's thread, so writes within a week never
// conflict.
func (s *Scheduler) applyReply(state *journey.MemberState, thread *journey.Thread, role journey.Role, reply generate.Reply) (journey.Message, error) {
	seq := thread.NextSeq()
	s.now = s.timestamp(thread, seq)
	msg := journey.Message{
		ID:          s.messageID(state.RunID, thread.ID, seq),
		Seq:         seq,
		Speaker:     role,
		Timestamp:   s.now,
		Text:        reply.Text,
		Annotations: reply.Annotations,
	}
	if err := thread.Append(msg); err != nil {
		return journey.Message{}, err
	}
	for key, value := range reply.Annotations.Sets {
		state.Attributes[key] = value
	}
	return msg, nil
}

// registerDecision turns a flagged reply into a Decision. Evidence is the
// member message that prompted the reply plus, for every attribute the reply
// observed, the decision that last established that attribute.
func (s *Scheduler) registerDecision(state *journey.MemberState, tracker *lineage.Tracker, thread *journey.Thread, role journey.Role, msg journey.Message) (journey.Decision, error) {
	var evidence []journey.EvidenceRef
	for i := len(thread.Messages) - 1; i >= 0; i-- {
		if thread.Messages[i].Speaker == journey.RoleMember {
			evidence = append(evidence, journey.MessageEvidence(thread.Messages[i].ID))
			break
		}
	}
	for _, key := range msg.Annotations.Observes {
		if idText := state.Attributes[journey.DecisionAttrKey(key)]; idText != "" {
			if id, err := strconv.Atoi(idText); err == nil {
				evidence = append(evidence, journey.DecisionEvidence(id))
			}
		}
	}
	kind, subject := classifyReply(msg.Annotations)
	d, err := tracker.CreateDecision(thread.Week, role, kind, subject, msg.Text, evidence)
	if err != nil {
		return journey.Decision{}, err
	}
	thread.RecordDecision(d.ID)
	// Record which decision established each attribute this reply set, so a
	// later decision observing the attribute links back to this one.
	for key := range msg.Annotations.Sets {
		state.Attributes[journey.DecisionAttrKey(key)] = strconv.Itoa(d.ID)
	}
	return d, nil
}

// classifyReply picks the decision kind by flag precedence and its subject.
func classifyReply(a journey.Annotations) (journey.DecisionKind, string) {
	switch {
	case len(a.Medications) > 0:
		return journey.KindMedication, a.Medications[0]
	case len(a.Tests) > 0:
		return journey.KindTest, a.Tests[0]
	default:
		return journey.KindRecommendation, a.Recommendations[0]
	}
}

// finalizeWeek closes the week's threads and accepts the decisions minted by
// threads that completed without a generation failure.
func (s *Scheduler) finalizeWeek(state *journey.MemberState, tracker *lineage.Tracker, week int) {
	for _, thread := range state.ThreadsForWeek(week) {
		thread.Close()
		if thread.Failure != "" {
			continue
		}
		for _, id := range thread.DecisionIDs {
			// Accept can only fail for decisions that already moved past
			// proposed, which finalization never re-visits.
			_ = tracker.Accept(id)
		}
	}
}

// timestamp places a turn on the simulated timeline: threads are spread
// across the days of the week, turns a few minutes apart.
func (s *Scheduler) timestamp(thread *journey.Thread, seq int) time.Time {
	ordinal := threadOrdinal(thread.ID)
	return s.policy.StartDate.
		AddDate(0, 0, thread.Week*7+(ordinal-1)).
		Add(time.Duration(seq) * 5 * time.Minute)
}

// messageID derives a stable message identifier from the run, thread, and
// sequence number, so checkpoints are a pure function of the simulation.
func (s *Scheduler) messageID(runID, threadID string, seq int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%s|%d", runID, threadID, seq))).String()
}

func threadOrdinal(threadID string) int {
	var week, ordinal int
	if _, err := fmt.Sscanf(threadID, "w%d-t%d", &week, &ordinal); err != nil {
		return 1
	}
	return ordinal
}

// weekRNG derives the per-week randomness from the run seed alone, so a
// resumed run draws the same schedule for a re-run week. The mixing happens
// in uint64 because the multiplier does not fit in int64.
func weekRNG(seed int64, week int) *rand.Rand {
	mixed := uint64(seed) ^ (uint64(week)+1)*0x9E3779B97F4A7C15
	return rand.New(rand.NewSource(int64(mixed)))
}

func containsTopic(topics []journey.Topic, topic journey.Topic) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}
