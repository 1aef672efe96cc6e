package episode

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/kingrea/journeysim/internal/journey"
)

// Episode is a derived, recomputable view of one journey segment. It carries
// no independent source of truth: it is always rebuildable from checkpoints.
type Episode struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Outcome     string `json:"outcome"`
	WeekFrom    int    `json:"week_from"`
	WeekTo      int    `json:"week_to"`
	Trigger     string `json:"trigger"`
	DecisionIDs []int  `json:"decision_ids,omitempty"`
}

// AttrChange records one attribute transition between two checkpoints.
type AttrChange struct {
	Key string
	Old string
	New string
}

// Delta is the difference between two consecutive checkpoints.
type Delta struct {
	FromWeek     int
	ToWeek       int
	NewDecisions []journey.Decision
	NewThreadIDs []string
	Changed      []AttrChange
}

// Diff computes the state delta from prev to next. prev may be nil for the
// first checkpoint, in which case the delta is measured against a fresh
// member state so the seeded counters are not reported as changes.
// Scheduler bookkeeping attributes are folded into the decisions that own
// them and excluded from the attribute delta.
func Diff(prev, next *journey.MemberState) Delta {
	delta := Delta{ToWeek: next.Week}
	prevMax := 0
	prevThreads := map[string]struct{}{}
	prevAttrs := journey.NewMemberState("", "").Attributes
	if prev != nil {
		delta.FromWeek = prev.Week
		prevMax = prev.MaxDecisionID()
		for i := range prev.Threads {
			prevThreads[prev.Threads[i].ID] = struct{}{}
		}
		prevAttrs = prev.Attributes
	}
	for i := range next.Decisions {
		if next.Decisions[i].ID > prevMax {
			delta.NewDecisions = append(delta.NewDecisions, next.Decisions[i])
		}
	}
	for i := range next.Threads {
		if _, ok := prevThreads[next.Threads[i].ID]; !ok {
			delta.NewThreadIDs = append(delta.NewThreadIDs, next.Threads[i].ID)
		}
	}
	for _, key := range next.Attributes.SortedKeys() {
		if journey.IsDecisionAttrKey(key) {
			continue
		}
		if old := prevAttrs[key]; old != next.Attributes[key] {
			delta.Changed = append(delta.Changed, AttrChange{Key: key, Old: old, New: next.Attributes[key]})
		}
	}
	return delta
}

// Extractor turns a checkpoint sequence into episodes using a configured
// rule table.
type Extractor struct {
	rules []Rule
}

// NewExtractor builds an extractor; a nil rule set means DefaultRules.
func NewExtractor(rules []Rule) *Extractor {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Extractor{rules: rules}
}

// Extract processes consecutive checkpoint pairs in order. The snapshot
// slice must be ordered by strictly increasing week index.
func (e *Extractor) Extract(snapshots []*journey.MemberState) ([]Episode, error) {
	episodes := []Episode{}
	counters := map[string]int{}
	var prev *journey.MemberState
	for _, next := range snapshots {
		if next == nil {
			return nil, fmt.Errorf("episode: nil snapshot in sequence")
		}
		if prev != nil && next.Week <= prev.Week {
			return nil, fmt.Errorf("episode: snapshots out of order at week %d", next.Week)
		}
		episodes = append(episodes, e.extractPair(Diff(prev, next), next, counters)...)
		prev = next
	}
	return episodes, nil
}

// extractPair classifies every unit of one delta. Attribute changes already
// explained by a new decision are not reported a second time.
func (e *Extractor) extractPair(delta Delta, state *journey.MemberState, counters map[string]int) []Episode {
	var episodes []Episode
	newIDs := map[int]struct{}{}
	for _, d := range delta.NewDecisions {
		newIDs[d.ID] = struct{}{}
		episodes = append(episodes, e.decisionEpisode(d, state, counters))
	}
	for _, change := range delta.Changed {
		if e.ownedByNewDecision(change.Key, state, newIDs) {
			continue
		}
		episodes = append(episodes, e.attributeEpisode(change, delta.ToWeek, counters))
	}
	return episodes
}

func (e *Extractor) decisionEpisode(d journey.Decision, state *journey.MemberState, counters map[string]int) Episode {
	tag := TypeStateChange
	for _, rule := range e.rules {
		if rule.matchesDecision(d) {
			tag = rule.Type
			break
		}
	}
	ids := evidenceClosure(d, state)
	weekFrom := d.Week
	for _, id := range ids {
		if other, ok := state.Decision(id); ok && other.Week < weekFrom {
			weekFrom = other.Week
		}
	}
	return Episode{
		ID:          nextEpisodeID(counters, d.Week, tag),
		Type:        tag,
		Outcome:     decisionOutcome(d.Kind),
		WeekFrom:    weekFrom,
		WeekTo:      d.Week,
		Trigger:     fmt.Sprintf("decision %d (%s %q) by %s", d.ID, d.Kind, d.Subject, d.Agent),
		DecisionIDs: ids,
	}
}

func (e *Extractor) attributeEpisode(change AttrChange, week int, counters map[string]int) Episode {
	tag := TypeStateChange
	for _, rule := range e.rules {
		if rule.matchesAttribute(change.Key, change.New) {
			tag = rule.Type
			break
		}
	}
	return Episode{
		ID:       nextEpisodeID(counters, week, tag),
		Type:     tag,
		Outcome:  attributeOutcome(tag),
		WeekFrom: week,
		WeekTo:   week,
		Trigger:  fmt.Sprintf("attribute %s changed %q -> %q", change.Key, change.Old, change.New),
	}
}

// ownedByNewDecision reports whether the attribute's last write is credited
// to a decision minted in this delta.
func (e *Extractor) ownedByNewDecision(key string, state *journey.MemberState, newIDs map[int]struct{}) bool {
	idText := state.Attributes[journey.DecisionAttrKey(key)]
	if idText == "" {
		return false
	}
	id, err := strconv.Atoi(idText)
	if err != nil {
		return false
	}
	_, ok := newIDs[id]
	return ok
}

// evidenceClosure returns the decision plus its transitive evidence,
// ascending by id.
func evidenceClosure(d journey.Decision, state *journey.MemberState) []int {
	seen := map[int]struct{}{}
	stack := []int{d.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		current, ok := state.Decision(id)
		if !ok {
			continue
		}
		stack = append(stack, current.EvidenceDecisionIDs()...)
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func nextEpisodeID(counters map[string]int, week int, tag string) string {
	key := fmt.Sprintf("w%02d-%s", week, tag)
	counters[key]++
	return fmt.Sprintf("ep-%s-%d", key, counters[key])
}
