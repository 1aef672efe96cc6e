package journey

import "time"

// Outcome tracks the lifecycle of a decision. Only the outcome and the
// superseding link may change after creation; everything else is immutable.
type Outcome string

const (
	OutcomeProposed   Outcome = "proposed"
	OutcomeAccepted   Outcome = "accepted"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeReversed   Outcome = "reversed"
)

// DecisionKind classifies what kind of intervention a decision carries. The
// flag precedence is medication > test > recommendation: a reply ordering a
// medication is a medication decision even if it also carries advice.
type DecisionKind string

const (
	KindRecommendation DecisionKind = "recommendation"
	KindMedication     DecisionKind = "medication"
	KindTest           DecisionKind = "test"
)

// EvidenceKind distinguishes the two reference targets an evidence entry may
// point at.
type EvidenceKind string

const (
	EvidenceDecision EvidenceKind = "decision"
	EvidenceMessage  EvidenceKind = "message"
)

// EvidenceRef points at a prior Decision or Message that informed a decision.
type EvidenceRef struct {
	Kind       EvidenceKind `json:"kind"`
	DecisionID int          `json:"decision_id,omitempty"`
	MessageID  string       `json:"message_id,omitempty"`
}

// DecisionEvidence builds a reference to a prior decision.
func DecisionEvidence(id int) EvidenceRef {
	return EvidenceRef{Kind: EvidenceDecision, DecisionID: id}
}

// MessageEvidence builds a reference to a message.
func MessageEvidence(id string) EvidenceRef {
	return EvidenceRef{Kind: EvidenceMessage, MessageID: id}
}

// Decision is the unit of traceability. IDs are minted by the lineage
// tracker as a run-wide monotonic sequence starting at 1.
type Decision struct {
	ID           int           `json:"id"`
	Week         int           `json:"week"`
	Agent        Role          `json:"agent"`
	Kind         DecisionKind  `json:"kind"`
	Subject      string        `json:"subject"`
	Rationale    string        `json:"rationale"`
	Evidence     []EvidenceRef `json:"evidence,omitempty"`
	Outcome      Outcome       `json:"outcome"`
	SupersededBy int           `json:"superseded_by,omitempty"`
	Successor    int           `json:"successor,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// EvidenceDecisionIDs returns only the decision-typed evidence references.
func (d Decision) EvidenceDecisionIDs() []int {
	var ids []int
	for _, ref := range d.Evidence {
		if ref.Kind == EvidenceDecision {
			ids = append(ids, ref.DecisionID)
		}
	}
	return ids
}

func (d Decision) clone() Decision {
	out := d
	out.Evidence = append([]EvidenceRef(nil), d.Evidence...)
	return out
}
