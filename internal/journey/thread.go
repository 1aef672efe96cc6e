package journey

import (
	"fmt"
	"time"
)

// Annotations carry the structured flags attached to a generated reply. They
// are the only channel through which generation output influences canonical
// state: recommendation/medication/test flags become Decisions, Sets becomes
// attribute writes, and Resolved/EndTurn terminate the thread.
type Annotations struct {
	Recommendations []string          `json:"recommendations,omitempty"`
	Medications     []string          `json:"medications,omitempty"`
	Tests           []string          `json:"tests,omitempty"`
	Observes        []string          `json:"observes,omitempty"`
	Sets            map[string]string `json:"sets,omitempty"`
	Resolved        bool              `json:"resolved,omitempty"`
	EndTurn         bool              `json:"end_turn,omitempty"`
}

// CarriesDecision reports whether the reply must be registered as a Decision.
func (a Annotations) CarriesDecision() bool {
	return len(a.Recommendations) > 0 || len(a.Medications) > 0 || len(a.Tests) > 0
}

// Message is one turn within a thread. Messages are append-only; sequence
// numbers are strictly increasing from 0 within their thread.
type Message struct {
	ID          string      `json:"id"`
	Seq         int         `json:"seq"`
	Speaker     Role        `json:"speaker"`
	Timestamp   time.Time   `json:"timestamp"`
	Text        string      `json:"text"`
	Annotations Annotations `json:"annotations"`
}

// Thread is one topical exchange within a week. It is created open, collects
// messages turn by turn, and becomes immutable when the week finalizes.
type Thread struct {
	ID           string    `json:"id"`
	Week         int       `json:"week"`
	Topic        Topic     `json:"topic"`
	Messages     []Message `json:"messages"`
	Participants []Role    `json:"participants"`
	DecisionIDs  []int     `json:"decision_ids,omitempty"`
	Closed       bool      `json:"closed"`
	// Failure records why generation aborted this thread, if it did. The
	// thread still counts toward the week; it is not discarded.
	Failure string `json:"failure,omitempty"`
}

// ThreadID builds the run-unique identifier for a thread.
func ThreadID(week, ordinal int) string {
	return fmt.Sprintf("w%02d-t%d", week, ordinal)
}

// NextSeq returns the sequence number the next appended message must carry.
func (t *Thread) NextSeq() int {
	return len(t.Messages)
}

// Append adds a message to an open thread, enforcing the sequence invariant.
func (t *Thread) Append(msg Message) error {
	if t.Closed {
		return &InvariantViolation{Reason: fmt.Sprintf("append to closed thread %s", t.ID)}
	}
	if msg.Seq != t.NextSeq() {
		return &InvariantViolation{Reason: fmt.Sprintf("thread %s: message seq %d, want %d", t.ID, msg.Seq, t.NextSeq())}
	}
	t.Messages = append(t.Messages, msg)
	t.addParticipant(msg.Speaker)
	return nil
}

// RecordDecision links a decision produced by this thread.
func (t *Thread) RecordDecision(id int) {
	for _, existing := range t.DecisionIDs {
		if existing == id {
			return
		}
	}
	t.DecisionIDs = append(t.DecisionIDs, id)
}

// Close marks the thread immutable. Closing twice is a no-op.
func (t *Thread) Close() {
	t.Closed = true
}

// Message returns the message with the given id, if present.
func (t *Thread) Message(id string) (Message, bool) {
	for _, msg := range t.Messages {
		if msg.ID == id {
			return msg, true
		}
	}
	return Message{}, false
}

func (t *Thread) addParticipant(role Role) {
	for _, existing := range t.Participants {
		if existing == role {
			return
		}
	}
	t.Participants = append(t.Participants, role)
}

func (t *Thread) clone() Thread {
	out := *t
	out.Messages = make([]Message, len(t.Messages))
	for i, msg := range t.Messages {
		out.Messages[i] = msg.clone()
	}
	out.Participants = append([]Role(nil), t.Participants...)
	out.DecisionIDs = append([]int(nil), t.DecisionIDs...)
	return out
}

func (m Message) clone() Message {
	out := m
	out.Annotations = m.Annotations.clone()
	return out
}

func (a Annotations) clone() Annotations {
	out := a
	out.Recommendations = append([]string(nil), a.Recommendations...)
	out.Medications = append([]string(nil), a.Medications...)
	out.Tests = append([]string(nil), a.Tests...)
	out.Observes = append([]string(nil), a.Observes...)
	if a.Sets != nil {
		out.Sets = make(map[string]string, len(a.Sets))
		for k, v := range a.Sets {
			out.Sets[k] = v
		}
	}
	return out
}
