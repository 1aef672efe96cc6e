package lineage

import (
	"errors"
	"fmt"

	"github.com/kingrea/journeysim/internal/journey"
)

// ErrUnknownDecision is returned when an operation names a decision id that
// was never minted.
var ErrUnknownDecision = errors.New("lineage: unknown decision")

// InvalidEvidenceError reports an evidence reference that does not exist yet
// or points forward in week order.
type InvalidEvidenceError struct {
	Ref    journey.EvidenceRef
	Week   int
	Reason string
}

func (e *InvalidEvidenceError) Error() string {
	if e.Ref.Kind == journey.EvidenceMessage {
		return fmt.Sprintf("lineage: invalid evidence message %q: %s", e.Ref.MessageID, e.Reason)
	}
	return fmt.Sprintf("lineage: invalid evidence decision %d: %s", e.Ref.DecisionID, e.Reason)
}

// CycleError reports an edge that would make the lineage graph cyclic.
type CycleError struct {
	Parent int
	Child  int
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("lineage: linking %d -> %d would create a cycle", e.Parent, e.Child)
}
