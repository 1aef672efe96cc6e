package scheduler

import (
	"fmt"
	"strings"

	"github.com/kingrea/journeysim/internal/journey"
)

// RenderTranscript formats one week's messages as the human-readable
// artifact stored next to the JSON checkpoint.
func RenderTranscript(state *journey.MemberState, week int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Week %d ===\n", week)
	for _, thread := range state.ThreadsForWeek(week) {
		fmt.Fprintf(&b, "\n--- Thread %s (%s) ---\n", thread.ID, thread.Topic)
		if thread.Failure != "" {
			fmt.Fprintf(&b, "[thread aborted: %s]\n", thread.Failure)
		}
		for _, msg := range thread.Messages {
			stamp := msg.Timestamp.Format("Mon, Jan 02, 03:04 PM")
			fmt.Fprintf(&b, "[%s] [%s]: %s\n", stamp, strings.ToUpper(msg.Speaker.DisplayName()), msg.Text)
		}
		if len(thread.DecisionIDs) > 0 {
			fmt.Fprintf(&b, "[decisions: %v]\n", thread.DecisionIDs)
		}
	}
	b.WriteString("\n")
	return b.String()
}
