package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/kingrea/journeysim/internal/journey"
	"github.com/kingrea/journeysim/internal/lineage"
)

func newTraceCmd() *cobra.Command {
	var week int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "trace <decision-id>",
		Short: "Show the evidence chain behind a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("decision id must be an integer, got %q", args[0])
			}

			app, err := wireApp()
			if err != nil {
				return err
			}
			defer app.Close()

			state, err := loadWeek(app, cmd.Flags().Changed("week"), week)
			if err != nil {
				return err
			}
			tracker, err := lineage.NewTracker(state)
			if err != nil {
				return err
			}
			chain, err := tracker.Trace(id)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(chain)
			}
			return printTrace(cmd, state, id, chain)
		},
	}

	cmd.Flags().IntVar(&week, "week", 0, "Checkpoint week to trace against (defaults to the latest)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the chain as JSON")

	return cmd
}

// loadWeek loads either the requested checkpoint or the latest one.
func loadWeek(app *app, explicit bool, week int) (*journey.MemberState, error) {
	if !explicit {
		latest, ok, err := app.store.Latest()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("no checkpoints in %s", app.store.Dir())
		}
		week = latest
	}
	state, _, err := app.store.Load(week)
	return state, err
}

func printTrace(cmd *cobra.Command, state *journey.MemberState, id int, chain []journey.Decision) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Decision %d lineage (%d in chain)", id, len(chain))))
	for _, d := range chain {
		marker := "  "
		if d.ID == id {
			marker = faintStyle.Render("* ")
		}
		fmt.Fprintf(out, "%sd%-3d week %-3d %-14s %-24q by %-12s %s\n",
			marker, d.ID, d.Week, d.Kind, d.Subject, d.Agent, outcomeBadge(string(d.Outcome)))
		for _, ref := range d.Evidence {
			if ref.Kind == journey.EvidenceDecision {
				fmt.Fprintf(out, "      %s\n", faintStyle.Render(fmt.Sprintf("evidence: decision %d", ref.DecisionID)))
				continue
			}
			label := fmt.Sprintf("evidence: message %s", ref.MessageID)
			if msg, ok := state.FindMessage(ref.MessageID); ok {
				label = fmt.Sprintf("evidence: %s: %q", msg.Speaker.DisplayName(), msg.Text)
			}
			fmt.Fprintf(out, "      %s\n", faintStyle.Render(label))
		}
		if d.SupersededBy != 0 {
			fmt.Fprintf(out, "      %s\n", warnStyle.Render(fmt.Sprintf("superseded by decision %d", d.SupersededBy)))
		}
	}
	return nil
}
