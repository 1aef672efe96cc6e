package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/journeysim/internal/journey"
)

func newStatusCmd() *cobra.Command {
	var tailLines int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where a run currently stands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp()
			if err != nil {
				return err
			}
			defer app.Close()

			out := cmd.OutOrStdout()
			latest, ok, err := app.store.Latest()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(out, "no checkpoints in %s yet; use run to start\n", app.store.Dir())
				return nil
			}
			state, _, err := app.store.Load(latest)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Run %s", state.RunID)))
			fmt.Fprintf(out, "  member        %s\n", state.MemberName)
			fmt.Fprintf(out, "  latest week   %d\n", latest)
			fmt.Fprintf(out, "  decisions     %d (%d accepted)\n", len(state.Decisions), countAccepted(state))
			fmt.Fprintf(out, "  threads       %d (%d failed)\n", len(state.Threads), countFailed(state))

			hours := app.cfg.Cost.WeekHours(state, latest)
			if len(hours) > 0 {
				fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Team hours, week %d", latest)))
				for _, role := range journey.TeamRoles() {
					if h, ok := hours[role]; ok {
						fmt.Fprintf(out, "  %-12s %.1fh\n", role.DisplayName(), h)
					}
				}
			}

			if lines := app.log.Tail(tailLines); len(lines) > 0 {
				fmt.Fprintln(out, titleStyle.Render("Recent log"))
				for _, line := range lines {
					fmt.Fprintf(out, "  %s\n", faintStyle.Render(line))
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tailLines, "tail", 5, "Log lines to show")

	return cmd
}

func countAccepted(state *journey.MemberState) int {
	n := 0
	for _, d := range state.Decisions {
		if d.Outcome == journey.OutcomeAccepted {
			n++
		}
	}
	return n
}

func countFailed(state *journey.MemberState) int {
	n := 0
	for _, t := range state.Threads {
		if t.Failure != "" {
			n++
		}
	}
	return n
}
