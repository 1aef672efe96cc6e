package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/journeysim/internal/journey"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a fresh journey from week 0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp()
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.applyOverrides(cmd); err != nil {
				return err
			}

			if week, ok, err := app.store.Latest(); err != nil {
				return err
			} else if ok {
				return fmt.Errorf("run directory already has checkpoints through week %d; use resume or a fresh --run-dir", week)
			}

			runner, err := app.runner()
			if err != nil {
				return err
			}
			state, err := runner.Start(cmd.Context(), app.cfg.Member, app.cfg.Weeks)
			if err != nil {
				return err
			}
			return printRunSummary(cmd, app, state)
		},
	}

	cmd.Flags().String("member", "", "Member name (overrides config)")
	cmd.Flags().Int("weeks", 0, "Final week index, inclusive (overrides config)")
	cmd.Flags().Int64("seed", 0, "Simulation seed (overrides config)")

	return cmd
}

func newResumeCmd() *cobra.Command {
	var fromWeek int

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted journey from its checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp()
			if err != nil {
				return err
			}
			defer app.Close()
			if err := app.applyOverrides(cmd); err != nil {
				return err
			}

			if !cmd.Flags().Changed("from-week") {
				latest, ok, err := app.store.Latest()
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no checkpoints in %s; use run to start fresh", app.store.Dir())
				}
				fromWeek = latest + 1
			}

			runner, err := app.runner()
			if err != nil {
				return err
			}
			state, err := runner.Resume(cmd.Context(), fromWeek, app.cfg.Weeks)
			if err != nil {
				return err
			}
			return printRunSummary(cmd, app, state)
		},
	}

	cmd.Flags().IntVar(&fromWeek, "from-week", 0, "Week to re-run first (defaults to the week after the latest checkpoint)")
	cmd.Flags().Int("weeks", 0, "Final week index, inclusive (overrides config)")
	cmd.Flags().Int64("seed", 0, "Simulation seed (overrides config)")

	return cmd
}

func printRunSummary(cmd *cobra.Command, app *app, state *journey.MemberState) error {
	latest, ok, err := app.store.Latest()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Run %s", state.RunID)))
	fmt.Fprintf(out, "  member      %s\n", state.MemberName)
	if ok {
		fmt.Fprintf(out, "  checkpoints through week %d in %s\n", latest, app.store.Dir())
	}
	fmt.Fprintf(out, "  decisions   %d\n", len(state.Decisions))
	fmt.Fprintf(out, "  threads     %d\n", len(state.Threads))
	fmt.Fprintf(out, "  transcript  %s\n", app.store.FullTranscriptPath())
	return nil
}
