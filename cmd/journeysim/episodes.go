package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kingrea/journeysim/internal/episode"
	"github.com/kingrea/journeysim/internal/journey"
)

func newEpisodesCmd() *cobra.Command {
	var asJSON bool
	var typeFilter string

	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "Rebuild the journey's episodes from its checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := wireApp()
			if err != nil {
				return err
			}
			defer app.Close()

			snapshots, err := loadSnapshots(app)
			if err != nil {
				return err
			}
			episodes, err := episode.NewExtractor(app.cfg.EpisodeRules()).Extract(snapshots)
			if err != nil {
				return err
			}
			if typeFilter != "" {
				episodes = filterEpisodes(episodes, typeFilter)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(episodes)
			}
			return printEpisodes(cmd, episodes)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit episodes as JSON")
	cmd.Flags().StringVar(&typeFilter, "type", "", "Only show episodes of this type")

	return cmd
}

// loadSnapshots loads every checkpoint in week order.
func loadSnapshots(app *app) ([]*journey.MemberState, error) {
	weeks, err := app.store.Weeks()
	if err != nil {
		return nil, err
	}
	if len(weeks) == 0 {
		return nil, fmt.Errorf("no checkpoints in %s", app.store.Dir())
	}
	snapshots := make([]*journey.MemberState, 0, len(weeks))
	for _, week := range weeks {
		state, _, err := app.store.Load(week)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, state)
	}
	return snapshots, nil
}

func filterEpisodes(episodes []episode.Episode, episodeType string) []episode.Episode {
	var kept []episode.Episode
	for _, ep := range episodes {
		if ep.Type == episodeType {
			kept = append(kept, ep)
		}
	}
	return kept
}

func printEpisodes(cmd *cobra.Command, episodes []episode.Episode) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("%d episodes", len(episodes))))
	for _, ep := range episodes {
		span := fmt.Sprintf("week %d", ep.WeekTo)
		if ep.WeekFrom != ep.WeekTo {
			span = fmt.Sprintf("weeks %d-%d", ep.WeekFrom, ep.WeekTo)
		}
		fmt.Fprintf(out, "  %-28s %-13s %-23s %-11s %s\n", ep.ID, episodeBadge(ep.Type), ep.Outcome, span, ep.Trigger)
		if len(ep.DecisionIDs) > 0 {
			fmt.Fprintf(out, "  %s\n", faintStyle.Render(fmt.Sprintf("%-28s decisions %v", "", ep.DecisionIDs)))
		}
	}
	return nil
}
