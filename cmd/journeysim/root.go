package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kingrea/journeysim/internal/checkpoint"
	"github.com/kingrea/journeysim/internal/config"
	"github.com/kingrea/journeysim/internal/generate"
	"github.com/kingrea/journeysim/internal/logbook"
	"github.com/kingrea/journeysim/internal/scheduler"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "journeysim",
		Short:         "Simulate and inspect multi-week coaching journeys",
		Long:          "journeysim runs a deterministic multi-week coaching journey, checkpointing every week, and offers offline views over the result: decision traces, episodes, and transcripts.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().String("run-dir", "journey", "Run directory holding config, checkpoints, and logs")
	// Flags can also be supplied as JOURNEYSIM_RUN_DIR etc.
	viper.SetEnvPrefix("journeysim")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("run_dir", rootCmd.PersistentFlags().Lookup("run-dir"))

	rootCmd.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newStatusCmd(),
		newTraceCmd(),
		newEpisodesCmd(),
	)

	return rootCmd
}

// app bundles everything a command needs for one run directory.
type app struct {
	layout config.Layout
	cfg    config.Config
	store  *checkpoint.Store
	log    *logbook.Logbook
}

// wireApp resolves the run directory, ensures its layout, and opens the
// stores every subcommand shares.
func wireApp() (*app, error) {
	layout := config.NewLayout(viper.GetString("run_dir"))
	if err := layout.Ensure(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(layout.Root)
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.NewStore(layout.CheckpointsDir())
	if err != nil {
		return nil, err
	}
	log, err := logbook.New(layout.LogPath())
	if err != nil {
		return nil, err
	}
	return &app{layout: layout, cfg: cfg, store: store, log: log}, nil
}

func (a *app) Close() {
	_ = a.log.Close()
}

// runner builds the week loop around the scripted generator, wrapped with
// retries and a circuit breaker.
func (a *app) runner() (*scheduler.Runner, error) {
	gen := generate.NewResilient(generate.NewScripted(a.cfg.Policy.Seed), a.cfg.Retry)
	sched, err := scheduler.New(a.cfg.Policy, gen, a.store, a.cfg.Cost, a.log)
	if err != nil {
		return nil, err
	}
	return scheduler.NewRunner(sched, a.store, a.log)
}

// applyOverrides folds command-line overrides into the loaded config.
func (a *app) applyOverrides(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("member") {
		member, _ := flags.GetString("member")
		a.cfg.Member = member
	}
	if flags.Changed("weeks") {
		weeks, _ := flags.GetInt("weeks")
		if weeks < 0 {
			return fmt.Errorf("weeks must not be negative, got %d", weeks)
		}
		a.cfg.Weeks = weeks
	}
	if flags.Changed("seed") {
		seed, _ := flags.GetInt64("seed")
		a.cfg.Policy.Seed = seed
	}
	return nil
}
