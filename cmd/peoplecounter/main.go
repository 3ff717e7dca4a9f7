// Command peoplecounter counts people in a camera feed and announces the
// count with audio clips.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/app"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	load := func(cmd *cobra.Command) (*config.Config, error) {
		return config.Load(configPath, cmd.Flags())
	}

	root := &cobra.Command{
		Use:          "peoplecounter",
		Short:        "Count people on camera and announce the count",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./people-counter.yaml if present)")
	config.RegisterFlags(root.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the counter (default)",
		RunE:  root.RunE,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "List the tuning presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTHRESHOLD\tCOOLDOWN\tHISTORY\tDESCRIPTION")
			for _, p := range config.Presets() {
				fmt.Fprintf(w, "%s\t%d\t%.1fs\t%d\t%s\n",
					p.Name, p.StabilityThreshold, p.CooldownSeconds, p.HistoryCapacity, p.Description)
			}
			return w.Flush()
		},
	}

	root.AddCommand(runCmd, configCmd, presetsCmd)
	return root
}

func run(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := app.SetupLogging(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Main", "People counter starting (preset=%s)", cfg.Preset)

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		logger.Error("Main", "Startup failed: %v", err)
		return err
	}
	if err := a.Run(ctx); err != nil {
		logger.Error("Main", "Stopped with error: %v", err)
		return err
	}
	logger.Info("Main", "Stopped")
	return nil
}
