package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sarchlab/sdc/sdcard"
)

// app holds the state shared by all subcommands.
type app struct {
	envFile  string
	logLevel string
	cfg      config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "sdctl",
		Short: "sdctl reads from SD card controllers.",
		Long: `sdctl reads from SD card controllers. The sim commands run the driver ` +
			`against a simulated controller; the devmem commands drive a real ` +
			`controller through its memory-mapped registers.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env",
		"File to load SDC_* variables from, if it exists")
	flags.StringVar(&a.logLevel, "log-level", "warn",
		"Minimum level of driver logs (debug, info, warn, error)")
	flags.Duration("stall-timeout", 0,
		"How long progress may stand still before the controller is reset "+
			"(default $"+envStallTimeout+" or "+
			sdcard.DefaultStallTimeout.String()+")")

	rootCmd.AddCommand(newSimCmd(a), newDevmemCmd(a))

	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(a.envFile)
	if err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", a.logLevel, err)
	}

	sdcard.SetLogLevel(level)

	if cmd.Flags().Changed("stall-timeout") {
		timeout, err := cmd.Flags().GetDuration("stall-timeout")
		if err != nil {
			return err
		}

		if timeout < 0 {
			return fmt.Errorf("stall timeout %s is negative", timeout)
		}

		cfg.StallTimeout = timeout
	}

	a.cfg = cfg

	return nil
}
