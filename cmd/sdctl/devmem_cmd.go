package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/sdc/regs"
	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/tracing"
)

type devmemOptions struct {
	device string
	base   string
}

func newDevmemCmd(a *app) *cobra.Command {
	opts := &devmemOptions{}

	devmemCmd := &cobra.Command{
		Use:   "devmem",
		Short: "Drive a real controller through its memory-mapped registers",
	}

	flags := devmemCmd.PersistentFlags()
	flags.StringVar(&opts.device, "device", "",
		"Device file to map (default $"+envDevice+" or "+defaultDevice+")")
	flags.StringVar(&opts.base, "base", "",
		"Physical address of the register block (default $"+envBase+" or "+
			fmt.Sprintf("0x%x", regs.DefaultBase)+")")

	devmemCmd.AddCommand(
		newDevmemStatusCmd(a, opts),
		newDevmemReadCmd(a, opts),
		newDevmemResetCmd(a, opts),
	)

	return devmemCmd
}

// withDriver maps the register block and runs f with a driver on top of it.
func (a *app) withDriver(opts *devmemOptions, f func(*sdcard.Driver) error) error {
	device := a.cfg.Device
	if opts.device != "" {
		device = opts.device
	}

	base := a.cfg.Base
	if opts.base != "" {
		b, err := strconv.ParseUint(opts.base, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid base %q: %w", opts.base, err)
		}

		base = uintptr(b)
	}

	block, err := regs.OpenMapped(device, base)
	if err != nil {
		return err
	}
	defer block.Close()

	driver := sdcard.MakeBuilder().
		WithRegisters(block).
		WithStallTimeout(a.cfg.StallTimeout).
		WithHook(tracing.NewEventLogger(sdcard.DefaultLogger())).
		Build()

	return f(driver)
}

func newDevmemStatusCmd(a *app, opts *devmemOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the register block as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDriver(opts, func(d *sdcard.Driver) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")

				return enc.Encode(regs.TakeSnapshot(d.Registers()))
			})
		},
	}
}

func newDevmemReadCmd(a *app, opts *devmemOptions) *cobra.Command {
	var (
		dst, offset, size uint32
		wait              bool
	)

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Start a read into physical memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := sdcard.CheckAligned(offset, size); err != nil {
				return err
			}

			return a.withDriver(opts, func(d *sdcard.Driver) error {
				d.Read(dst, offset, size)

				if wait {
					d.WaitReady()
				}

				s := d.Stats()
				fmt.Fprintf(cmd.OutOrStdout(),
					"issued %d sectors from sector %d to 0x%x (stalls=%d resets=%d)\n",
					size/sdcard.SectorSize, offset/sdcard.SectorSize, dst,
					s.Stalls, s.Resets)

				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.Uint32Var(&dst, "dst", 0, "Physical address to read into")
	flags.Uint32Var(&offset, "offset", 0, "Byte offset on the card")
	flags.Uint32Var(&size, "size", sdcard.SectorSize, "Number of bytes to read")
	flags.BoolVar(&wait, "wait", false, "Wait until the controller is idle")

	if err := cmd.MarkFlagRequired("dst"); err != nil {
		panic(err)
	}

	return cmd
}

func newDevmemResetCmd(a *app, opts *devmemOptions) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the controller",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.withDriver(opts, func(d *sdcard.Driver) error {
				d.Reset()

				if wait {
					d.WaitReady()
				}

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the controller is idle")

	return cmd
}
