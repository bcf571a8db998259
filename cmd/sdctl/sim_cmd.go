package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarchlab/sdc/memory"
	"github.com/sarchlab/sdc/monitoring"
	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/sdcsim"
	"github.com/sarchlab/sdc/sim"
	"github.com/sarchlab/sdc/simulation"
	"github.com/sarchlab/sdc/tracing"
)

type simReadOptions struct {
	image          string
	dst            uint32
	offset         uint32
	size           uint32
	sectorsPerTick int
	stallAfter     uint32
	stallCycles    uint64
	wedge          bool
	trace          string
	monitorPort    int
	browser        bool
	dump           bool
}

func newSimCmd(a *app) *cobra.Command {
	simCmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the driver against a simulated controller",
	}

	simCmd.AddCommand(newSimReadCmd(a))

	return simCmd
}

func newSimReadCmd(a *app) *cobra.Command {
	opts := &simReadOptions{}

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a byte range of a card image into simulated host memory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.simRead(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.image, "image", "", "Card image file")
	flags.Uint32Var(&opts.dst, "dst", 0, "Host memory address to read into")
	flags.Uint32Var(&opts.offset, "offset", 0, "Byte offset on the card")
	flags.Uint32Var(&opts.size, "size", sdcard.SectorSize, "Number of bytes to read")
	flags.IntVar(&opts.sectorsPerTick, "sectors-per-tick", 1,
		"Sectors the controller moves per cycle")
	flags.Uint32Var(&opts.stallAfter, "stall-after", 0,
		"Freeze the progress counter after this many sectors")
	flags.Uint64Var(&opts.stallCycles, "stall-cycles", 1000,
		"How many cycles the progress counter stays frozen")
	flags.BoolVar(&opts.wedge, "wedge", false,
		"Keep the controller frozen until it is reset instead of for --stall-cycles")
	flags.StringVar(&opts.trace, "trace", "",
		"Record driver events into NAME.sqlite3")
	flags.IntVar(&opts.monitorPort, "monitor", -1,
		"Serve the monitoring API on this port (0 for a random port)")
	flags.BoolVar(&opts.browser, "browser", false,
		"Open the monitoring API in a browser (requires --monitor)")
	flags.BoolVar(&opts.dump, "dump", false, "Hex-dump the bytes read")

	if err := cmd.MarkFlagRequired("image"); err != nil {
		panic(err)
	}

	return cmd
}

func (a *app) simRead(cmd *cobra.Command, opts *simReadOptions) error {
	if err := sdcard.CheckAligned(opts.offset, opts.size); err != nil {
		return err
	}

	if opts.browser && opts.monitorPort < 0 {
		return errors.New("--browser requires --monitor")
	}

	medium, err := loadImage(opts.image)
	if err != nil {
		return err
	}

	end := uint64(opts.offset) + uint64(opts.size)
	if end > medium.Capacity() {
		return fmt.Errorf("reading [%d, %d) past the end of a %d-byte image: %w",
			opts.offset, end, medium.Capacity(), memory.ErrOutOfRange)
	}

	host := memory.NewStorage(max(uint64(opts.dst)+uint64(opts.size),
		memory.DefaultUnitSize))

	simBuilder := simulation.MakeBuilder()
	if opts.trace != "" {
		simBuilder = simBuilder.WithOutputFileName(opts.trace)
	}

	if opts.monitorPort >= 0 {
		simBuilder = simBuilder.WithMonitoring().WithMonitorPort(opts.monitorPort)
	}

	if opts.browser {
		simBuilder = simBuilder.WithBrowser()
	}

	s := simBuilder.Build()
	engine := s.GetEngine()

	builder := sdcsim.MakeBuilder().
		WithEngine(engine).
		WithFreq(a.cfg.Freq).
		WithSectorsPerTick(opts.sectorsPerTick).
		WithMedium(medium).
		WithHostMemory(host)

	if opts.wedge || cmd.Flags().Changed("stall-after") {
		fault := sdcsim.Fault{AfterSectors: opts.stallAfter, Cycles: opts.stallCycles}
		if opts.wedge {
			fault.Cycles = 0
		}

		builder = builder.WithFault(fault)
	}

	comp := builder.Build("SDC")
	s.RegisterController(comp)

	driverBuilder := sdcard.MakeBuilder().
		WithName("Driver").
		WithRegisters(comp.Registers()).
		WithClock(sdcsim.Clock{Engine: engine}).
		WithYield(sdcsim.Yield(engine)).
		WithStallTimeout(a.cfg.StallTimeout).
		WithHook(tracing.NewEventLogger(sdcard.DefaultLogger()))

	var bar *monitoring.ProgressBar
	if monitor := s.GetMonitor(); monitor != nil {
		bar = monitor.CreateProgressBar("read", uint64(opts.size/sdcard.SectorSize))
		driverBuilder = driverBuilder.WithHook(progressHook(bar))
	}

	driver := driverBuilder.Build()
	s.RegisterDriver(driver)

	driver.Read(opts.dst, opts.offset, opts.size)
	driver.WaitReady()

	if bar != nil {
		s.GetMonitor().CompleteProgressBar(bar)
	}

	if err := s.Terminate(); err != nil {
		return err
	}

	return report(cmd.OutOrStdout(), engine, driver, comp, host, opts)
}

// progressHook mirrors the progress counter seen by the driver into bar.
func progressHook(bar *monitoring.ProgressBar) sim.Hook {
	return sim.HookFunc(func(ctx sim.HookCtx) {
		evt, ok := ctx.Item.(sdcard.Event)
		if !ok {
			return
		}

		bar.SetFinished(uint64(evt.Progress))
	})
}

func loadImage(path string) (*memory.Storage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	size := uint64(info.Size())
	capacity := (size + sdcard.SectorSize - 1) / sdcard.SectorSize * sdcard.SectorSize

	medium := memory.NewStorage(max(capacity, sdcard.SectorSize))
	if _, err := medium.LoadImage(f); err != nil {
		return nil, fmt.Errorf("loading image %s: %w", path, err)
	}

	return medium, nil
}

func report(
	w io.Writer,
	engine sim.TimeTeller,
	driver *sdcard.Driver,
	comp *sdcsim.Comp,
	host *memory.Storage,
	opts *simReadOptions,
) error {
	ds := driver.Stats()
	cs := comp.Stats()

	fmt.Fprintf(w, "time: %s\n", engine.CurrentTime().Duration())
	fmt.Fprintf(w, "progress: %d\n", driver.Progress())
	fmt.Fprintf(w, "driver: reads=%d stalls=%d resets=%d rearms=%d\n",
		ds.Reads, ds.Stalls, ds.Resets, ds.Rearms)
	fmt.Fprintf(w, "controller: commands=%d resets=%d sectors=%d faults=%d\n",
		cs.Commands, cs.Resets, cs.SectorsTransferred, cs.FaultsFired)

	if !opts.dump {
		return nil
	}

	data, err := host.Read(uint64(opts.dst), uint64(opts.size))
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, hex.Dump(data))

	return err
}
