package sdcard

import (
	"log/slog"
	"time"

	"github.com/sarchlab/sdc/regs"
	"github.com/sarchlab/sdc/sim"
)

// Builder can build SD card drivers.
type Builder struct {
	name         string
	regs         regs.Block
	clock        Clock
	yield        func()
	stallTimeout time.Duration
	logger       *slog.Logger
	hooks        []sim.Hook
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		name:         "SDCard",
		stallTimeout: DefaultStallTimeout,
	}
}

// WithName sets the name of the driver.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithRegisters sets the register block of the controller to drive.
func (b Builder) WithRegisters(block regs.Block) Builder {
	b.regs = block
	return b
}

// WithClock sets the time source used to detect stalls. The default is the
// monotonic clock of the host.
func (b Builder) WithClock(clock Clock) Builder {
	b.clock = clock
	return b
}

// WithYield sets a function that the driver calls once per polling
// iteration. By default the driver spins without yielding.
func (b Builder) WithYield(yield func()) Builder {
	b.yield = yield
	return b
}

// WithStallTimeout sets how long progress may stay still before the
// controller is reset.
func (b Builder) WithStallTimeout(timeout time.Duration) Builder {
	b.stallTimeout = timeout
	return b
}

// WithLogger sets the logger that receives the driver diagnostics.
func (b Builder) WithLogger(logger *slog.Logger) Builder {
	b.logger = logger
	return b
}

// WithHook registers a hook on the driver being built.
func (b Builder) WithHook(hook sim.Hook) Builder {
	b.hooks = append(b.hooks[:len(b.hooks):len(b.hooks)], hook)
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.regs == nil {
		panic("sdcard driver requires a register block")
	}

	if b.stallTimeout < 0 {
		panic("stall timeout cannot be negative")
	}
}

// Build creates a driver.
func (b Builder) Build() *Driver {
	b.parametersMustBeValid()

	d := &Driver{
		name:         b.name,
		regs:         b.regs,
		clock:        b.clock,
		yield:        b.yield,
		stallTimeout: b.stallTimeout,
		logger:       b.logger,
	}

	if d.clock == nil {
		d.clock = NewMonotonicClock()
	}

	if d.yield == nil {
		d.yield = func() {}
	}

	if d.logger == nil {
		d.logger = DefaultLogger()
	}

	d.logger = d.logger.With("component", d.name)

	for _, h := range b.hooks {
		d.AcceptHook(h)
	}

	return d
}
