package sdcsim

import (
	"github.com/sarchlab/sdc/memory"
	"github.com/sarchlab/sdc/regs"
	"github.com/sarchlab/sdc/sim"
)

// Builder can build controller models.
type Builder struct {
	engine         sim.Engine
	freq           sim.Freq
	sectorsPerTick int
	regs           *regs.Memory
	medium         *memory.Storage
	host           *memory.Storage
	faults         []Fault
}

// MakeBuilder creates a builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		freq:           1 * sim.KHz,
		sectorsPerTick: 1,
	}
}

// WithEngine sets the engine that the controller uses.
func (b Builder) WithEngine(engine sim.Engine) Builder {
	b.engine = engine
	return b
}

// WithFreq sets the clock frequency of the controller.
func (b Builder) WithFreq(freq sim.Freq) Builder {
	b.freq = freq
	return b
}

// WithSectorsPerTick sets how many sectors the controller moves per cycle.
func (b Builder) WithSectorsPerTick(n int) Builder {
	b.sectorsPerTick = n
	return b
}

// WithRegisters sets the register block. By default a new block is created.
func (b Builder) WithRegisters(block *regs.Memory) Builder {
	b.regs = block
	return b
}

// WithMedium sets the storage that holds the card content.
func (b Builder) WithMedium(medium *memory.Storage) Builder {
	b.medium = medium
	return b
}

// WithHostMemory sets the storage that transfers are written into.
func (b Builder) WithHostMemory(host *memory.Storage) Builder {
	b.host = host
	return b
}

// WithFault appends a fault to the fault plan of the controller.
func (b Builder) WithFault(f Fault) Builder {
	b.faults = append(b.faults[:len(b.faults):len(b.faults)], f)
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.engine == nil {
		panic("engine is not set")
	}

	if b.medium == nil || b.host == nil {
		panic("medium and host memory must be set")
	}

	if b.sectorsPerTick <= 0 {
		panic("sectors per tick must be positive")
	}
}

// Build creates a controller with the given name.
func (b Builder) Build(name string) *Comp {
	b.parametersMustBeValid()

	c := &Comp{
		regs:           b.regs,
		medium:         b.medium,
		host:           b.host,
		sectorsPerTick: b.sectorsPerTick,
		faults:         append([]Fault(nil), b.faults...),
	}
	c.TickingComponent = sim.NewTickingComponent(name, b.engine, b.freq, c)

	if c.regs == nil {
		c.regs = regs.NewMemory()
	}

	c.regs.AcceptHook(c)

	return c
}
