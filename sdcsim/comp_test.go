package sdcsim_test

import (
	"bytes"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sdc/memory"
	"github.com/sarchlab/sdc/regs"
	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/sdcsim"
	"github.com/sarchlab/sdc/sim"
)

const cardSize = 64 * sdcard.SectorSize

func sectorPattern(sector int) []byte {
	data := make([]byte, sdcard.SectorSize)
	for i := range data {
		data[i] = byte(sector*7 + i)
	}

	return data
}

var _ = Describe("Controller model", func() {
	var (
		engine  *sim.SerialEngine
		medium  *memory.Storage
		host    *memory.Storage
		builder sdcsim.Builder
		logBuf  *bytes.Buffer
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		medium = memory.NewStorage(cardSize)
		host = memory.NewStorage(1 << 20)
		logBuf = new(bytes.Buffer)

		for s := 0; s < cardSize/sdcard.SectorSize; s++ {
			Expect(medium.Write(uint64(s*sdcard.SectorSize), sectorPattern(s))).
				To(Succeed())
		}

		builder = sdcsim.MakeBuilder().
			WithEngine(engine).
			WithFreq(1 * sim.KHz).
			WithMedium(medium).
			WithHostMemory(host)
	})

	driverFor := func(c *sdcsim.Comp) *sdcard.Driver {
		return sdcard.MakeBuilder().
			WithRegisters(c.Registers()).
			WithClock(sdcsim.Clock{Engine: engine}).
			WithYield(sdcsim.Yield(engine)).
			WithLogger(slog.New(slog.NewTextHandler(logBuf, nil))).
			Build()
	}

	expectSectorsAt := func(dst uint64, first, count int) {
		for i := 0; i < count; i++ {
			data, err := host.Read(dst+uint64(i*sdcard.SectorSize), sdcard.SectorSize)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal(sectorPattern(first + i)))
		}
	}

	It("should copy sectors into host memory", func() {
		comp := builder.Build("SDC")
		driver := driverFor(comp)

		driver.Read(0x1000, 3*sdcard.SectorSize, 4*sdcard.SectorSize)
		Expect(driver.IsBusy()).To(BeTrue())

		driver.WaitReady()

		expectSectorsAt(0x1000, 3, 4)
		Expect(driver.Progress()).To(Equal(uint32(4)))
		Expect(comp.Stats()).To(Equal(sdcsim.Stats{
			Commands:           1,
			SectorsTransferred: 4,
		}))
		Expect(engine.CurrentTime()).To(BeNumerically("~", 4e-3, 1e-9))
	})

	It("should move several sectors per cycle", func() {
		comp := builder.WithSectorsPerTick(4).Build("SDC")
		driver := driverFor(comp)

		driver.Read(0, 0, 8*sdcard.SectorSize)
		driver.WaitReady()

		expectSectorsAt(0, 0, 8)
		Expect(engine.CurrentTime()).To(BeNumerically("~", 2e-3, 1e-9))
	})

	It("should finish an empty read on the next cycle", func() {
		comp := builder.Build("SDC")
		driver := driverFor(comp)

		driver.Read(0, 0, 0)
		driver.WaitReady()

		Expect(comp.Stats().Commands).To(Equal(uint64(1)))
		Expect(comp.Stats().SectorsTransferred).To(BeZero())
	})

	It("should ride out a stall shorter than the timeout", func() {
		comp := builder.
			WithFault(sdcsim.Fault{AfterSectors: 2, Cycles: 300}).
			Build("SDC")
		driver := driverFor(comp)

		driver.Read(0x4000, 0, 6*sdcard.SectorSize)
		driver.WaitReady()

		expectSectorsAt(0x4000, 0, 6)
		Expect(comp.Stats().Resets).To(BeZero())
		Expect(comp.Stats().FaultsFired).To(Equal(uint64(1)))
		Expect(driver.Stats().Stalls).To(BeZero())
	})

	It("should reset and restart after a long stall", func() {
		comp := builder.
			WithFault(sdcsim.Fault{AfterSectors: 2, Cycles: 2000}).
			Build("SDC")
		driver := driverFor(comp)

		driver.Read(0x4000, 0, 6*sdcard.SectorSize)
		driver.WaitReady()

		expectSectorsAt(0x4000, 0, 6)
		Expect(comp.Stats()).To(Equal(sdcsim.Stats{
			Commands:           2,
			Resets:             1,
			SectorsTransferred: 8,
			FaultsFired:        1,
		}))
		Expect(driver.Stats()).To(Equal(sdcard.Stats{
			Reads:  1,
			Stalls: 1,
			Resets: 1,
			Rearms: 1,
		}))
		Expect(logBuf.String()).To(ContainSubstring("sdcard timeout, retrying"))
		Expect(sdcsim.Clock{Engine: engine}.Now()).
			To(BeNumerically("<", time.Second))
	})

	It("should recover a wedged controller", func() {
		comp := builder.Build("SDC")
		comp.InjectFault(sdcsim.Fault{AfterSectors: 0})
		driver := driverFor(comp)

		driver.Read(0, 5*sdcard.SectorSize, 2*sdcard.SectorSize)
		driver.WaitReady()

		expectSectorsAt(0, 5, 2)
		Expect(comp.Stats().Resets).To(Equal(uint64(1)))
	})

	It("should apply a reset one cycle later", func() {
		comp := builder.WithFault(sdcsim.Fault{AfterSectors: 0}).Build("SDC")
		driver := driverFor(comp)

		driver.Read(0, 0, sdcard.SectorSize)
		engine.Step()
		Expect(driver.IsBusy()).To(BeTrue())

		driver.Reset()
		Expect(driver.IsBusy()).To(BeTrue())

		engine.Step()
		Expect(driver.IsBusy()).To(BeFalse())
		Expect(comp.Stats().Resets).To(Equal(uint64(1)))
	})

	It("should fault on a read past the end of the card", func() {
		comp := builder.Build("SDC")
		block := comp.Registers()

		block.Store(regs.DstAddr, 0)
		block.Store(regs.StartSector, cardSize/sdcard.SectorSize)
		block.Store(regs.SectorNum, 1)
		block.Store(regs.Ctrl, regs.Trigger)

		for i := 0; i < 5; i++ {
			engine.Step()
		}

		Expect(comp.Faulted()).To(BeTrue())
		Expect(regs.TakeSnapshot(block).Busy()).To(BeTrue())

		block.Store(regs.Reset, regs.Trigger)
		engine.Step()

		Expect(comp.Faulted()).To(BeFalse())
		Expect(regs.TakeSnapshot(block).Busy()).To(BeFalse())
	})

	It("should ignore stores of other values to trigger registers", func() {
		comp := builder.Build("SDC")
		block := comp.Registers()

		block.Store(regs.Ctrl, 0)
		block.Store(regs.Reset, 2)

		Expect(engine.Step()).To(BeFalse())
		Expect(comp.Stats().Commands).To(BeZero())
	})

	It("should panic when yielding with nothing to simulate", func() {
		Expect(sdcsim.Yield(engine)).To(Panic())
	})
})
