package simulation_test

import (
	"io"
	"log/slog"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/sdc/memory"
	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/sdcsim"
	"github.com/sarchlab/sdc/simulation"
	"github.com/sarchlab/sdc/tracing"
)

var _ = Describe("Simulation", func() {
	var s *simulation.Simulation

	buildController := func(name string) *sdcsim.Comp {
		return sdcsim.MakeBuilder().
			WithEngine(s.GetEngine()).
			WithMedium(memory.NewStorage(4 * sdcard.SectorSize)).
			WithHostMemory(memory.NewStorage(memory.DefaultUnitSize)).
			Build(name)
	}

	buildDriver := func(name string, comp *sdcsim.Comp) *sdcard.Driver {
		return sdcard.MakeBuilder().
			WithName(name).
			WithRegisters(comp.Registers()).
			WithClock(sdcsim.Clock{Engine: s.GetEngine()}).
			WithYield(sdcsim.Yield(s.GetEngine())).
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
			Build()
	}

	AfterEach(func() {
		Expect(s.Terminate()).To(Succeed())
	})

	Context("without services", func() {
		BeforeEach(func() {
			s = simulation.MakeBuilder().Build()
		})

		It("should register controllers and drivers", func() {
			comp := buildController("SDC")
			driver := buildDriver("Driver", comp)

			s.RegisterController(comp)
			s.RegisterDriver(driver)

			Expect(s.ID()).NotTo(BeEmpty())
			Expect(s.GetControllerByName("SDC")).To(BeIdenticalTo(comp))
			Expect(s.GetDriverByName("Driver")).To(BeIdenticalTo(driver))
			Expect(s.GetControllerByName("Nobody")).To(BeNil())
			Expect(s.GetDriverByName("Nobody")).To(BeNil())
			Expect(s.Controllers()).To(HaveLen(1))
			Expect(s.Drivers()).To(HaveLen(1))
			Expect(s.GetDataRecorder()).To(BeNil())
			Expect(s.GetMonitor()).To(BeNil())
		})

		It("should refuse duplicated names", func() {
			comp := buildController("SDC")
			s.RegisterController(comp)
			s.RegisterDriver(buildDriver("Driver", comp))

			Expect(func() { s.RegisterController(buildController("SDC")) }).
				To(Panic())
			Expect(func() { s.RegisterDriver(buildDriver("Driver", comp)) }).
				To(Panic())
		})

		It("should run a read on its engine", func() {
			comp := buildController("SDC")
			driver := buildDriver("Driver", comp)
			s.RegisterController(comp)
			s.RegisterDriver(driver)

			driver.Read(0, 0, 2*sdcard.SectorSize)
			driver.WaitReady()

			Expect(comp.Stats().SectorsTransferred).To(Equal(uint64(2)))
			Expect(s.GetEngine().CurrentTime()).To(BeNumerically(">", 0))
		})
	})

	Context("with tracing", func() {
		var path string

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "trace")
			s = simulation.MakeBuilder().WithOutputFileName(path).Build()
		})

		It("should record the events of registered drivers", func() {
			comp := buildController("SDC")
			driver := buildDriver("Driver", comp)
			s.RegisterController(comp)
			s.RegisterDriver(driver)

			driver.Read(0, 0, sdcard.SectorSize)
			driver.WaitReady()

			Expect(s.GetDataRecorder().ListTables()).
				To(ConsistOf(tracing.EventTableName))
			Expect(path + ".sqlite3").To(BeAnExistingFile())
		})
	})

	Context("with monitoring", func() {
		BeforeEach(func() {
			s = simulation.MakeBuilder().WithMonitoring().Build()
		})

		It("should start the monitoring server", func() {
			Expect(s.GetMonitor()).NotTo(BeNil())
			Expect(s.GetMonitor().Addr()).NotTo(BeNil())
		})
	})

	It("should not accept monitor options without monitoring", func() {
		Expect(func() {
			simulation.MakeBuilder().WithMonitorPort(8080).Build()
		}).To(Panic())

		s = simulation.MakeBuilder().Build()
	})
})
