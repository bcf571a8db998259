package simulation

import (
	"github.com/rs/xid"

	"github.com/sarchlab/sdc/monitoring"
	"github.com/sarchlab/sdc/sim"
	"github.com/sarchlab/sdc/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	tracingOn      bool
	outputFileName string
	monitorOn      bool
	monitorPort    int
	openBrowser    bool
}

// MakeBuilder creates a new builder. Tracing and monitoring are off by
// default.
func MakeBuilder() Builder {
	return Builder{}
}

// WithTracing records driver events into a SQLite database.
func (b Builder) WithTracing() Builder {
	b.tracingOn = true
	return b
}

// WithOutputFileName sets the file name, without the extension, of the
// database that driver events are recorded into. It turns tracing on.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.tracingOn = true
	b.outputFileName = filename
	return b
}

// WithMonitoring starts a monitoring server with the simulation.
func (b Builder) WithMonitoring() Builder {
	b.monitorOn = true
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithBrowser opens the monitoring server in a browser.
func (b Builder) WithBrowser() Builder {
	b.openBrowser = true
	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && (b.monitorPort != 0 || b.openBrowser) {
		panic("monitor options cannot be set when monitoring is disabled")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:              xid.New().String(),
		compNameIndex:   make(map[string]int),
		driverNameIndex: make(map[string]int),
	}

	s.engine = sim.NewSerialEngine()

	if b.tracingOn {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = "sdc_sim_" + s.id
		}

		s.dataRecorder = tracing.NewDataRecorder(outputPath)
		s.eventTracer = tracing.NewEventTracer(s.dataRecorder)
	}

	if b.monitorOn {
		s.monitor = monitoring.NewMonitor()
		if b.monitorPort > 0 {
			s.monitor.WithPortNumber(b.monitorPort)
		}

		if b.openBrowser {
			s.monitor.WithBrowser()
		}

		s.monitor.RegisterEngine(s.engine)
		s.monitor.StartServer()
	}

	return s
}
