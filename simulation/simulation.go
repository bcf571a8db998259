// Package simulation wires simulated SD controllers, their drivers, and the
// services that observe them.
package simulation

import (
	"errors"

	"github.com/sarchlab/sdc/monitoring"
	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/sdcsim"
	"github.com/sarchlab/sdc/sim"
	"github.com/sarchlab/sdc/tracing"
)

// A Simulation owns the engine and the optional data recorder and monitor
// shared by the controllers and drivers registered with it.
type Simulation struct {
	id     string
	engine sim.Engine

	dataRecorder tracing.DataRecorder
	eventTracer  *tracing.EventTracer
	monitor      *monitoring.Monitor

	controllers     []*sdcsim.Comp
	compNameIndex   map[string]int
	drivers         []*sdcard.Driver
	driverNameIndex map[string]int
}

// ID returns the unique ID of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// GetEngine returns the engine used in the simulation.
func (s *Simulation) GetEngine() sim.Engine {
	return s.engine
}

// GetDataRecorder returns the data recorder, or nil if tracing is off.
func (s *Simulation) GetDataRecorder() tracing.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor, or nil if monitoring is off.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// RegisterController registers a controller model with the simulation.
func (s *Simulation) RegisterController(c *sdcsim.Comp) {
	name := c.Name()
	if _, found := s.compNameIndex[name]; found {
		panic("controller " + name + " already registered")
	}

	s.controllers = append(s.controllers, c)
	s.compNameIndex[name] = len(s.controllers) - 1

	if s.monitor != nil {
		s.monitor.RegisterController(c)
	}
}

// RegisterDriver registers a driver. When tracing is on, the events of the
// driver are recorded from now on.
func (s *Simulation) RegisterDriver(d *sdcard.Driver) {
	name := d.Name()
	if _, found := s.driverNameIndex[name]; found {
		panic("driver " + name + " already registered")
	}

	s.drivers = append(s.drivers, d)
	s.driverNameIndex[name] = len(s.drivers) - 1

	if s.eventTracer != nil {
		d.AcceptHook(s.eventTracer)
	}

	if s.monitor != nil {
		s.monitor.RegisterDriver(d)
	}
}

// GetControllerByName returns the controller with the given name, or nil.
func (s *Simulation) GetControllerByName(name string) *sdcsim.Comp {
	i, found := s.compNameIndex[name]
	if !found {
		return nil
	}

	return s.controllers[i]
}

// GetDriverByName returns the driver with the given name, or nil.
func (s *Simulation) GetDriverByName(name string) *sdcard.Driver {
	i, found := s.driverNameIndex[name]
	if !found {
		return nil
	}

	return s.drivers[i]
}

// Controllers returns all registered controllers.
func (s *Simulation) Controllers() []*sdcsim.Comp {
	return s.controllers
}

// Drivers returns all registered drivers.
func (s *Simulation) Drivers() []*sdcard.Driver {
	return s.drivers
}

// Terminate flushes the recorded data and stops the monitoring server.
func (s *Simulation) Terminate() error {
	var errs []error

	if s.dataRecorder != nil {
		errs = append(errs, s.dataRecorder.Close())
	}

	if s.monitor != nil {
		errs = append(errs, s.monitor.StopServer())
	}

	return errors.Join(errs...)
}
