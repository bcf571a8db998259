package sdcsim

import (
	"time"

	"github.com/sarchlab/sdc/sim"
)

// Clock reports the simulated time of an engine to the driver.
type Clock struct {
	Engine sim.TimeTeller
}

// Now returns the current simulated time.
func (c Clock) Now() time.Duration {
	return c.Engine.CurrentTime().Duration()
}

// Yield returns a function that runs one event of the engine each time it is
// called. It is meant to be the driver's yield point, so that every poll
// lets the simulated controller move forward.
//
// The returned function panics when the engine has nothing left to run, as
// the polled condition can then never change.
func Yield(engine sim.Engine) func() {
	return func() {
		if !engine.Step() {
			panic("simulation has no pending event, the controller cannot progress")
		}
	}
}
