// Command sdctl drives SD card controllers, either a simulated controller or
// a real one mapped from physical memory.
package main

import (
	"github.com/tebeka/atexit"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
