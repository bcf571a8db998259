package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/sarchlab/sdc/regs"
	"github.com/sarchlab/sdc/sdcard"
	"github.com/sarchlab/sdc/sim"
)

// Environment variables that provide flag defaults.
const (
	envDevice       = "SDC_DEVICE"
	envBase         = "SDC_BASE"
	envStallTimeout = "SDC_STALL_TIMEOUT"
	envFreq         = "SDC_FREQ"
)

const defaultDevice = "/dev/mem"

type config struct {
	Device       string
	Base         uintptr
	StallTimeout time.Duration
	Freq         sim.Freq
}

func defaultConfig() config {
	return config{
		Device:       defaultDevice,
		Base:         regs.DefaultBase,
		StallTimeout: sdcard.DefaultStallTimeout,
		Freq:         1 * sim.KHz,
	}
}

// loadConfig reads the environment, after loading envFile into it if the
// file exists. Variables already set in the environment win over the file.
func loadConfig(envFile string) (config, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	return configFromEnv(os.LookupEnv)
}

func configFromEnv(lookup func(string) (string, bool)) (config, error) {
	cfg := defaultConfig()

	if v, ok := lookup(envDevice); ok && v != "" {
		cfg.Device = v
	}

	if v, ok := lookup(envBase); ok && v != "" {
		base, err := strconv.ParseUint(v, 0, 64)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", envBase, err)
		}

		cfg.Base = uintptr(base)
	}

	if v, ok := lookup(envStallTimeout); ok && v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", envStallTimeout, err)
		}

		if timeout < 0 {
			return config{}, fmt.Errorf("%s: negative timeout %s",
				envStallTimeout, v)
		}

		cfg.StallTimeout = timeout
	}

	if v, ok := lookup(envFreq); ok && v != "" {
		hz, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return config{}, fmt.Errorf("%s: %w", envFreq, err)
		}

		if hz <= 0 {
			return config{}, fmt.Errorf("%s: frequency must be positive", envFreq)
		}

		cfg.Freq = sim.Freq(hz) * sim.Hz
	}

	return cfg, nil
}
