package esc

import (
	"errors"
	"fmt"
	"math"

	"github.com/flybot/flybot/internal/debug"
)

// pwmClockHz gives one clock tick per microsecond, so duty and cycle are
// both expressed in µs.
const pwmClockHz = 1_000_000

// Output produces the pulse train on a pin or controller channel.
// gpio.Driver and PCA9685 satisfy it.
type Output interface {
	SetupPWM(pin int, clockHz int) error
	WritePWM(pin int, duty, cycle uint32) error
}

// Config holds the hardware configuration for a set of ESCs.
type Config struct {
	Pins          []int // output pins or channels, one per motor
	FrequencyHz   int   // update rate of the ESC signal (50 for classic servo PWM, up to 490)
	MinPulseUs    int   // pulse for zero throttle (or full reverse when bidirectional)
	MaxPulseUs    int   // pulse for full throttle
	Bidirectional bool  // neutral at the midpoint, commands in [-1, 1]
}

// ESC converts normalised motor commands into pulse widths.
type ESC struct {
	out   Output
	cfg   Config
	cycle uint32 // signal period in µs
}

// New sets up every pin for PWM and writes the idle pulse to it.
func New(out Output, cfg Config) (*ESC, error) {
	if cfg.FrequencyHz <= 0 {
		return nil, fmt.Errorf("esc: invalid frequency %d Hz", cfg.FrequencyHz)
	}
	if cfg.MinPulseUs <= 0 || cfg.MaxPulseUs <= cfg.MinPulseUs {
		return nil, fmt.Errorf("esc: invalid pulse range %d-%d µs", cfg.MinPulseUs, cfg.MaxPulseUs)
	}
	cycle := pwmClockHz / cfg.FrequencyHz
	if cfg.MaxPulseUs >= cycle {
		return nil, fmt.Errorf("esc: %d µs pulse does not fit a %d Hz period", cfg.MaxPulseUs, cfg.FrequencyHz)
	}

	e := &ESC{out: out, cfg: cfg, cycle: uint32(cycle)}
	for _, pin := range cfg.Pins {
		if err := out.SetupPWM(pin, pwmClockHz); err != nil {
			return nil, fmt.Errorf("esc: pin %d: %w", pin, err)
		}
	}
	if err := e.Stop(); err != nil {
		return nil, err
	}

	debug.Verbose("ESC: %d motors, %d Hz, %d-%d µs, bidirectional=%v",
		len(cfg.Pins), cfg.FrequencyHz, cfg.MinPulseUs, cfg.MaxPulseUs, cfg.Bidirectional)
	return e, nil
}

// Actuate writes one command per configured pin. Commands are clamped to
// [0, 1], or [-1, 1] when bidirectional. Extra commands are ignored and
// pins without a command get the idle pulse. A failed write does not stop
// the remaining motors; all failures are returned joined.
func (e *ESC) Actuate(commands []float64) error {
	var errs []error
	for i, pin := range e.cfg.Pins {
		var c float64
		if i < len(commands) {
			c = commands[i]
		}
		if err := e.out.WritePWM(pin, e.pulse(c), e.cycle); err != nil {
			errs = append(errs, fmt.Errorf("esc: motor %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Stop writes the idle pulse to every motor.
func (e *ESC) Stop() error {
	return e.Actuate(nil)
}

func (e *ESC) NumMotors() int { return len(e.cfg.Pins) }

// pulse returns the pulse width in µs for command c.
func (e *ESC) pulse(c float64) uint32 {
	lo, hi := float64(e.cfg.MinPulseUs), float64(e.cfg.MaxPulseUs)
	if math.IsNaN(c) {
		c = 0
	}
	if e.cfg.Bidirectional {
		c = math.Max(-1, math.Min(1, c))
		mid := (lo + hi) / 2
		return uint32(math.Round(mid + c*(hi-lo)/2))
	}
	c = math.Max(0, math.Min(1, c))
	return uint32(math.Round(lo + c*(hi-lo)))
}
