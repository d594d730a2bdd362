package led

import (
	"time"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/hw/gpio"
	"github.com/flybot/flybot/internal/logic/flight"
)

// BlinkPeriod is the on and off time while arming or disarming.
const BlinkPeriod = 250 * time.Millisecond

// StatusLED shows the flight status on a single active-high LED:
// - off while Disarmed
// - blinking while arming or disarming
// - solid while Flying
//
// The pin is only written when its level changes.
type StatusLED struct {
	gpio    gpio.Driver
	pin     int
	level   gpio.Level
	written bool
}

// New configures pin as an output and switches the LED off.
func New(g gpio.Driver, pin int) *StatusLED {
	_ = g.SetupPin(pin, gpio.Output)
	l := &StatusLED{gpio: g, pin: pin}
	_ = l.set(gpio.Low)
	return l
}

// ShowAt drives the LED for status s at time now.
func (l *StatusLED) ShowAt(s flight.Status, now time.Time) error {
	return l.set(Pattern(s, now))
}

// Off switches the LED off.
func (l *StatusLED) Off() error {
	return l.set(gpio.Low)
}

func (l *StatusLED) set(level gpio.Level) error {
	if l.written && level == l.level {
		return nil
	}
	debug.Trace("LED: pin %d -> %v", l.pin, level)
	if err := l.gpio.WritePin(l.pin, level); err != nil {
		return err
	}
	l.level = level
	l.written = true
	return nil
}

// Pattern returns the LED level for status s at time now.
func Pattern(s flight.Status, now time.Time) gpio.Level {
	switch s {
	case flight.Disarmed:
		return gpio.Low
	case flight.Flying:
		return gpio.High
	}
	phase := now.UnixNano() / int64(BlinkPeriod)
	return gpio.Level(phase%2 == 0)
}
