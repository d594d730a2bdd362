package gpio

import (
	"fmt"
	"sync"

	"github.com/flybot/flybot/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// pwmChannel maps the BCM pins wired to hardware PWM to their channel.
// The SoC has two channels, so at most two pins carry independent signals.
var pwmChannel = map[int]int{12: 0, 18: 0, 40: 0, 13: 1, 19: 1, 41: 1, 45: 1}

// claimChannel records pin as the owner of its PWM channel in claims. A
// second pin on an owned channel would mirror the first one's signal.
func claimChannel(claims map[int]int, pin int) error {
	ch, ok := pwmChannel[pin]
	if !ok {
		return fmt.Errorf("pin %d has no hardware PWM", pin)
	}
	if owner, taken := claims[ch]; taken && owner != pin {
		return fmt.Errorf("pin %d shares PWM channel %d with pin %d", pin, ch, owner)
	}
	claims[ch] = pin
	return nil
}

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
// WritePWM is called from the control loop while WritePin may be called
// from the status LED, so pin bookkeeping is guarded.
type RPiDriver struct {
	mu         sync.Mutex
	pins       map[int]rpio.Pin
	pwm        map[int]rpio.Pin
	channels   map[int]int // PWM channel -> owning pin
	pwmStarted bool
}

// NewRPiRealDriver creates a real GPIO driver for Raspberry Pi.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
// Hardware PWM needs /dev/mem, so ESC output requires root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}

	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{
		pins:     make(map[int]rpio.Pin),
		pwm:      make(map[int]rpio.Pin),
		channels: make(map[int]int),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setupPin(pin, mode)
}

func (r *RPiDriver) setupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as output
		if err := r.setupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}

	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("ReadPin", pin, nil)

	p, ok := r.pins[pin]
	if !ok {
		// Pin not setup yet, setup as input
		if err := r.setupPin(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}

	state := p.Read()
	if state == rpio.High {
		return High, nil
	}
	return Low, nil
}

// SetupPWM switches pin to its hardware PWM function with the given clock.
// Each of the two PWM channels can be claimed by one pin only.
func (r *RPiDriver) SetupPWM(pin int, clockHz int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("SetupPWM", pin, clockHz)

	if clockHz <= 0 {
		return fmt.Errorf("invalid PWM clock %d Hz", clockHz)
	}
	if err := claimChannel(r.channels, pin); err != nil {
		return err
	}

	p := rpio.Pin(pin)
	p.Mode(rpio.Pwm)
	p.Freq(clockHz)
	r.pwm[pin] = p

	if !r.pwmStarted {
		rpio.StartPwm()
		r.pwmStarted = true
	}
	return nil
}

func (r *RPiDriver) WritePWM(pin int, duty, cycle uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pwm[pin]
	if !ok {
		return fmt.Errorf("pin %d not set up for PWM", pin)
	}
	if duty > cycle {
		duty = cycle
	}
	p.DutyCycle(duty, cycle)
	return nil
}

func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.Trace("GPIO Close (real driver)")

	if r.pwmStarted {
		rpio.StopPwm()
	}

	// Reset all pins to input (safe state)
	for pin, p := range r.pwm {
		debug.Verbose("Resetting PWM pin %d to input", pin)
		p.Input()
	}
	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.Input()
	}

	return rpio.Close()
}
