package esc

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"

	"github.com/flybot/flybot/internal/debug"
)

const (
	pcaChannels   = 16
	pcaResolution = 4096 // counts per period
)

// PCA9685 drives up to 16 ESCs from an I2C PWM controller. Pins passed
// to SetupPWM and WritePWM are controller channels.
type PCA9685 struct {
	mu       sync.Mutex
	bus      i2c.BusCloser
	dev      *pca9685.Dev
	channels map[int]bool
}

// NewPCA9685 opens the controller at addr on the named I2C bus ("" for the
// first bus) and sets its output frequency. addr 0 selects 0x40.
func NewPCA9685(busName string, addr uint16, freqHz int) (*PCA9685, error) {
	if freqHz <= 0 {
		return nil, fmt.Errorf("pca9685: invalid frequency %d Hz", freqHz)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("pca9685: host init: %w", err)
	}
	if addr == 0 {
		addr = pca9685.I2CAddr
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("pca9685: open i2c bus %q: %w", busName, err)
	}
	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("pca9685: at 0x%02x: %w", addr, err)
	}
	if err := dev.SetPwmFreq(physic.Frequency(freqHz) * physic.Hertz); err != nil {
		bus.Close()
		return nil, fmt.Errorf("pca9685: set frequency: %w", err)
	}
	debug.Info("PCA9685 at 0x%02x on bus %q, %d Hz", addr, busName, freqHz)
	return &PCA9685{bus: bus, dev: dev, channels: make(map[int]bool)}, nil
}

// SetupPWM reserves a channel. The clock is fixed by the controller.
func (p *PCA9685) SetupPWM(channel int, clockHz int) error {
	if channel < 0 || channel >= pcaChannels {
		return fmt.Errorf("pca9685: channel %d out of range 0-%d", channel, pcaChannels-1)
	}
	p.mu.Lock()
	p.channels[channel] = true
	p.mu.Unlock()
	return nil
}

// WritePWM sets channel high for duty out of every cycle.
func (p *PCA9685) WritePWM(channel int, duty, cycle uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.channels[channel] {
		return fmt.Errorf("pca9685: channel %d not set up", channel)
	}
	return p.dev.SetPwm(channel, 0, gpio.Duty(pcaCounts(duty, cycle)))
}

// Close switches every channel off and releases the bus.
func (p *PCA9685) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.dev.SetAllPwm(0, 0); err != nil {
		debug.Error(fmt.Errorf("pca9685: all off: %w", err))
	}
	return p.bus.Close()
}

// pcaCounts converts a duty/cycle ratio into controller counts.
func pcaCounts(duty, cycle uint32) uint32 {
	if cycle == 0 {
		return 0
	}
	if duty >= cycle {
		return pcaResolution - 1
	}
	return uint32(uint64(duty) * pcaResolution / uint64(cycle))
}
