package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 64 * 1024

// LoopConfig holds the control scheduler settings.
type LoopConfig struct {
	RateHz           int `yaml:"rate_hz"`           // control cycles per second (default 100)
	CalibrationTicks int `yaml:"calibration_ticks"` // rest calibration cycles at start-up (default 300, -1 = none)
	PollIntervalUs   int `yaml:"poll_interval_us"`  // how often the runtime calls the scheduler (default 250)
}

// IMUConfig selects the inertial sensor.
// Type is "stationary" (simulator) or "mpu9250_spi".
type IMUConfig struct {
	Type    string `yaml:"type"`
	SPIPath string `yaml:"spi_path"` // e.g., "/dev/spidev0.0"
	CSPin   string `yaml:"cs_pin"`   // chip select GPIO name, e.g., "GPIO8"
}

// RadioConfig selects the stick-command receiver.
type RadioConfig struct {
	Type   string `yaml:"type"`   // "none" or "sbus"
	Device string `yaml:"device"` // serial device, configured 100000 8E2 inverted
}

// ESCConfig describes the motor outputs.
// Output is "gpio" (Raspberry Pi hardware PWM, two independent channels)
// or "pca9685" (I2C PWM controller, 16 channels).
type ESCConfig struct {
	Output        string `yaml:"output"`
	I2CBus        string `yaml:"i2c_bus"`  // pca9685 only, "" = first bus
	I2CAddr       uint16 `yaml:"i2c_addr"` // pca9685 only, 0 = 0x40
	Pins          []int  `yaml:"pins"`     // BCM pins or controller channels, one per motor
	FrequencyHz   int    `yaml:"frequency_hz"`
	MinPulseUs    int    `yaml:"min_pulse_us"`
	MaxPulseUs    int    `yaml:"max_pulse_us"`
	Bidirectional bool   `yaml:"bidirectional"` // neutral at mid pulse
}

// LEDConfig describes the status LED.
type LEDConfig struct {
	Pin int `yaml:"pin"` // BCM pin, 0 = no LED
}

// ParamsConfig controls parameter persistence.
type ParamsConfig struct {
	Path            string `yaml:"path"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
}

// DefaultsConfig contains generic settings.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Loop     LoopConfig     `yaml:"loop"`
	IMU      IMUConfig      `yaml:"imu"`
	Radio    RadioConfig    `yaml:"radio"`
	ESC      ESCConfig      `yaml:"esc"`
	LED      LEDConfig      `yaml:"led"`
	Params   ParamsConfig   `yaml:"params"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath accepts only *.yaml files placed directly inside a
// configs/ directory, without traversal segments.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must end in .yaml", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	switch cfg.IMU.Type {
	case "", "stationary":
		cfg.IMU.Type = "stationary"
	case "mpu9250_spi":
		if cfg.IMU.SPIPath == "" {
			return nil, fmt.Errorf("imu.spi_path is required for %s", cfg.IMU.Type)
		}
	default:
		return nil, fmt.Errorf("imu.type %q is not supported", cfg.IMU.Type)
	}

	switch cfg.Radio.Type {
	case "", "none":
		cfg.Radio.Type = "none"
	case "sbus":
		if cfg.Radio.Device == "" {
			return nil, fmt.Errorf("radio.device is required for sbus")
		}
	default:
		return nil, fmt.Errorf("radio.type %q is not supported", cfg.Radio.Type)
	}

	if len(cfg.ESC.Pins) == 0 {
		return nil, fmt.Errorf("esc.pins is required")
	}
	if len(cfg.ESC.Pins) > 8 {
		return nil, fmt.Errorf("esc.pins supports at most 8 motors, got %d", len(cfg.ESC.Pins))
	}
	switch cfg.ESC.Output {
	case "", "gpio":
		cfg.ESC.Output = "gpio"
	case "pca9685":
		for _, ch := range cfg.ESC.Pins {
			if ch < 0 || ch > 15 {
				return nil, fmt.Errorf("esc.pins: pca9685 channel %d out of range 0-15", ch)
			}
		}
	default:
		return nil, fmt.Errorf("esc.output %q is not supported", cfg.ESC.Output)
	}
	if cfg.ESC.FrequencyHz <= 0 {
		cfg.ESC.FrequencyHz = 400 // standard PWM ESC rate
	}
	if cfg.ESC.MinPulseUs <= 0 {
		cfg.ESC.MinPulseUs = 1000
	}
	if cfg.ESC.MaxPulseUs <= 0 {
		cfg.ESC.MaxPulseUs = 2000
	}
	if cfg.ESC.MinPulseUs >= cfg.ESC.MaxPulseUs {
		return nil, fmt.Errorf("esc.min_pulse_us (%d) must be < esc.max_pulse_us (%d)", cfg.ESC.MinPulseUs, cfg.ESC.MaxPulseUs)
	}

	if cfg.Loop.RateHz <= 0 {
		cfg.Loop.RateHz = 100
	}
	if cfg.Loop.RateHz > 1000 {
		return nil, fmt.Errorf("loop.rate_hz must be <= 1000, got %d", cfg.Loop.RateHz)
	}
	switch {
	case cfg.Loop.CalibrationTicks == 0:
		cfg.Loop.CalibrationTicks = 300 // 3 s at 100 Hz
	case cfg.Loop.CalibrationTicks < 0:
		cfg.Loop.CalibrationTicks = 0
	}
	if cfg.Loop.PollIntervalUs <= 0 {
		cfg.Loop.PollIntervalUs = 250
	}

	if cfg.LED.Pin < 0 {
		return nil, fmt.Errorf("led.pin must be >= 0, got %d", cfg.LED.Pin)
	}

	if cfg.Params.Path == "" {
		cfg.Params.Path = "params.yaml"
	}
	if cfg.Params.FlushIntervalMs <= 0 {
		cfg.Params.FlushIntervalMs = 2000
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// PollInterval returns how often the runtime calls the scheduler.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Loop.PollIntervalUs) * time.Microsecond
}

// FlushInterval returns the parameter persistence period.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Params.FlushIntervalMs) * time.Millisecond
}

// Period returns the control cycle period.
func (c *Config) Period() time.Duration {
	return time.Second / time.Duration(c.Loop.RateHz)
}
