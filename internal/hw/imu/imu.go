// Package imu provides inertial sensor readers for the attitude estimator.
package imu

import (
	"errors"
	"fmt"
	"math"

	"github.com/flybot/flybot/internal/logic/attitude"
	"github.com/flybot/flybot/internal/logic/geometry"
)

// ErrBus wraps any failure to talk to the sensor.
var ErrBus = errors.New("imu: bus error")

// Sensor is an attitude.Reader that owns a hardware resource.
type Sensor interface {
	attitude.Reader
	Close() error
}

// Config selects and wires a sensor.
type Config struct {
	Type    string // "stationary" or "mpu9250_spi"
	SPIPath string
	CSPin   string
}

// Open returns the sensor described by cfg.
func Open(cfg Config) (Sensor, error) {
	switch cfg.Type {
	case "", "stationary":
		return NewStationary(geometry.Vector3{Z: 1}, geometry.Vector3{}), nil
	case "mpu9250_spi":
		return NewMPU9250(cfg.SPIPath, cfg.CSPin)
	default:
		return nil, fmt.Errorf("unknown imu type %q", cfg.Type)
	}
}

// Stationary reports a fixed gravity vector and a constant gyro bias,
// as a sensor resting on a bench would.
type Stationary struct {
	gravity geometry.Vector3
	bias    geometry.Vector3
	fail    bool
}

// NewStationary returns a simulator reporting gravity (in g) and a gyro
// reading of bias (in rad/s) on every read.
func NewStationary(gravity, bias geometry.Vector3) *Stationary {
	return &Stationary{gravity: gravity, bias: bias}
}

// SetFailing makes subsequent reads fail with ErrBus.
func (s *Stationary) SetFailing(fail bool) { s.fail = fail }

func (s *Stationary) ReadSample() (attitude.Sample, error) {
	if s.fail {
		return attitude.Sample{}, fmt.Errorf("stationary: %w", ErrBus)
	}
	return attitude.Sample{Accel: s.gravity, Gyro: s.bias}, nil
}

func (s *Stationary) Close() error { return nil }

// Default full-scale ranges after reset: ±2 g and ±250 °/s.
const (
	accelLSBPerG   = 16384.0
	gyroLSBPerDegS = 131.0
)

func accelToG(raw int16) float64 {
	return float64(raw) / accelLSBPerG
}

func gyroToRadS(raw int16) float64 {
	return float64(raw) / gyroLSBPerDegS * math.Pi / 180
}
