package imu

import (
	"fmt"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/logic/attitude"
	"github.com/flybot/flybot/internal/logic/geometry"
)

// MPU9250 reads an InvenSense MPU9250 over SPI.
type MPU9250 struct {
	dev *mpu9250.MPU9250
}

// NewMPU9250 initialises the periph host, opens the SPI transport on
// spiPath with chip select csPin and resets the device.
func NewMPU9250(spiPath, csPin string) (*MPU9250, error) {
	debug.Info("Initializing MPU9250 on %s (CS %s)", spiPath, csPin)

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("imu CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiPath, cs)
	if err != nil {
		return nil, fmt.Errorf("imu SPI transport: %w", err)
	}

	dev, err := mpu9250.New(tr)
	if err != nil {
		return nil, fmt.Errorf("imu new device: %w", err)
	}
	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("imu init: %w", err)
	}

	debug.Verbose("MPU9250 ready")
	return &MPU9250{dev: dev}, nil
}

// ReadSample reads all six axes. Any register read failure is returned
// wrapped in ErrBus and no partial sample is produced.
func (m *MPU9250) ReadSample() (attitude.Sample, error) {
	reads := []struct {
		name string
		get  func() (int16, error)
	}{
		{"accel x", m.dev.GetAccelerationX},
		{"accel y", m.dev.GetAccelerationY},
		{"accel z", m.dev.GetAccelerationZ},
		{"gyro x", m.dev.GetRotationX},
		{"gyro y", m.dev.GetRotationY},
		{"gyro z", m.dev.GetRotationZ},
	}
	var raw [6]int16
	for i, r := range reads {
		v, err := r.get()
		if err != nil {
			return attitude.Sample{}, fmt.Errorf("%w: %s: %v", ErrBus, r.name, err)
		}
		raw[i] = v
	}

	return attitude.Sample{
		Accel: geometry.Vector3{X: accelToG(raw[0]), Y: accelToG(raw[1]), Z: accelToG(raw[2])},
		Gyro:  geometry.Vector3{X: gyroToRadS(raw[3]), Y: gyroToRadS(raw[4]), Z: gyroToRadS(raw[5])},
	}, nil
}

// Close is a no-op; the SPI port is released with the process.
func (m *MPU9250) Close() error { return nil }
