package attitude

import (
	"fmt"

	"github.com/flybot/flybot/internal/logic/geometry"
	"github.com/flybot/flybot/internal/params"
)

// Sample is one inertial reading: acceleration in g and angular rate in
// rad/s, both in the sensor frame.
type Sample struct {
	Accel geometry.Vector3
	Gyro  geometry.Vector3
}

// Reader reads one raw sample from a physical sensor. Implementations
// must not block indefinitely; a bus failure is returned as an error.
type Reader interface {
	ReadSample() (Sample, error)
}

// Axis identifies one of the six calibrated sensor channels.
type Axis int

const (
	AccelX Axis = iota
	AccelY
	AccelZ
	GyroX
	GyroY
	GyroZ
	numAxes
)

var axisNames = [numAxes]string{"accelX", "accelY", "accelZ", "gyroX", "gyroY", "gyroZ"}

func (a Axis) String() string {
	if a < 0 || a >= numAxes {
		return fmt.Sprintf("axis(%d)", int(a))
	}
	return axisNames[a]
}

// AxisCalibration is the linear correction applied to one raw channel:
// calibrated = raw*Scale + Offset.
type AxisCalibration struct {
	Scale  float64
	Offset float64
}

// Apply corrects a raw reading.
func (c AxisCalibration) Apply(raw float64) float64 {
	return raw*c.Scale + c.Offset
}

// linearCal is an AxisCalibration backed by two persisted parameters.
type linearCal struct {
	store  *params.Store
	scale  *params.Param
	offset *params.Param
}

func newLinearCal(store *params.Store, axis Axis) linearCal {
	name := "imu." + axis.String()
	return linearCal{
		store:  store,
		scale:  store.Register(name+".scale", axis.String()+" calibration scale factor", params.Float(1)),
		offset: store.Register(name+".offset", axis.String()+" calibration offset", params.Float(0)),
	}
}

func (l linearCal) get() AxisCalibration {
	return AxisCalibration{Scale: l.scale.Float(), Offset: l.offset.Float()}
}

func (l linearCal) set(c AxisCalibration) error {
	if err := l.store.Set(l.scale.Name(), params.Float(c.Scale)); err != nil {
		return err
	}
	return l.store.Set(l.offset.Name(), params.Float(c.Offset))
}

func (s Sample) axes() [numAxes]float64 {
	return [numAxes]float64{s.Accel.X, s.Accel.Y, s.Accel.Z, s.Gyro.X, s.Gyro.Y, s.Gyro.Z}
}

func sampleFromAxes(v [numAxes]float64) Sample {
	return Sample{
		Accel: geometry.Vector3{X: v[AccelX], Y: v[AccelY], Z: v[AccelZ]},
		Gyro:  geometry.Vector3{X: v[GyroX], Y: v[GyroY], Z: v[GyroZ]},
	}
}
