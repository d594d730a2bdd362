// Package attitude estimates the aircraft orientation from inertial samples
// and maintains the sensor calibration derived from a rest period.
package attitude

import (
	"errors"
	"math"
	"time"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/logic/geometry"
	"github.com/flybot/flybot/internal/params"
)

var (
	ErrNotCalibrating = errors.New("calibration not in progress")
	ErrNoSamples      = errors.New("no calibration samples collected")
	ErrDegenerate     = errors.New("calibration samples have zero acceleration")
)

// Estimator owns the orientation estimate. It pulls one sample per Update
// from its Reader, applies the persisted calibration and advances a
// gradient-descent attitude filter.
type Estimator struct {
	reader    Reader
	cal       [numAxes]linearCal
	gyroError *params.Param // assumed gyro measurement error, deg/s

	orientation geometry.Quaternion
	last        time.Time
	started     bool

	calibrating bool
	calCount    int
	calSum      [numAxes]float64
}

// NewEstimator registers the calibration and filter parameters in store
// and returns an estimator reading from r.
func NewEstimator(r Reader, store *params.Store) *Estimator {
	e := &Estimator{
		reader:      r,
		gyroError:   store.Register("imu.gyro_error", "Assumed gyro measurement error (deg/s); sets the filter gain", params.Float(5)),
		orientation: geometry.Identity,
	}
	for a := Axis(0); a < numAxes; a++ {
		e.cal[a] = newLinearCal(store, a)
	}
	return e
}

// Reset forgets the orientation and timestamp; the next Update
// re-initializes to identity without fusing.
func (e *Estimator) Reset() {
	e.orientation = geometry.Identity
	e.started = false
	e.last = time.Time{}
}

// Orientation returns a copy of the current estimate.
func (e *Estimator) Orientation() geometry.Quaternion {
	return e.orientation
}

// Update is UpdateAt(time.Now()).
func (e *Estimator) Update() bool {
	return e.UpdateAt(time.Now())
}

// UpdateAt reads one sample and advances the estimate to now. It returns
// false when the read failed or the sample could not be fused; in both
// cases the orientation is left unchanged.
func (e *Estimator) UpdateAt(now time.Time) bool {
	raw, err := e.reader.ReadSample()
	if err != nil {
		debug.Live("IMU read failed: %v", err)
		return false
	}

	if e.calibrating {
		for i, v := range raw.axes() {
			e.calSum[i] += v
		}
		e.calCount++
	}

	s := e.calibrate(raw)

	if !e.started {
		e.orientation = geometry.Identity
		e.last = now
		e.started = true
		return true
	}

	dt := now.Sub(e.last).Seconds()
	e.last = now
	if dt <= 0 {
		return true
	}

	q, ok := fuse(e.orientation, s, dt, e.beta())
	if !ok {
		debug.Trace("IMU sample not fused: %+v", s)
		return false
	}
	e.orientation = q
	return true
}

func (e *Estimator) calibrate(raw Sample) Sample {
	v := raw.axes()
	for i := range v {
		v[i] = e.cal[i].get().Apply(v[i])
	}
	return sampleFromAxes(v)
}

// beta is the filter gain, √(3/4)·ω_err with ω_err in rad/s.
func (e *Estimator) beta() float64 {
	return math.Sqrt(3.0/4.0) * e.gyroError.Float() * geometry.DegToRad
}

// Calibration returns the correction currently applied to axis a.
func (e *Estimator) Calibration(a Axis) AxisCalibration {
	return e.cal[a].get()
}

// Calibrating reports whether a calibration phase is running.
func (e *Estimator) Calibrating() bool {
	return e.calibrating
}

// BeginCalibration starts accumulating uncalibrated samples. The aircraft
// must be at rest until EndCalibration.
func (e *Estimator) BeginCalibration() {
	e.calibrating = true
	e.calCount = 0
	e.calSum = [numAxes]float64{}
	debug.Info("IMU calibration started")
}

// EndCalibration averages the accumulated samples and stores a new
// calibration: one accelerometer scale that normalizes the mean to 1 g
// for all three axes, and a per-axis gyro offset cancelling the mean rate.
func (e *Estimator) EndCalibration() error {
	if !e.calibrating {
		return ErrNotCalibrating
	}
	e.calibrating = false
	if e.calCount == 0 {
		return ErrNoSamples
	}

	var mean [numAxes]float64
	for i, sum := range e.calSum {
		mean[i] = sum / float64(e.calCount)
	}
	accel := geometry.Vector3{X: mean[AccelX], Y: mean[AccelY], Z: mean[AccelZ]}
	g := accel.Norm()
	if g == 0 || math.IsNaN(g) || math.IsInf(g, 0) {
		return ErrDegenerate
	}
	scale := 1 / g

	for _, a := range []Axis{AccelX, AccelY, AccelZ} {
		if err := e.cal[a].set(AxisCalibration{Scale: scale, Offset: 0}); err != nil {
			return err
		}
	}
	for _, a := range []Axis{GyroX, GyroY, GyroZ} {
		if err := e.cal[a].set(AxisCalibration{Scale: 1, Offset: -mean[a]}); err != nil {
			return err
		}
	}

	debug.Info("IMU calibration done: %d samples, accel scale %.5f, gyro offset (%.5f, %.5f, %.5f)",
		e.calCount, scale, -mean[GyroX], -mean[GyroY], -mean[GyroZ])
	e.calCount = 0
	return nil
}
