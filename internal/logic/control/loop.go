// Package control runs the fixed-rate flight control cycle: sensor
// fusion, flight state, attitude error, PID and motor mixing.
package control

import (
	"time"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/hw/radio"
	"github.com/flybot/flybot/internal/logic/attitude"
	"github.com/flybot/flybot/internal/logic/flight"
	"github.com/flybot/flybot/internal/logic/geometry"
	"github.com/flybot/flybot/internal/logic/mixer"
	"github.com/flybot/flybot/internal/logic/pid"
	"github.com/flybot/flybot/internal/params"
	"github.com/flybot/flybot/internal/telemetry"
)

// Actuator receives one normalised command per motor each cycle.
type Actuator interface {
	Actuate(commands []float64) error
}

// Indicator shows the flight status to the pilot.
type Indicator interface {
	ShowAt(s flight.Status, now time.Time) error
}

// Config holds the scheduler settings.
type Config struct {
	RateHz           int // cycles per second, default 100
	CalibrationTicks int // cycles of rest calibration at start-up, 0 = none
}

var axisDefaults = pid.Config{
	Kp:      0.6,
	Ki:      0.1,
	Kd:      0.05,
	DFilter: 0.3,
	ILimit:  0.5,
	DLimit:  0.3,
	Limit:   0.5,
}

// Loop owns every control component. It is driven by Tick and is not
// safe for concurrent use; other goroutines observe it through the
// telemetry snapshot and the parameter store.
type Loop struct {
	period           time.Duration
	calibrationTicks int

	estimator *attitude.Estimator
	commands  radio.Source
	machine   *flight.Machine
	pitch     *pid.Tracking
	roll      *pid.Tracking
	mixer     *mixer.Mixer
	state     *telemetry.Snapshot
	actuator  Actuator
	indicator Indicator

	nextDue time.Time
	cycles  int
}

// New builds the loop and registers its parameters in store. actuator may
// be nil.
func New(cfg Config, store *params.Store, sensor attitude.Reader, commands radio.Source, actuator Actuator, state *telemetry.Snapshot) *Loop {
	rate := cfg.RateHz
	if rate <= 0 {
		rate = 100
	}
	return &Loop{
		period:           time.Second / time.Duration(rate),
		calibrationTicks: cfg.CalibrationTicks,
		estimator:        attitude.NewEstimator(sensor, store),
		commands:         commands,
		machine:          flight.New(store, state),
		pitch:            pid.NewTracking(store, "pid.pitch", axisDefaults),
		roll:             pid.NewTracking(store, "pid.roll", axisDefaults),
		mixer:            mixer.New(mixer.NewAirframe(store)),
		state:            state,
		actuator:         actuator,
	}
}

// SetIndicator attaches a status indicator updated every cycle.
func (l *Loop) SetIndicator(ind Indicator) { l.indicator = ind }

func (l *Loop) Period() time.Duration             { return l.period }
func (l *Loop) Cycles() int                       { return l.cycles }
func (l *Loop) Estimator() *attitude.Estimator    { return l.estimator }
func (l *Loop) Machine() *flight.Machine          { return l.machine }
func (l *Loop) Mixer() *mixer.Mixer               { return l.mixer }
func (l *Loop) NextDue() time.Time                { return l.nextDue }
func (l *Loop) State() *telemetry.Snapshot        { return l.state }
func (l *Loop) Commands() radio.Source            { return l.commands }
func (l *Loop) Axis() (pitch, roll *pid.Tracking) { return l.pitch, l.roll }

// Tick runs one cycle if one is due at now and reports whether it did.
// The first call only schedules the first cycle one period later. A late
// caller gets a single cycle; if the next due time is then already past,
// it is moved to now + period instead of catching up.
func (l *Loop) Tick(now time.Time) bool {
	if l.nextDue.IsZero() {
		l.nextDue = now.Add(l.period)
		return false
	}
	if now.Before(l.nextDue) {
		return false
	}
	l.nextDue = l.nextDue.Add(l.period)
	if !l.nextDue.After(now) {
		l.nextDue = now.Add(l.period)
	}
	l.cycle(now)
	return true
}

func (l *Loop) cycle(now time.Time) {
	// 1. Calibration lifecycle.
	if l.calibrationTicks > 0 {
		switch l.cycles {
		case 0:
			l.estimator.BeginCalibration()
		case l.calibrationTicks:
			if err := l.estimator.EndCalibration(); err != nil {
				debug.Error(err)
			} else {
				debug.Info("IMU calibration complete after %d cycles", l.calibrationTicks)
			}
		}
	}

	// 2. Orientation.
	sensorOK := l.estimator.UpdateAt(now)
	q := l.estimator.Orientation()
	euler := q.Euler()
	l.state.UpdateOrientation(euler.X, euler.Y, euler.Z, sensorOK)

	// 3. Flight state. Arming is held off until calibration is done.
	cmd := l.commands.CommandsAt(now)
	l.state.UpdateCommands(cmd.Pitch, cmd.Roll, cmd.Yaw, cmd.Throttle, cmd.Valid)
	in := flight.Inputs{ArmGesture: cmd.ArmGesture, NoInput: cmd.NoInput, SignalValid: cmd.Valid}
	if l.estimator.Calibrating() {
		in.ArmGesture = false
	}
	status := l.machine.UpdateAt(now, in)

	// 4. Attitude error. Yaw is rate commanded, so the target keeps the
	// current heading.
	target := geometry.FromEuler(geometry.Vector3{Z: euler.Z}).
		Mul(geometry.FromEuler(geometry.Vector3{X: cmd.Pitch})).
		Mul(geometry.FromEuler(geometry.Vector3{Y: cmd.Roll}))
	errEuler := q.Mul(target.Inverse()).Euler()
	l.state.UpdateControlErrors(errEuler.X, errEuler.Y)

	// 5. Axis controllers. They run every cycle to keep their timing
	// current but only accumulate while the motors are active.
	active := status.MotorsActive()
	pitchOut := l.pitch.UpdateAt(cmd.Pitch+errEuler.X, cmd.Pitch, now)
	rollOut := l.roll.UpdateAt(cmd.Roll+errEuler.Y, cmd.Roll, now)
	if !active {
		l.pitch.ResetErrorIntegral()
		l.roll.ResetErrorIntegral()
	}

	// 6. Mixing.
	l.mixer.UpdateMotorMix()
	if active {
		l.mixer.Mix(cmd.Throttle, pitchOut, rollOut, cmd.Yaw)
	} else {
		l.mixer.Reset()
	}

	// 7. Outputs.
	outputs := l.mixer.Outputs()
	l.state.UpdateMotorCommands(outputs)
	if l.actuator != nil {
		if err := l.actuator.Actuate(outputs); err != nil {
			debug.Live("actuator: %v", err)
		}
	}
	if l.indicator != nil {
		if err := l.indicator.ShowAt(status, now); err != nil {
			debug.Live("indicator: %v", err)
		}
	}

	if debug.IsEnabled(debug.LevelTrace) {
		debug.Trace("cycle %d: %v att=(%.3f %.3f %.3f) err=(%.3f %.3f) pid=(%.3f %.3f) motors=%v",
			l.cycles, status, euler.X, euler.Y, euler.Z, errEuler.X, errEuler.Y, pitchOut, rollOut, outputs)
	}
	l.cycles++
}
