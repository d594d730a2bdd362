// Package telemetry holds the published state of the control loop.
//
// The loop is the only writer. Every field is a single atomic word, so a
// reader never sees a torn value, but a Load taken while the loop is
// writing may mix fields from two consecutive cycles.
package telemetry

import (
	"math"
	"sync/atomic"

	"github.com/flybot/flybot/internal/logic/flight"
)

// MaxMotors is the number of motor commands the snapshot can hold.
const MaxMotors = 8

// Flag is a hardware status bit.
type Flag uint32

const (
	SensorOK Flag = 1 << iota
	SignalOK
	Armed
)

type atomicFloat struct{ bits atomic.Uint64 }

func (f *atomicFloat) Store(v float64) { f.bits.Store(math.Float64bits(v)) }
func (f *atomicFloat) Load() float64   { return math.Float64frombits(f.bits.Load()) }

// Snapshot is the single published state instance. The zero value is
// ready to use and reports Disarmed with every flag cleared.
type Snapshot struct {
	pitch, roll, yaw                   atomicFloat
	rcPitch, rcRoll, rcYaw, rcThrottle atomicFloat
	pitchError, rollError              atomicFloat

	motors    [MaxMotors]atomicFloat
	numMotors atomic.Int32

	flags  atomic.Uint32
	status atomic.Int32
}

// State is a copy of the snapshot for readers.
type State struct {
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
	Yaw   float64 `json:"yaw"`

	RCPitch    float64 `json:"rc_pitch"`
	RCRoll     float64 `json:"rc_roll"`
	RCYaw      float64 `json:"rc_yaw"`
	RCThrottle float64 `json:"rc_throttle"`

	PitchError float64 `json:"pitch_error"`
	RollError  float64 `json:"roll_error"`

	Motors []float64 `json:"motors"`

	SensorOK     bool          `json:"sensor_ok"`
	SignalOK     bool          `json:"signal_ok"`
	Armed        bool          `json:"armed"`
	Status       flight.Status `json:"-"`
	FlightStatus string        `json:"flight_status"`
}

// UpdateOrientation publishes the estimated angles in radians and whether
// the last sensor read succeeded.
func (s *Snapshot) UpdateOrientation(pitch, roll, yaw float64, ok bool) {
	s.pitch.Store(pitch)
	s.roll.Store(roll)
	s.yaw.Store(yaw)
	s.SetFlag(SensorOK, ok)
}

// UpdateCommands publishes the stick commands and signal validity.
func (s *Snapshot) UpdateCommands(pitch, roll, yaw, throttle float64, ok bool) {
	s.rcPitch.Store(pitch)
	s.rcRoll.Store(roll)
	s.rcYaw.Store(yaw)
	s.rcThrottle.Store(throttle)
	s.SetFlag(SignalOK, ok)
}

func (s *Snapshot) UpdateControlErrors(pitch, roll float64) {
	s.pitchError.Store(pitch)
	s.rollError.Store(roll)
}

// UpdateMotorCommands publishes up to MaxMotors commands; the rest are
// dropped.
func (s *Snapshot) UpdateMotorCommands(commands []float64) {
	n := min(len(commands), MaxMotors)
	for i := 0; i < n; i++ {
		s.motors[i].Store(commands[i])
	}
	s.numMotors.Store(int32(n))
}

func (s *Snapshot) SetFlag(f Flag, on bool) {
	if on {
		s.flags.Or(uint32(f))
	} else {
		s.flags.And(^uint32(f))
	}
}

func (s *Snapshot) HasFlag(f Flag) bool {
	return Flag(s.flags.Load())&f != 0
}

// SetFlightStatus publishes the flight status and keeps the Armed flag in
// line with it.
func (s *Snapshot) SetFlightStatus(st flight.Status) {
	s.status.Store(int32(st))
	s.SetFlag(Armed, st.Armed())
}

func (s *Snapshot) FlightStatus() flight.Status {
	return flight.Status(s.status.Load())
}

// Load copies the current snapshot.
func (s *Snapshot) Load() State {
	n := int(s.numMotors.Load())
	motors := make([]float64, n)
	for i := range motors {
		motors[i] = s.motors[i].Load()
	}
	flags := Flag(s.flags.Load())
	st := s.FlightStatus()
	return State{
		Pitch:        s.pitch.Load(),
		Roll:         s.roll.Load(),
		Yaw:          s.yaw.Load(),
		RCPitch:      s.rcPitch.Load(),
		RCRoll:       s.rcRoll.Load(),
		RCYaw:        s.rcYaw.Load(),
		RCThrottle:   s.rcThrottle.Load(),
		PitchError:   s.pitchError.Load(),
		RollError:    s.rollError.Load(),
		Motors:       motors,
		SensorOK:     flags&SensorOK != 0,
		SignalOK:     flags&SignalOK != 0,
		Armed:        flags&Armed != 0,
		Status:       st,
		FlightStatus: st.String(),
	}
}
