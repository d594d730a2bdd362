// Package flight implements the arm/disarm lifecycle as an indexed state
// table. Each state's step function returns the next status; the machine
// applies it after the step has finished.
package flight

import (
	"fmt"
	"time"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/params"
)

// Inputs are the stick signals evaluated once per tick.
type Inputs struct {
	ArmGesture  bool
	NoInput     bool
	SignalValid bool
}

// Publisher receives the status on every state entry.
type Publisher interface {
	SetFlightStatus(Status)
}

type stepFunc func(m *Machine, in Inputs, now time.Time) Status

var steps = [numStatus]stepFunc{
	Disarmed:                   stepDisarmed,
	Arming:                     stepArming,
	ArmingWaitingForNoInput:    stepArmingWaiting,
	Flying:                     stepFlying,
	Disarming:                  stepDisarming,
	DisarmingWaitingForNoInput: stepDisarmingWaiting,
}

// Machine is the flight state machine. It is not safe for concurrent use;
// the control loop owns it.
type Machine struct {
	status    Status
	entered   time.Time
	lastValid time.Time
	started   bool

	debounce *params.Param
	failsafe *params.Param
	pub      Publisher
}

// New returns a machine in Disarmed and publishes that status.
func New(store *params.Store, pub Publisher) *Machine {
	m := &Machine{
		debounce: store.Register("arming.debounce", "Seconds the arm/disarm gesture must be held", params.Float(2)),
		failsafe: store.Register("rc.failsafe", "Seconds without a valid signal before disarming", params.Float(0.5)),
		pub:      pub,
	}
	m.publish()
	return m
}

func (m *Machine) Status() Status { return m.status }

// Update is UpdateAt(time.Now(), in).
func (m *Machine) Update(in Inputs) Status {
	return m.UpdateAt(time.Now(), in)
}

// UpdateAt runs the active state once and applies the transition it
// returns. An invalid signal counts as a released gesture with no input,
// but never arms; a machine outside Disarmed that sees no valid signal for
// longer than rc.failsafe goes to Disarmed.
func (m *Machine) UpdateAt(now time.Time, in Inputs) Status {
	if !m.started {
		m.started = true
		m.entered = now
		m.lastValid = now
	}
	if in.SignalValid {
		m.lastValid = now
	} else {
		in.ArmGesture = false
		in.NoInput = true
	}

	next := steps[m.status](m, in, now)
	if m.status != Disarmed && !in.SignalValid && now.Sub(m.lastValid) > seconds(m.failsafe) {
		debug.Warn("flight: no valid signal for %v, disarming", now.Sub(m.lastValid))
		next = Disarmed
	}
	if next != m.status {
		m.transition(next, now)
	}
	return m.status
}

func (m *Machine) transition(to Status, now time.Time) {
	if !CanTransition(m.status, to) {
		debug.Error(fmt.Errorf("flight: no edge from %v to %v", m.status, to))
		return
	}
	debug.Transition("flight", m.status.String(), to.String())
	m.status = to
	m.entered = now
	if to == Arming || to == Disarming {
		if d := m.debounce.Float(); d < 2 || d > 3 {
			debug.Live("flight: arming.debounce %.2fs is outside 2-3s", d)
		}
	}
	m.publish()
}

func (m *Machine) publish() {
	if m.pub != nil {
		m.pub.SetFlightStatus(m.status)
	}
}

func (m *Machine) held(now time.Time) bool {
	return now.Sub(m.entered) >= seconds(m.debounce)
}

func stepDisarmed(m *Machine, in Inputs, now time.Time) Status {
	if in.ArmGesture {
		return Arming
	}
	return Disarmed
}

func stepArming(m *Machine, in Inputs, now time.Time) Status {
	switch {
	case !in.ArmGesture:
		return Disarmed
	case m.held(now):
		return ArmingWaitingForNoInput
	}
	return Arming
}

func stepArmingWaiting(m *Machine, in Inputs, now time.Time) Status {
	if in.SignalValid && in.NoInput {
		return Flying
	}
	return ArmingWaitingForNoInput
}

func stepFlying(m *Machine, in Inputs, now time.Time) Status {
	if in.ArmGesture {
		return Disarming
	}
	return Flying
}

func stepDisarming(m *Machine, in Inputs, now time.Time) Status {
	switch {
	case !in.ArmGesture:
		return Flying
	case m.held(now):
		return DisarmingWaitingForNoInput
	}
	return Disarming
}

func stepDisarmingWaiting(m *Machine, in Inputs, now time.Time) Status {
	if in.NoInput {
		return Disarmed
	}
	return DisarmingWaitingForNoInput
}

func seconds(p *params.Param) time.Duration {
	return time.Duration(p.Float() * float64(time.Second))
}
