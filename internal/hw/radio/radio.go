// Package radio decodes pilot stick input into normalised commands.
package radio

import "time"

// Commands is the decoded stick state at one instant.
type Commands struct {
	Pitch    float64 // radians, scaled by rc.max_angle
	Roll     float64 // radians, scaled by rc.max_angle
	Yaw      float64 // normalised rate demand in [-1, 1]
	Throttle float64 // [0, 1]

	ArmGesture bool // throttle low and yaw fully right
	NoInput    bool // throttle low and every other stick centred
	Valid      bool
}

// Source provides the commands in effect at now. Implementations are safe
// for concurrent use.
type Source interface {
	CommandsAt(now time.Time) Commands
}

// None is a source with no receiver attached. It never reports a valid
// signal, so the flight machine can not arm.
type None struct{}

func (None) CommandsAt(time.Time) Commands {
	return Commands{NoInput: true}
}
