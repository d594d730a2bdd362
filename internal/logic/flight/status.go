package flight

// Status identifies the active state of the flight machine.
type Status int

const (
	Disarmed Status = iota
	Arming
	ArmingWaitingForNoInput
	Flying
	Disarming
	DisarmingWaitingForNoInput
	numStatus
)

var statusNames = [numStatus]string{
	Disarmed:                   "Disarmed",
	Arming:                     "Arming",
	ArmingWaitingForNoInput:    "ArmingWaitingForNoInput",
	Flying:                     "Flying",
	Disarming:                  "Disarming",
	DisarmingWaitingForNoInput: "DisarmingWaitingForNoInput",
}

func (s Status) String() string {
	if s < 0 || s >= numStatus {
		return "Unknown"
	}
	return statusNames[s]
}

// Parent returns the group a status belongs to: Disarmed for the states
// that lead up to flight, Flying for the ones that lead out of it.
func (s Status) Parent() Status {
	switch s {
	case Flying, Disarming, DisarmingWaitingForNoInput:
		return Flying
	}
	return Disarmed
}

// MotorsActive reports whether the control outputs drive the motors.
// They keep running while a disarm gesture is still being debounced.
func (s Status) MotorsActive() bool {
	return s == Flying || s == Disarming
}

// Armed reports whether the machine is anywhere in the Flying group.
func (s Status) Armed() bool {
	return s.Parent() == Flying
}

// allowed lists the explicit edges of the machine. Every state other than
// Disarmed has an edge back to it for the signal-loss failsafe.
var allowed = [numStatus][]Status{
	Disarmed:                   {Arming},
	Arming:                     {ArmingWaitingForNoInput, Disarmed},
	ArmingWaitingForNoInput:    {Flying, Disarmed},
	Flying:                     {Disarming, Disarmed},
	Disarming:                  {DisarmingWaitingForNoInput, Flying, Disarmed},
	DisarmingWaitingForNoInput: {Disarmed},
}

// CanTransition reports whether from → to is an edge of the machine.
func CanTransition(from, to Status) bool {
	if from < 0 || from >= numStatus {
		return false
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
