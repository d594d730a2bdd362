package flight

import (
	"testing"
	"time"

	"github.com/flybot/flybot/internal/params"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const tick = 10 * time.Millisecond

type recordingPublisher struct {
	statuses []Status
}

func (p *recordingPublisher) SetFlightStatus(s Status) {
	p.statuses = append(p.statuses, s)
}

var (
	gesture = Inputs{ArmGesture: true, SignalValid: true}
	idle    = Inputs{NoInput: true, SignalValid: true}
	moving  = Inputs{SignalValid: true}
	lost    = Inputs{}
)

type harness struct {
	t   *testing.T
	m   *Machine
	pub *recordingPublisher
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pub := &recordingPublisher{}
	return &harness{t: t, m: New(params.NewStore(), pub), pub: pub, now: t0}
}

// run feeds in for d, one tick at a time, and returns the final status.
func (h *harness) run(in Inputs, d time.Duration) Status {
	end := h.now.Add(d)
	var s Status
	for !h.now.After(end) {
		s = h.m.UpdateAt(h.now, in)
		h.now = h.now.Add(tick)
	}
	return s
}

func (h *harness) expect(want Status) {
	h.t.Helper()
	if got := h.m.Status(); got != want {
		h.t.Fatalf("status = %v, want %v", got, want)
	}
}

func (h *harness) arm() {
	h.t.Helper()
	h.run(gesture, 2100*time.Millisecond)
	h.expect(ArmingWaitingForNoInput)
	h.run(idle, 0)
	h.expect(Flying)
}

func TestNew_StartsDisarmedAndPublishes(t *testing.T) {
	h := newHarness(t)
	h.expect(Disarmed)
	if len(h.pub.statuses) != 1 || h.pub.statuses[0] != Disarmed {
		t.Errorf("published = %v, want [Disarmed]", h.pub.statuses)
	}
}

func TestArming_HeldGestureReachesWaitingForNoInput(t *testing.T) {
	h := newHarness(t)
	h.run(gesture, 0)
	h.expect(Arming)
	h.run(gesture, 1900*time.Millisecond)
	h.expect(Arming)
	h.run(gesture, 200*time.Millisecond)
	h.expect(ArmingWaitingForNoInput)

	// Still holding the gesture: sticks are not centred.
	h.run(gesture, time.Second)
	h.expect(ArmingWaitingForNoInput)
	h.run(moving, time.Second)
	h.expect(ArmingWaitingForNoInput)

	h.run(idle, 0)
	h.expect(Flying)

	want := []Status{Disarmed, Arming, ArmingWaitingForNoInput, Flying}
	if len(h.pub.statuses) != len(want) {
		t.Fatalf("published = %v, want %v", h.pub.statuses, want)
	}
	for i := range want {
		if h.pub.statuses[i] != want[i] {
			t.Errorf("published[%d] = %v, want %v", i, h.pub.statuses[i], want[i])
		}
	}
}

func TestArming_EarlyReleaseReturnsToDisarmed(t *testing.T) {
	h := newHarness(t)
	h.run(gesture, time.Second)
	h.expect(Arming)
	h.run(idle, 0)
	h.expect(Disarmed)

	// The debounce restarts on the next attempt.
	h.run(gesture, time.Second)
	h.expect(Arming)
}

func TestArming_DebounceIsConfigurable(t *testing.T) {
	h := newHarness(t)
	store := params.NewStore()
	h.m = New(store, h.pub)
	if err := store.Set("arming.debounce", params.Float(3)); err != nil {
		t.Fatal(err)
	}
	h.run(gesture, 2500*time.Millisecond)
	h.expect(Arming)
	h.run(gesture, 600*time.Millisecond)
	h.expect(ArmingWaitingForNoInput)
}

func TestDisarming(t *testing.T) {
	h := newHarness(t)
	h.arm()

	h.run(gesture, time.Second)
	h.expect(Disarming)
	h.run(moving, 0)
	h.expect(Flying)

	h.run(gesture, 2100*time.Millisecond)
	h.expect(DisarmingWaitingForNoInput)
	h.run(moving, time.Second)
	h.expect(DisarmingWaitingForNoInput)
	h.run(idle, 0)
	h.expect(Disarmed)
}

func TestInvalidSignalNeverArms(t *testing.T) {
	h := newHarness(t)
	h.run(gesture, 2100*time.Millisecond)
	h.expect(ArmingWaitingForNoInput)

	h.run(lost, 300*time.Millisecond)
	h.expect(ArmingWaitingForNoInput)

	h.run(lost, 300*time.Millisecond)
	h.expect(Disarmed)
}

func TestInvalidSignalReleasesGesture(t *testing.T) {
	h := newHarness(t)
	h.run(gesture, time.Second)
	h.run(Inputs{ArmGesture: true}, 0)
	h.expect(Disarmed)
}

func TestFailsafe(t *testing.T) {
	cases := []struct {
		name    string
		outage  time.Duration
		want    Status
		recover bool
	}{
		{"short_glitch", 300 * time.Millisecond, Flying, true},
		{"loss", 600 * time.Millisecond, Disarmed, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.arm()
			h.run(lost, tc.outage)
			h.expect(tc.want)
			if tc.recover {
				h.run(moving, 0)
				h.expect(Flying)
			}
		})
	}
}

func TestFailsafeFromDisarming(t *testing.T) {
	h := newHarness(t)
	h.arm()
	h.run(gesture, time.Second)
	h.expect(Disarming)
	h.run(lost, 0)
	h.expect(Flying)
	h.run(lost, 600*time.Millisecond)
	h.expect(Disarmed)
}

func TestStatusHelpers(t *testing.T) {
	cases := []struct {
		s            Status
		name         string
		armed, motor bool
	}{
		{Disarmed, "Disarmed", false, false},
		{Arming, "Arming", false, false},
		{ArmingWaitingForNoInput, "ArmingWaitingForNoInput", false, false},
		{Flying, "Flying", true, true},
		{Disarming, "Disarming", true, true},
		{DisarmingWaitingForNoInput, "DisarmingWaitingForNoInput", true, false},
		{Status(42), "Unknown", false, false},
	}
	for _, tc := range cases {
		if tc.s.String() != tc.name {
			t.Errorf("String(%d) = %q, want %q", int(tc.s), tc.s.String(), tc.name)
		}
		if tc.s.Armed() != tc.armed {
			t.Errorf("%v.Armed() = %v", tc.s, tc.s.Armed())
		}
		if tc.s.MotorsActive() != tc.motor {
			t.Errorf("%v.MotorsActive() = %v", tc.s, tc.s.MotorsActive())
		}
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(Disarmed, Arming) {
		t.Error("Disarmed -> Arming should be allowed")
	}
	if CanTransition(Disarmed, Flying) {
		t.Error("Disarmed -> Flying should not be allowed")
	}
	if CanTransition(Arming, Flying) {
		t.Error("Arming -> Flying should not be allowed")
	}
	if CanTransition(Status(-1), Disarmed) {
		t.Error("unknown status should have no edges")
	}
}
