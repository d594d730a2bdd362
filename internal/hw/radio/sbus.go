package radio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/params"
)

// SBUS frame layout: header, 22 bytes of 16 packed 11-bit channels, a
// flag byte and a footer.
const (
	frameLen    = 25
	frameHeader = 0x0F
	frameFooter = 0x00
	numChannels = 16

	flagFrameLost = 0x04
	flagFailsafe  = 0x08
)

// Channel range reported by common receivers.
const (
	channelMin = 172
	channelMax = 1811
)

// AETR channel order.
const (
	chRoll = iota
	chPitch
	chThrottle
	chYaw
)

const (
	gestureThrottle = 0.05
	gestureYaw      = 0.9
)

// SBUS decodes an SBUS byte stream. Feed and CommandsAt may be called
// from different goroutines.
type SBUS struct {
	mu        sync.Mutex
	buf       [frameLen]byte
	n         int
	channels  [numChannels]uint16
	flags     byte
	received  time.Time
	haveFrame bool
	frames    uint64
	dropped   uint64

	maxAngle *params.Param
	deadband *params.Param
	stale    *params.Param
}

// NewSBUS registers the stick parameters in store.
func NewSBUS(store *params.Store) *SBUS {
	return &SBUS{
		maxAngle: store.Register("rc.max_angle", "Pitch/roll angle at full stick deflection (rad)", params.Float(0.5236)),
		deadband: store.Register("rc.deadband", "Normalised stick deflection treated as centred", params.Float(0.05)),
		stale:    store.Register("rc.stale", "Seconds after the last frame before the signal is invalid", params.Float(0.1)),
	}
}

// Run feeds bytes from r until ctx is cancelled or r fails. Closing r is
// the way to unblock a pending read.
func (s *SBUS) Run(ctx context.Context, r io.Reader) error {
	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			s.Feed(buf[:n], time.Now())
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("sbus read: %w", err)
		}
	}
}

// Feed consumes raw bytes received at now. Bytes before a header are
// skipped; a frame with a bad footer is dropped and decoding resumes at
// the next header inside it.
func (s *SBUS) Feed(data []byte, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range data {
		if s.n == 0 && b != frameHeader {
			continue
		}
		s.buf[s.n] = b
		s.n++
		if s.n < frameLen {
			continue
		}
		if s.buf[frameLen-1] == frameFooter {
			s.channels, s.flags = decodeFrame(s.buf[:])
			s.received = now
			s.haveFrame = true
			s.frames++
			if s.flags&flagFrameLost != 0 {
				debug.Trace("sbus: receiver reports lost frame")
			}
			s.n = 0
			continue
		}
		s.dropped++
		s.resync()
	}
}

// resync drops the first byte of a full buffer and shifts it so that it
// starts at the next header, if there is one.
func (s *SBUS) resync() {
	for i := 1; i < frameLen; i++ {
		if s.buf[i] == frameHeader {
			s.n = copy(s.buf[:], s.buf[i:frameLen])
			return
		}
	}
	s.n = 0
}

func decodeFrame(frame []byte) (ch [numChannels]uint16, flags byte) {
	var bits uint32
	var nbits, idx int
	for _, b := range frame[1:23] {
		bits |= uint32(b) << nbits
		nbits += 8
		for nbits >= 11 && idx < numChannels {
			ch[idx] = uint16(bits & 0x7FF)
			bits >>= 11
			nbits -= 11
			idx++
		}
	}
	return ch, frame[23]
}

// Channels returns the raw channel values of the last good frame.
func (s *SBUS) Channels() [numChannels]uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels
}

// Stats returns the number of decoded and dropped frames.
func (s *SBUS) Stats() (frames, dropped uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.dropped
}

// CommandsAt converts the last frame into commands. The signal is valid
// when a frame without the failsafe bit arrived within rc.stale of now.
func (s *SBUS) CommandsAt(now time.Time) Commands {
	s.mu.Lock()
	ch, flags, received, have := s.channels, s.flags, s.received, s.haveFrame
	s.mu.Unlock()

	stale := time.Duration(s.stale.Float() * float64(time.Second))
	if !have || flags&flagFailsafe != 0 || now.Sub(received) > stale {
		return Commands{NoInput: true}
	}

	roll := normalize(ch[chRoll])
	pitch := normalize(ch[chPitch])
	yaw := normalize(ch[chYaw])
	throttle := normalizeThrottle(ch[chThrottle])

	dead := s.deadband.Float()
	low := throttle < gestureThrottle
	maxAngle := s.maxAngle.Float()
	return Commands{
		Pitch:      pitch * maxAngle,
		Roll:       roll * maxAngle,
		Yaw:        yaw,
		Throttle:   throttle,
		ArmGesture: low && yaw > gestureYaw,
		NoInput:    low && math.Abs(pitch) < dead && math.Abs(roll) < dead && math.Abs(yaw) < dead,
		Valid:      true,
	}
}

// normalize maps a channel to [-1, 1].
func normalize(v uint16) float64 {
	n := 2*float64(int(v)-channelMin)/float64(channelMax-channelMin) - 1
	return math.Max(-1, math.Min(1, n))
}

// normalizeThrottle maps a channel to [0, 1].
func normalizeThrottle(v uint16) float64 {
	n := float64(int(v)-channelMin) / float64(channelMax-channelMin)
	return math.Max(0, math.Min(1, n))
}
