package imu

import (
	"errors"
	"math"
	"testing"

	"github.com/flybot/flybot/internal/logic/geometry"
)

func TestStationary_ReadSample(t *testing.T) {
	s := NewStationary(geometry.Vector3{X: 0.1, Z: 0.99}, geometry.Vector3{Y: 0.02})
	got, err := s.ReadSample()
	if err != nil {
		t.Fatalf("ReadSample: %v", err)
	}
	if got.Accel.X != 0.1 || got.Accel.Z != 0.99 || got.Gyro.Y != 0.02 {
		t.Errorf("sample = %+v", got)
	}
}

func TestStationary_Failing(t *testing.T) {
	s := NewStationary(geometry.Vector3{Z: 1}, geometry.Vector3{})
	s.SetFailing(true)
	if _, err := s.ReadSample(); !errors.Is(err, ErrBus) {
		t.Errorf("err = %v, want ErrBus", err)
	}
	s.SetFailing(false)
	if _, err := s.ReadSample(); err != nil {
		t.Errorf("err = %v after recovery", err)
	}
}

func TestOpen(t *testing.T) {
	for _, typ := range []string{"", "stationary"} {
		s, err := Open(Config{Type: typ})
		if err != nil {
			t.Fatalf("Open(%q): %v", typ, err)
		}
		sample, err := s.ReadSample()
		if err != nil || sample.Accel.Z != 1 {
			t.Errorf("Open(%q) sample = %+v, %v", typ, sample, err)
		}
	}
	if _, err := Open(Config{Type: "lsm6ds3"}); err == nil {
		t.Error("unknown type should fail")
	}
}

func TestScaleConversion(t *testing.T) {
	cases := []struct {
		name string
		got  float64
		want float64
	}{
		{"one_g", accelToG(16384), 1},
		{"minus_half_g", accelToG(-8192), -0.5},
		{"zero", accelToG(0), 0},
		{"131_is_one_deg_s", gyroToRadS(131), math.Pi / 180},
		{"negative_rate", gyroToRadS(-1310), -10 * math.Pi / 180},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if math.Abs(tc.got-tc.want) > 1e-12 {
				t.Errorf("got %v, want %v", tc.got, tc.want)
			}
		})
	}
}
