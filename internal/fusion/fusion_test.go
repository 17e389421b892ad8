package fusion

import (
	"testing"
	"time"

	"proctor/pkg/types"
)

func TestFuse(t *testing.T) {
	tests := []struct {
		name      string
		set       func(*types.SignalSet)
		threshold int
		cheating  bool
		count     int
	}{
		{"no flags", func(s *types.SignalSet) {}, 2, false, 0},
		{"one flag", func(s *types.SignalSet) { s.Sound = true }, 2, false, 1},
		{"two flags", func(s *types.SignalSet) { s.Sound = true; s.Phone = true }, 2, true, 2},
		{"no face alone", func(s *types.SignalSet) { s.NoFace = true }, 2, false, 1},
		{"raised threshold", func(s *types.SignalSet) { s.Sound = true; s.Phone = true }, 3, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s types.SignalSet
			tt.set(&s)
			v := Fuse(s, tt.threshold)
			if v.Cheating != tt.cheating || v.Count != tt.count {
				t.Errorf("Fuse = %+v, want cheating=%v count=%d", v, tt.cheating, tt.count)
			}
		})
	}
}

func TestFuse_FlagsSorted(t *testing.T) {
	s := types.SignalSet{Sound: true, Book: true, EyeMovement: true}
	v := Fuse(s, DefaultVoteThreshold)
	want := []types.Flag{types.FlagBook, types.FlagEyeMovement, types.FlagSound}
	if len(v.Flags) != len(want) {
		t.Fatalf("flags = %v", v.Flags)
	}
	for i := range want {
		if v.Flags[i] != want[i] {
			t.Errorf("flags = %v, want %v", v.Flags, want)
		}
	}
}

func TestSmoother_StrictMajority(t *testing.T) {
	s := NewSmoother(10 * time.Second)

	if !s.Observe(0, true) {
		t.Error("1 of 1 is a majority")
	}
	if s.Observe(time.Second, false) {
		t.Error("1 of 2 is not a strict majority")
	}
	if !s.Observe(2*time.Second, true) {
		t.Error("2 of 3 is a majority")
	}
}

func TestSmoother_WindowEviction(t *testing.T) {
	s := NewSmoother(10 * time.Second)

	for i := 0; i < 5; i++ {
		s.Observe(time.Duration(i)*time.Second, true)
	}
	// At t=15s the entries at 0..4s are more than 10s old.
	if s.Observe(15*time.Second, false) {
		t.Error("stale cheating entries must not count")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}

	// Exactly window-old entries are kept.
	s.Reset()
	s.Observe(0, true)
	s.Observe(10*time.Second, true)
	if s.Len() != 2 {
		t.Errorf("boundary entry evicted: Len = %d", s.Len())
	}
}

func TestSmoother_SingleFrameSpikeIsSuppressed(t *testing.T) {
	s := NewSmoother(10 * time.Second)
	for i := 0; i < 20; i++ {
		s.Observe(time.Duration(i)*100*time.Millisecond, false)
	}
	if s.Observe(2*time.Second, true) {
		t.Error("one cheating frame among many clean ones should not flip the majority")
	}
}
