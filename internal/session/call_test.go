package session

import (
	"errors"
	"testing"
)

func TestCallSessionLifecycle(t *testing.T) {
	s := NewCallSession()
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.State() != StateIdle {
		t.Fatalf("State() = %q, want %q", s.State(), StateIdle)
	}

	cfg := Config{InputCodec: "g711_ulaw", OutputCodec: "g711_ulaw", Voice: "alloy"}
	if err := s.Begin("CA1", "MZ1", cfg); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if s.CallID() != "CA1" || s.StreamID() != "MZ1" || s.State() != StateStarting {
		t.Fatalf("unexpected session after Begin: %+v", s.Snapshot())
	}
	if got := s.Config(); got.Voice != "alloy" {
		t.Fatalf("Config().Voice = %q, want %q", got.Voice, "alloy")
	}

	for _, to := range []State{StateActive, StateClosing, StateClosed} {
		if _, err := s.Transition(to); err != nil {
			t.Fatalf("Transition(%s) error = %v", to, err)
		}
	}
	if s.State() != StateClosed {
		t.Fatalf("State() = %q, want %q", s.State(), StateClosed)
	}
}

func TestCallSessionRejectsSecondBegin(t *testing.T) {
	s := NewCallSession()
	if err := s.Begin("CA1", "MZ1", Config{}); err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	err := s.Begin("CA2", "MZ2", Config{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Begin() error = %v, want ErrInvalidTransition", err)
	}
	if s.CallID() != "CA1" {
		t.Fatalf("CallID() = %q, want first call to be kept", s.CallID())
	}
}

func TestCallSessionTransitionTable(t *testing.T) {
	cases := []struct {
		from State
		to   State
		want bool
	}{
		{StateIdle, StateStarting, true},
		{StateIdle, StateClosing, true},
		{StateIdle, StateActive, false},
		{StateStarting, StateActive, true},
		{StateStarting, StateFailed, true},
		{StateActive, StateStarting, false},
		{StateActive, StateFailed, true},
		{StateClosing, StateClosed, true},
		{StateClosing, StateActive, false},
		{StateFailed, StateClosed, true},
		{StateFailed, StateClosing, false},
		{StateClosed, StateIdle, false},
		{StateClosed, StateClosing, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCallSessionFailRecordsReason(t *testing.T) {
	s := NewCallSession()
	_ = s.Begin("CA1", "MZ1", Config{})
	cause := errors.New("invalid_api_key")
	if _, err := s.Fail(cause); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("State() = %q, want %q", s.State(), StateFailed)
	}
	if got := s.Snapshot().Failure; got != "invalid_api_key" {
		t.Fatalf("Snapshot().Failure = %q, want %q", got, "invalid_api_key")
	}
	if _, err := s.Fail(cause); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fail() from failed error = %v, want ErrInvalidTransition", err)
	}
}

func TestStateStopping(t *testing.T) {
	for _, st := range []State{StateIdle, StateStarting, StateActive} {
		if st.Stopping() {
			t.Fatalf("%s.Stopping() = true, want false", st)
		}
	}
	for _, st := range []State{StateClosing, StateClosed, StateFailed} {
		if !st.Stopping() {
			t.Fatalf("%s.Stopping() = false, want true", st)
		}
	}
}
