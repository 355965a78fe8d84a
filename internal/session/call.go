package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of one call.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateClosing  State = "closing"
	StateClosed   State = "closed"
	StateFailed   State = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrNotFound          = errors.New("session not found")
)

var transitions = map[State][]State{
	StateIdle:     {StateStarting, StateClosing},
	StateStarting: {StateActive, StateClosing, StateFailed},
	StateActive:   {StateClosing, StateFailed},
	StateClosing:  {StateClosed},
	StateFailed:   {StateClosed},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stopping reports whether audio must no longer be processed in this state.
func (s State) Stopping() bool {
	return s == StateClosing || s == StateClosed || s == StateFailed
}

// TurnDetection holds the backend voice-activity parameters.
type TurnDetection struct {
	Threshold       float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration
}

// Config is the per-call speech configuration. It is fixed once the call has begun.
type Config struct {
	InputCodec    string
	OutputCodec   string
	Voice         string
	Instructions  string
	TurnDetection TurnDetection
}

// CallSession is the lifetime of one phone call as seen by the gateway.
type CallSession struct {
	ID        string
	CreatedAt time.Time

	mu             sync.RWMutex
	callID         string
	streamID       string
	config         Config
	state          State
	lastActivityAt time.Time
	failure        error
}

func NewCallSession() *CallSession {
	now := time.Now().UTC()
	return &CallSession{
		ID:             uuid.NewString(),
		CreatedAt:      now,
		state:          StateIdle,
		lastActivityAt: now,
	}
}

// Begin records the telephony identifiers and configuration and moves the
// session from idle to starting.
func (s *CallSession) Begin(callID, streamID string, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, StateStarting) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, StateStarting)
	}
	s.callID = callID
	s.streamID = streamID
	s.config = cfg
	s.state = StateStarting
	s.lastActivityAt = time.Now().UTC()
	return nil
}

// Transition moves the session to the given state and returns the previous one.
func (s *CallSession) Transition(to State) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	if !CanTransition(from, to) {
		return from, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	return from, nil
}

// Fail moves the session to failed and records the cause.
func (s *CallSession) Fail(cause error) (State, error) {
	from, err := s.Transition(StateFailed)
	if err != nil {
		return from, err
	}
	s.mu.Lock()
	s.failure = cause
	s.mu.Unlock()
	return from, nil
}

func (s *CallSession) Touch() {
	s.mu.Lock()
	s.lastActivityAt = time.Now().UTC()
	s.mu.Unlock()
}

func (s *CallSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *CallSession) CallID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callID
}

func (s *CallSession) StreamID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamID
}

func (s *CallSession) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *CallSession) LastActivityAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivityAt
}

func (s *CallSession) FailureReason() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure
}

// Info is a point-in-time view of a call for status endpoints.
type Info struct {
	SessionID      string    `json:"session_id"`
	CallID         string    `json:"call_id"`
	StreamID       string    `json:"stream_id"`
	State          State     `json:"state"`
	Failure        string    `json:"failure,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func (s *CallSession) Snapshot() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		SessionID:      s.ID,
		CallID:         s.callID,
		StreamID:       s.streamID,
		State:          s.state,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.lastActivityAt,
	}
	if s.failure != nil {
		info.Failure = s.failure.Error()
	}
	return info
}
