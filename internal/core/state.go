package core

import (
	"sync"

	"ledstrip-controller/internal/protocol"
)

// State holds the host's view of the controller.
type State struct {
	mu             sync.RWMutex
	IsConnected    bool
	DeviceName     string
	RunningPattern string
	Frames         int
	Messages       int
	Errors         int
	LastAck        protocol.Response
	LastError      string
}

// NewState creates a new State instance.
func NewState() *State {
	return &State{}
}

// Clone returns a snapshot of the current state for safe reading.
func (s *State) Clone() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		IsConnected:    s.IsConnected,
		DeviceName:     s.DeviceName,
		RunningPattern: s.RunningPattern,
		Frames:         s.Frames,
		Messages:       s.Messages,
		Errors:         s.Errors,
		LastAck:        s.LastAck,
		LastError:      s.LastError,
	}
}

// SetConnection updates connection state.
func (s *State) SetConnection(connected bool, device string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsConnected = connected
	if device != "" {
		s.DeviceName = device
	}
}

// RecordAck counts one sent message and its outcome.
func (s *State) RecordAck(ack protocol.Response, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages++
	s.LastAck = ack
	if err != nil {
		s.Errors++
		s.LastError = err.Error()
	}
}

// RecordFrame counts one shown frame and returns its sequence number.
func (s *State) RecordFrame() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames++
	return s.Frames
}

// SetRunningPattern updates the running pattern state.
func (s *State) SetRunningPattern(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RunningPattern = pattern
}
