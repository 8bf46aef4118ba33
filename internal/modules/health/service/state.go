package service

import (
	"sync/atomic"
	"time"
)

// State is the process health shared by the transport and the http server.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected atomic.Bool
	connects    atomic.Int64
}

func NewState() *State {
	return &State{startedAt: time.Now()}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) {
	if old := s.wsConnected.Swap(v); v && !old {
		s.connects.Add(1)
	}
}
func (s *State) WSConnected() bool { return s.wsConnected.Load() }

// Connects is how many times the candle transport came up.
func (s *State) Connects() int64 { return s.connects.Load() }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
