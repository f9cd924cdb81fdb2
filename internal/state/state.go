// Package state holds the model slot of one engine instance.
package state

import (
	"sync/atomic"

	"github.com/woxQAQ/wasmllm/internal/engine"
)

// Status reports whether a model is loaded.
type Status uint32

const (
	Unloaded Status = iota
	Loaded
)

func (s Status) String() string {
	if s == Loaded {
		return "loaded"
	}
	return "unloaded"
}

// State is a single-model slot. A model becomes visible only after it is
// fully compiled, so a failed load never disturbs the current one.
type State struct {
	current atomic.Pointer[engine.Model]
}

// Status returns Loaded when a model is present.
func (s *State) Status() Status {
	if s.current.Load() == nil {
		return Unloaded
	}
	return Loaded
}

// Current returns the loaded model.
func (s *State) Current() (*engine.Model, bool) {
	m := s.current.Load()
	return m, m != nil
}

// Set replaces the loaded model. A nil model is ignored; use Clear to unload.
func (s *State) Set(m *engine.Model) {
	if m == nil {
		return
	}
	s.current.Store(m)
}

// Clear drops the loaded model.
func (s *State) Clear() {
	s.current.Store(nil)
}
