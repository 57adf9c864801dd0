package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// GuardAction checks both the module switch and the "module.action" switch.
func GuardAction(p PauseView, module, action string) error {
	if err := Guard(p, module); err != nil {
		return err
	}
	if action == "" {
		return nil
	}
	return Guard(p, module+"."+action)
}

// PauseSet is a mutable PauseView keyed by module or "module.action" names.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSet returns a set with the supplied names paused.
func NewPauseSet(names ...string) *PauseSet {
	s := &PauseSet{paused: make(map[string]bool)}
	for _, name := range names {
		s.Set(name, true)
	}
	return s
}

func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[normalize(module)]
}

// Set pauses or resumes name.
func (s *PauseSet) Set(name string, paused bool) {
	if s == nil {
		return
	}
	key := normalize(name)
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[key] = true
		return
	}
	delete(s.paused, key)
}

// List returns the paused names in lexical order.
func (s *PauseSet) List() []string {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paused))
	for name := range s.paused {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
