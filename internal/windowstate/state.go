// Package windowstate persists the overlay's opacity, size and last service.
package windowstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"overai/internal/config"
	"overai/internal/services"
)

const (
	DefaultOpacity = 0.9
	MinOpacity     = 0.2
	MaxOpacity     = 1.0
	DefaultWidth   = 550
	DefaultHeight  = 580

	stateFileName           = "window.json"
	maxStateFileBytes int64 = 16 * 1024
)

// State is the persisted window record.
type State struct {
	Opacity     float64 `json:"opacity"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	LastService string  `json:"last_service"`
}

// Default returns the first-run window state.
func Default() State {
	return State{
		Opacity:     DefaultOpacity,
		Width:       DefaultWidth,
		Height:      DefaultHeight,
		LastService: services.DefaultID,
	}
}

// ClampOpacity rounds to two decimals and clamps into [MinOpacity, MaxOpacity].
// NaN maps to the default.
func ClampOpacity(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultOpacity
	}
	v = math.Round(v*100) / 100
	return min(max(v, MinOpacity), MaxOpacity)
}

// normalize repairs out-of-range fields in place and reports whether any
// field changed.
func (s *State) normalize() bool {
	repaired := false
	if c := ClampOpacity(s.Opacity); c != s.Opacity {
		s.Opacity = c
		repaired = true
	}
	if s.Width <= 0 || s.Height <= 0 {
		s.Width, s.Height = DefaultWidth, DefaultHeight
		repaired = true
	}
	if trimmed := strings.TrimSpace(s.LastService); trimmed == "" {
		s.LastService = services.DefaultID
		repaired = true
	} else {
		s.LastService = trimmed
	}
	return repaired
}

// Store reads and writes window.json. Writes are serialized; the Controller
// is the only writer of opacity and service, the app shell of size.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by window.json inside dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, stateFileName)}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns the persisted state. Missing or corrupt records yield Default;
// out-of-range fields are repaired individually.
func (s *Store) Load() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() State {
	raw, err := config.ReadLimitedFile(s.path, maxStateFileBytes)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("[WARN-CONFIG] failed to read window state, using defaults", "path", s.path, "error", err)
		}
		return Default()
	}
	// Start from defaults so absent keys keep their default values.
	st := Default()
	if err := json.Unmarshal(raw, &st); err != nil {
		slog.Warn("[WARN-CONFIG] window state is corrupt, using defaults", "path", s.path, "error", err)
		return Default()
	}
	if st.normalize() {
		slog.Debug("[DEBUG-window] repaired out-of-range window state", "state", st)
	}
	return st
}

// Save normalizes st and writes it atomically.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(st)
}

func (s *Store) saveLocked(st State) error {
	st.normalize()
	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("save window state: marshal: %w", err)
	}
	if err := config.WriteFileAtomic(s.path, raw); err != nil {
		return fmt.Errorf("save window state: %w", err)
	}
	return nil
}

// Update applies fn to the current record and saves the result as one step.
func (s *Store) Update(fn func(*State)) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.loadLocked()
	fn(&st)
	st.normalize()
	if err := s.saveLocked(st); err != nil {
		return st, err
	}
	return st, nil
}
