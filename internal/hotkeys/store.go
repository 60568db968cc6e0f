package hotkeys

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"overai/internal/config"
)

const (
	storeFileName           = "hotkey.json"
	maxStoreFileBytes int64 = 4 * 1024
)

// record is the on-disk shape: the raw modifier flags and the key code.
type record struct {
	Flags   uint64 `json:"flags"`
	KeyCode int    `json:"keycode"`
}

// Store persists the user's trigger combination.
type Store struct {
	path string
}

// NewStore returns a store backed by hotkey.json inside dir.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, storeFileName)}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load returns the persisted combination, or DefaultCombination when the file
// is missing or unusable. It never fails; a corrupt record is logged and will
// be replaced by the next Save.
func (s *Store) Load() Combination {
	raw, err := config.ReadLimitedFile(s.path, maxStoreFileBytes)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("[WARN-CONFIG] failed to read hotkey record, using default", "path", s.path, "error", err)
		}
		return DefaultCombination()
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		slog.Warn("[WARN-CONFIG] hotkey record is corrupt, using default", "path", s.path, "error", err)
		return DefaultCombination()
	}
	if rec.KeyCode < 0 || rec.KeyCode > int(maxKeyCode) {
		slog.Warn("[WARN-CONFIG] hotkey record has out-of-range key code, using default", "keycode", rec.KeyCode)
		return DefaultCombination()
	}
	// The OS reports device-dependent bits alongside the modifier flags.
	c := Combination{Modifiers: Modifier(rec.Flags) & allModifiers, KeyCode: KeyCode(rec.KeyCode)}
	if !c.Valid() {
		slog.Warn("[WARN-CONFIG] hotkey record has no modifiers, using default", "flags", rec.Flags)
		return DefaultCombination()
	}
	return c
}

// Save writes c atomically.
func (s *Store) Save(c Combination) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidCombination, c)
	}
	raw, err := json.Marshal(record{Flags: uint64(c.Modifiers), KeyCode: int(c.KeyCode)})
	if err != nil {
		return fmt.Errorf("save hotkey: marshal: %w", err)
	}
	if err := config.WriteFileAtomic(s.path, raw); err != nil {
		return fmt.Errorf("save hotkey: %w", err)
	}
	slog.Debug("[DEBUG-hotkey] combination saved", "combo", c.String(), "path", s.path)
	return nil
}
