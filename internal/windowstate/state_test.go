package windowstate

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"overai/internal/testutil"
)

func writeRecord(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, stateFileName), []byte(content), 0o600); err != nil {
		t.Fatalf("write record: %v", err)
	}
}

func TestLoadMissingReturnsDefault(t *testing.T) {
	got := NewStore(t.TempDir()).Load()
	if got != Default() {
		t.Fatalf("Load() = %+v, want %+v", got, Default())
	}
	if got.Opacity != 0.9 || got.Width != 550 || got.Height != 580 || got.LastService != "grok" {
		t.Fatalf("Default() = %+v", got)
	}
}

func TestLoadCorruptReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, `{"opacity": "high"`)
	logBuf := testutil.CaptureLogBuffer(t, 0)

	if got := NewStore(dir).Load(); got != Default() {
		t.Fatalf("Load() = %+v, want default", got)
	}
	if !strings.Contains(logBuf.String(), "window state is corrupt") {
		t.Fatalf("log = %q, want corrupt warning", logBuf.String())
	}
}

func TestLoadRepairsFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    State
	}{
		{
			name:    "opacity above max",
			content: `{"opacity": 3, "width": 600, "height": 700, "last_service": "claude"}`,
			want:    State{Opacity: 1.0, Width: 600, Height: 700, LastService: "claude"},
		},
		{
			name:    "opacity below min",
			content: `{"opacity": 0.01, "width": 600, "height": 700, "last_service": "claude"}`,
			want:    State{Opacity: 0.2, Width: 600, Height: 700, LastService: "claude"},
		},
		{
			name:    "non-positive size",
			content: `{"opacity": 0.5, "width": 0, "height": -10, "last_service": "gemini"}`,
			want:    State{Opacity: 0.5, Width: 550, Height: 580, LastService: "gemini"},
		},
		{
			name:    "partial record",
			content: `{"last_service": "deepseek"}`,
			want:    State{Opacity: 0.9, Width: 550, Height: 580, LastService: "deepseek"},
		},
		{
			name:    "blank service",
			content: `{"opacity": 0.7, "width": 400, "height": 500, "last_service": "  "}`,
			want:    State{Opacity: 0.7, Width: 400, Height: 500, LastService: "grok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeRecord(t, dir, tt.content)
			if got := NewStore(dir).Load(); got != tt.want {
				t.Fatalf("Load() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "OverAI"))
	want := State{Opacity: 0.6, Width: 800, Height: 900, LastService: "local_ai"}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := s.Load(); got != want {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
	raw, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `"last_service": "local_ai"`) {
		t.Fatalf("record = %s, want snake_case keys", raw)
	}
}

func TestUpdateIsSerialized(t *testing.T) {
	s := NewStore(t.TempDir())
	var wg sync.WaitGroup
	for range 20 {
		wg.Go(func() {
			if _, err := s.Update(func(st *State) { st.Width++ }); err != nil {
				t.Errorf("Update() error = %v", err)
			}
		})
	}
	wg.Wait()
	if got := s.Load().Width; got != DefaultWidth+20 {
		t.Fatalf("Width = %d, want %d (lost updates)", got, DefaultWidth+20)
	}
}

func TestClampOpacity(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{in: 0.9, want: 0.9},
		{in: 1.05, want: 1.0},
		{in: 0.1, want: 0.2},
		{in: 0.30000000000000004, want: 0.3},
		{in: math.NaN(), want: DefaultOpacity},
		{in: math.Inf(1), want: 1.0},
	}
	for _, tt := range tests {
		if got := ClampOpacity(tt.in); got != tt.want {
			t.Errorf("ClampOpacity(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
