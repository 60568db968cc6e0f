package logging

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRingWrapsOldestFirst(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		adds     int
		want     []string
	}{
		{name: "empty", capacity: 3, want: []string{}},
		{name: "partial", capacity: 3, adds: 2, want: []string{"m0", "m1"}},
		{name: "exactly full", capacity: 3, adds: 3, want: []string{"m0", "m1", "m2"}},
		{name: "wrapped", capacity: 3, adds: 5, want: []string{"m2", "m3", "m4"}},
		{name: "zero capacity clamps to one", capacity: 0, adds: 2, want: []string{"m1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRing(tt.capacity)
			for i := range tt.adds {
				r.Add(Entry{Message: fmt.Sprintf("m%d", i)})
			}
			got := r.Snapshot()
			if len(got) != len(tt.want) || r.Len() != len(tt.want) {
				t.Fatalf("len = %d (Len %d), want %d", len(got), r.Len(), len(tt.want))
			}
			for i, e := range got {
				if e.Message != tt.want[i] {
					t.Fatalf("Snapshot()[%d] = %q, want %q", i, e.Message, tt.want[i])
				}
			}
		})
	}
}

func TestRingSnapshotIsIndependent(t *testing.T) {
	r := NewRing(2)
	r.Add(Entry{Message: "a"})
	snap := r.Snapshot()
	snap[0].Message = "mutated"
	if r.Snapshot()[0].Message != "a" {
		t.Fatal("Snapshot shares storage with the ring")
	}
}

func TestRingLines(t *testing.T) {
	r := NewRing(10)
	at := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	r.Add(Entry{Time: at, Level: slog.LevelWarn, Message: "first"})
	r.Add(Entry{Time: at, Level: slog.LevelError, Message: "second", Source: "ipc"})

	all := r.Lines(0)
	if len(all) != 2 {
		t.Fatalf("Lines(0) = %v", all)
	}
	if all[0] != "15:04:05 WARN first" {
		t.Fatalf("Lines(0)[0] = %q", all[0])
	}
	if all[1] != "15:04:05 ERROR [ipc] second" {
		t.Fatalf("Lines(0)[1] = %q", all[1])
	}
	last := r.Lines(1)
	if len(last) != 1 || !strings.HasSuffix(last[0], "second") {
		t.Fatalf("Lines(1) = %v", last)
	}
}
