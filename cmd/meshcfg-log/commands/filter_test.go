package commands

import (
	"path/filepath"
	"testing"

	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer reader.Close()

	events, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return events
}

func TestFilterBySession(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "filtered.mlog")

	n, err := RunFilter(path, FilterOptions{Output: out, SessionID: "bbbbbbbb-2222"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 3 {
		t.Errorf("wrote %d events, want 3", n)
	}
	for _, e := range readAll(t, out) {
		if e.SessionID != "bbbbbbbb-2222" {
			t.Errorf("unexpected session %s", e.SessionID)
		}
	}
}

func TestFilterByOpcode(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())

	for _, spec := range []string{"model_app_status", "MODEL-APP-STATUS", "0x803E"} {
		out := filepath.Join(t.TempDir(), "filtered.mlog")
		n, err := RunFilter(path, FilterOptions{Output: out, Opcode: spec})
		if err != nil {
			t.Fatalf("RunFilter(%s) failed: %v", spec, err)
		}
		if n != 1 {
			t.Errorf("%s: wrote %d events, want 1", spec, n)
		}
		events := readAll(t, out)
		if len(events) == 1 && events[0].Message.Opcode != wire.OpModelAppStatus {
			t.Errorf("%s: got opcode %s", spec, events[0].Message.Opcode)
		}
	}
}

func TestFilterByTimeRangeAndCategory(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "filtered.mlog")

	n, err := RunFilter(path, FilterOptions{
		Output:    out,
		TimeStart: "2026-03-02T09:00:00Z",
		TimeEnd:   "2026-03-02T09:00:01Z",
		Category:  "state",
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if n != 2 {
		t.Errorf("wrote %d events, want 2", n)
	}
}

func TestFilterRejectsBadOptions(t *testing.T) {
	path := createTestLogFile(t, sessionEvents())
	out := filepath.Join(t.TempDir(), "filtered.mlog")

	for name, opts := range map[string]FilterOptions{
		"node":      {Output: out, Node: "0xFFFF"},
		"opcode":    {Output: out, Opcode: "NOT_AN_OPCODE"},
		"time":      {Output: out, TimeStart: "yesterday"},
		"layer":     {Output: out, Layer: "wire"},
		"direction": {Output: out, Direction: "sideways"},
	} {
		if _, err := RunFilter(path, opts); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
