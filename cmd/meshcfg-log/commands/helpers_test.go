package commands

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mlog")

	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

// sessionEvents returns a short successful session at 0x0010 followed by
// a failed one at 0x0012.
func sessionEvents() []log.Event {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	success := wire.StatusSuccess
	cannotBind := wire.StatusCannotBind
	code := int(cannotBind)

	return []log.Event{
		{Timestamp: base, SessionID: "aaaaaaaa-1111", NodeAddress: 0x0010, Layer: log.LayerSetup, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntitySession, OldState: "IDLE", NewState: "ACTIVE"}},
		{Timestamp: base.Add(time.Millisecond), SessionID: "aaaaaaaa-1111", NodeAddress: 0x0010, Direction: log.DirectionOut, Layer: log.LayerAccess, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Opcode: wire.OpCompositionDataGet, Step: "GET_COMPOSITION", Params: []byte{0x00}}},
		{Timestamp: base.Add(2 * time.Millisecond), SessionID: "aaaaaaaa-1111", NodeAddress: 0x0010, Layer: log.LayerSetup, Category: log.CategoryRetry,
			Retry: &log.RetryEvent{Kind: log.RetryTimeout, Remaining: 1, Step: "GET_COMPOSITION"}},
		{Timestamp: base.Add(3 * time.Millisecond), SessionID: "aaaaaaaa-1111", NodeAddress: 0x0010, Direction: log.DirectionIn, Layer: log.LayerAccess, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Opcode: wire.OpAppKeyStatus, Status: &success, Step: "ADD_APPKEY", Params: []byte{0x00, 0x00, 0x00, 0x00}}},
		{Timestamp: base.Add(4 * time.Millisecond), SessionID: "aaaaaaaa-1111", NodeAddress: 0x0010, Layer: log.LayerSetup, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntitySession, OldState: "ACTIVE", NewState: "DONE"}},

		{Timestamp: base.Add(time.Second), SessionID: "bbbbbbbb-2222", NodeAddress: 0x0012, Direction: log.DirectionIn, Layer: log.LayerAccess, Category: log.CategoryMessage,
			Message: &log.MessageEvent{Opcode: wire.OpModelAppStatus, Status: &cannotBind, Step: "BIND_HEALTH_MODEL"}},
		{Timestamp: base.Add(time.Second + time.Millisecond), SessionID: "bbbbbbbb-2222", NodeAddress: 0x0012, Layer: log.LayerSetup, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerSetup, Message: "configuration rejected", Code: &code, Context: "BIND_HEALTH_MODEL"}},
		{Timestamp: base.Add(time.Second + 2*time.Millisecond), SessionID: "bbbbbbbb-2222", NodeAddress: 0x0012, Layer: log.LayerSetup, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntitySession, OldState: "ACTIVE", NewState: "FAILED", Reason: "configuration rejected"}},
	}
}
