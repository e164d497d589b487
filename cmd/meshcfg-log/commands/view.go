// Package commands implements the meshcfg-log CLI commands.
package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Node      *uint16
}

func (f ViewFilter) filter() log.Filter {
	return log.Filter{
		Layer:       f.Layer,
		Direction:   f.Direction,
		Category:    f.Category,
		NodeAddress: f.Node,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [session] node DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")

	var typeLabel string
	switch {
	case event.Message != nil:
		typeLabel = event.Message.Opcode.String()
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Retry != nil:
		typeLabel = "Retry"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	dir := "-"
	if event.Category == log.CategoryMessage {
		dir = event.Direction.String()
	}

	fmt.Fprintf(w, "%s [%s] %s %-3s %s %s\n",
		ts, shortenSessionID(event.SessionID), formatAddress(event.NodeAddress), dir, event.Layer.String(), typeLabel)

	switch {
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Retry != nil:
		formatRetryDetails(w, event.Retry)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

// shortenSessionID returns the first 8 characters of the session ID.
func shortenSessionID(id string) string {
	if id == "" {
		return "--------"
	}
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatAddress(addr uint16) string {
	if addr == wire.AddressUnassigned {
		return "------"
	}
	return fmt.Sprintf("0x%04X", addr)
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	if msg.Step != "" {
		fmt.Fprintf(w, "  Step: %s\n", msg.Step)
	}
	if msg.Status != nil {
		fmt.Fprintf(w, "  Status: %s (%d)\n", msg.Status.String(), *msg.Status)
	}
	if len(msg.Params) > 0 {
		fmt.Fprintf(w, "  Params: %s\n", hex.EncodeToString(msg.Params))
		if m, err := wire.Decode(msg.Opcode, msg.Params); err == nil {
			fmt.Fprintf(w, "  Decoded: %+v\n", m)
		}
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatRetryDetails(w io.Writer, r *log.RetryEvent) {
	fmt.Fprintf(w, "  Kind: %s\n", r.Kind.String())
	if r.Step != "" {
		fmt.Fprintf(w, "  Step: %s\n", r.Step)
	}
	fmt.Fprintf(w, "  Remaining: %d\n", r.Remaining)
	if r.Delay > 0 {
		fmt.Fprintf(w, "  Delay: %s\n", r.Delay)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %s (%d)\n", wire.Status(*err.Code).String(), *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "access":
		return log.LayerAccess, nil
	case "setup":
		return log.LayerSetup, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, access, or setup)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "retry":
		return log.CategoryRetry, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, state, retry, or error)", s)
	}
}

// ParseNodeFlag parses a unicast node address such as "0x0100" or "256".
func ParseNodeFlag(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || !wire.IsUnicast(uint16(v)) {
		return 0, fmt.Errorf("invalid node address: %s", s)
	}
	return uint16(v), nil
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.filter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}
