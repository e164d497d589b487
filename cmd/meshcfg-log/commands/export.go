package commands

import (
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/citymesh/meshcfg-go/pkg/log"
)

// RunExport exports the log file to the specified format.
func RunExport(path, format, output string) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(reader, w)
	case "csv":
		return exportCSV(reader, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(reader *log.Reader, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

func exportCSV(reader *log.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "session_id", "node", "direction", "layer", "category", "type", "step", "status", "params"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		var eventType, step, status, params string
		switch {
		case event.Message != nil:
			eventType = event.Message.Opcode.String()
			step = event.Message.Step
			if event.Message.Status != nil {
				status = event.Message.Status.String()
			}
			params = hex.EncodeToString(event.Message.Params)
		case event.StateChange != nil:
			eventType = "state"
			status = event.StateChange.NewState
		case event.Retry != nil:
			eventType = "retry"
			step = event.Retry.Step
			status = event.Retry.Kind.String() + " remaining=" + strconv.Itoa(event.Retry.Remaining)
		case event.Error != nil:
			eventType = "error"
			step = event.Error.Context
			status = event.Error.Message
		default:
			eventType = "unknown"
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.SessionID,
			formatAddress(event.NodeAddress),
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			eventType,
			step,
			status,
			params,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}
