package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// FilterOptions specifies filtering criteria for the filter command.
type FilterOptions struct {
	Output    string
	SessionID string
	Node      string
	Opcode    string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

var knownOpcodes = []wire.Opcode{
	wire.OpAppKeyAdd,
	wire.OpCompositionDataStatus,
	wire.OpModelPublicationSet,
	wire.OpAppKeyStatus,
	wire.OpCompositionDataGet,
	wire.OpModelPublicationStatus,
	wire.OpModelSubscriptionAdd,
	wire.OpModelSubscriptionStatus,
	wire.OpModelAppBind,
	wire.OpModelAppStatus,
}

// parseOpcode accepts an opcode name such as "MODEL_APP_BIND" or a number.
func parseOpcode(s string) (wire.Opcode, error) {
	name := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	for _, op := range knownOpcodes {
		if op.String() == name {
			return op, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid opcode: %s", s)
	}
	return wire.Opcode(v), nil
}

// buildFilter turns the textual options into a log.Filter.
func buildFilter(opts FilterOptions) (log.Filter, error) {
	filter := log.Filter{SessionID: opts.SessionID}

	if opts.Node != "" {
		addr, err := ParseNodeFlag(opts.Node)
		if err != nil {
			return filter, err
		}
		filter.NodeAddress = &addr
	}

	if opts.Opcode != "" {
		op, err := parseOpcode(opts.Opcode)
		if err != nil {
			return filter, err
		}
		v := uint16(op)
		filter.Opcode = &v
	}

	if opts.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeStart)
		if err != nil {
			return filter, fmt.Errorf("invalid time-start format: %w", err)
		}
		filter.TimeStart = &t
	}

	if opts.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, opts.TimeEnd)
		if err != nil {
			return filter, fmt.Errorf("invalid time-end format: %w", err)
		}
		filter.TimeEnd = &t
	}

	if opts.Layer != "" {
		l, err := parseLayer(opts.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}

	if opts.Direction != "" {
		d, err := parseDirection(opts.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}

	if opts.Category != "" {
		c, err := parseCategory(opts.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}

	return filter, nil
}

// RunFilter filters the log file and writes matching events to a new file.
// It returns the number of events written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := buildFilter(opts)
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}
	defer logger.Close()

	count := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}

		logger.Log(event)
		count++
	}

	return count, nil
}
