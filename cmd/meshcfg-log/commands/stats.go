package commands

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	EventsByOpcode    map[wire.Opcode]int
	RetriesByKind     map[log.RetryKind]int
	ParamBytes        uint64
	Sessions          map[string]*SessionStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single setup session.
type SessionStats struct {
	Node      uint16
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Messages  int
	Retries   int

	// Outcome is the last session state seen (DONE, FAILED, CANCELLED).
	Outcome string
	Reason  string
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		EventsByOpcode:    make(map[wire.Opcode]int),
		RetriesByKind:     make(map[log.RetryKind]int),
		Sessions:          make(map[string]*SessionStats),
	}

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}

	var sess *SessionStats
	if event.SessionID != "" {
		var ok bool
		sess, ok = s.Sessions[event.SessionID]
		if !ok {
			sess = &SessionStats{
				Node:      event.NodeAddress,
				FirstSeen: event.Timestamp,
				LastSeen:  event.Timestamp,
			}
			s.Sessions[event.SessionID] = sess
		}
		sess.Events++
		if event.Timestamp.After(sess.LastSeen) {
			sess.LastSeen = event.Timestamp
		}
	}

	switch {
	case event.Message != nil:
		s.EventsByDirection[event.Direction]++
		s.EventsByOpcode[event.Message.Opcode]++
		s.ParamBytes += uint64(len(event.Message.Params))
		if sess != nil {
			sess.Messages++
		}
	case event.Retry != nil:
		s.RetriesByKind[event.Retry.Kind]++
		if sess != nil {
			sess.Retries++
		}
	case event.StateChange != nil:
		if sess != nil && event.StateChange.Entity == log.StateEntitySession {
			sess.Outcome = event.StateChange.NewState
			sess.Reason = event.StateChange.Reason
		}
	case event.Error != nil:
		s.Errors++
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Mesh Configuration Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %s\n", humanize.Comma(int64(stats.TotalEvents)))
	fmt.Fprintf(w, "Parameters:   %s\n", humanize.Bytes(stats.ParamBytes))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerAccess, log.LayerSetup} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryRetry, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Messages by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.EventsByOpcode) > 0 {
		ops := make([]wire.Opcode, 0, len(stats.EventsByOpcode))
		for op := range stats.EventsByOpcode {
			ops = append(ops, op)
		}
		sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })

		fmt.Fprintln(w, "Messages by Opcode:")
		for _, op := range ops {
			fmt.Fprintf(w, "  %-27s %d\n", op.String()+":", stats.EventsByOpcode[op])
		}
		fmt.Fprintln(w)
	}

	if len(stats.RetriesByKind) > 0 {
		fmt.Fprintln(w, "Retries:")
		for _, kind := range []log.RetryKind{log.RetryBusy, log.RetryTimeout, log.RetryNode} {
			if count := stats.RetriesByKind[kind]; count > 0 {
				fmt.Fprintf(w, "  %-12s %d\n", kind.String()+":", count)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			outcome := s.stats.Outcome
			if outcome == "" {
				outcome = "INCOMPLETE"
			}
			fmt.Fprintf(w, "  [%s] node %s %s: %d messages, %d retries, took %s\n",
				shortenSessionID(s.id), formatAddress(s.stats.Node), outcome,
				s.stats.Messages, s.stats.Retries,
				humanize.RelTime(s.stats.FirstSeen, s.stats.LastSeen, "", ""))
			if s.stats.Reason != "" {
				fmt.Fprintf(w, "           Reason: %s\n", s.stats.Reason)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
