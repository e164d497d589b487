// Package interactive provides the interactive command-line interface
// for the mesh provisioner.
package interactive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"

	"github.com/citymesh/meshcfg-go/pkg/meshsim"
	"github.com/citymesh/meshcfg-go/pkg/persistence"
	"github.com/citymesh/meshcfg-go/pkg/provisioner"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// commandTimeout bounds every call into the provisioner.
const commandTimeout = 5 * time.Second

// Simulation gives the console access to the simulated network without
// depending on the main package.
type Simulation interface {
	// Join adds a single element node hosting the given vendor models
	// ("0xCCCC:0xMMMM") and queues it for setup.
	Join(ctx context.Context, label string, vendorModels []string) (uint16, error)

	// BearerStats returns the simulated bearer counters.
	BearerStats() meshsim.Stats
}

// Console handles interactive mode for meshcfg-provisioner.
type Console struct {
	prov *provisioner.Provisioner
	sim  Simulation
	rl   *readline.Instance
}

// New creates a new interactive console.
func New(prov *provisioner.Provisioner, sim Simulation) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mesh> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}

	return &Console{
		prov: prov,
		sim:  sim,
		rl:   rl,
	}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "status":
			c.cmdStatus(ctx)

		case "nodes", "ls":
			c.cmdNodes(ctx)

		case "node":
			c.cmdNode(ctx, args)

		case "add":
			c.cmdAdd(ctx, args)

		case "reconfigure", "retry":
			c.cmdReconfigure(ctx, args)

		case "key":
			c.cmdKey(ctx)

		case "stats":
			c.cmdStats()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Mesh Provisioner Commands:
  status                        - Show provisioner status
  nodes                         - List nodes
  node <address>                - Show one node
  add <label> [cid:mid ...]     - Join a simulated node hosting vendor models
  reconfigure <address>         - Run setup again for a node
  key                           - Show the application key
  stats                         - Show bearer statistics
  help                          - Show this help
  quit                          - Exit`)
}

func (c *Console) cmdStatus(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	st, err := c.prov.Status(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	w := c.rl.Stdout()
	fmt.Fprintf(w, "State:        %s\n", st.State)
	if st.Active != wire.AddressUnassigned {
		fmt.Fprintf(w, "Active:       0x%04X (%s, session %s)\n", st.Active, st.Step, st.SessionID)
	} else {
		fmt.Fprintln(w, "Active:       none")
	}
	fmt.Fprintf(w, "Queue:        %s\n", formatAddresses(st.Queue))
	fmt.Fprintf(w, "Waiting:      %s\n", formatAddresses(st.Waiting))
	fmt.Fprintf(w, "Next address: 0x%04X\n", st.NextAddress)
	fmt.Fprintf(w, "Nodes:        %d provisioned, %d configured\n", st.Provisioned, st.Configured)
}

func (c *Console) cmdNodes(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	st, err := c.prov.Status(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	w := c.rl.Stdout()
	if len(st.Nodes) == 0 {
		fmt.Fprintln(w, "No nodes")
		return
	}
	fmt.Fprintf(w, "%-8s %-20s %-12s %-8s %s\n", "ADDRESS", "LABEL", "STATUS", "ATTEMPTS", "SINCE")
	for _, rec := range st.Nodes {
		since := rec.ProvisionedAt
		if rec.Status == persistence.NodeConfigured {
			since = rec.ConfiguredAt
		}
		fmt.Fprintf(w, "0x%04X   %-20s %-12s %-8d %s\n",
			rec.Address, rec.Label, rec.Status, rec.Attempts, humanize.Time(since))
	}
}

func (c *Console) cmdNode(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: node <address>")
		return
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	st, err := c.prov.Status(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	w := c.rl.Stdout()
	for _, rec := range st.Nodes {
		if rec.Address != addr {
			continue
		}
		fmt.Fprintf(w, "Address:     0x%04X (%d elements)\n", rec.Address, rec.Elements)
		if rec.Label != "" {
			fmt.Fprintf(w, "Label:       %s\n", rec.Label)
		}
		fmt.Fprintf(w, "Status:      %s\n", rec.Status)
		fmt.Fprintf(w, "Provisioned: %s\n", humanize.Time(rec.ProvisionedAt))
		if !rec.ConfiguredAt.IsZero() {
			fmt.Fprintf(w, "Configured:  %s\n", humanize.Time(rec.ConfiguredAt))
		}
		if rec.Attempts > 0 {
			fmt.Fprintf(w, "Attempts:    %d\n", rec.Attempts)
		}
		if rec.LastError != "" {
			fmt.Fprintf(w, "Last error:  %s\n", rec.LastError)
		}
		for _, m := range rec.Models {
			fmt.Fprintf(w, "Model:       %s\n", m)
		}
		if rec.Composition != "" {
			fmt.Fprintf(w, "Composition: %s (%s)\n", rec.Composition, humanize.Bytes(uint64(len(rec.Composition)/2)))
		}
		return
	}
	fmt.Fprintf(w, "Unknown node 0x%04X\n", addr)
}

func (c *Console) cmdAdd(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: add <label> [cid:mid ...]")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	addr, err := c.sim.Join(ctx, args[0], args[1:])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Node %s joined at 0x%04X\n", args[0], addr)
}

func (c *Console) cmdReconfigure(ctx context.Context, args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: reconfigure <address>")
		return
	}
	addr, err := parseAddress(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := c.prov.Reconfigure(ctx, addr); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Node 0x%04X queued\n", addr)
}

func (c *Console) cmdKey(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	key, err := c.prov.AppKey(ctx)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "AppKey: %s\n", hex.EncodeToString(key))
}

func (c *Console) cmdStats() {
	s := c.sim.BearerStats()
	w := c.rl.Stdout()
	fmt.Fprintf(w, "Sent:       %s\n", humanize.Comma(int64(s.Sent)))
	fmt.Fprintf(w, "Delivered:  %s\n", humanize.Comma(int64(s.Delivered)))
	fmt.Fprintf(w, "Dropped:    %s\n", humanize.Comma(int64(s.Dropped)))
	fmt.Fprintf(w, "Busy:       %s\n", humanize.Comma(int64(s.Busy)))
	fmt.Fprintf(w, "Timeouts:   %s\n", humanize.Comma(int64(s.Timeouts)))
	fmt.Fprintf(w, "Duplicates: %s\n", humanize.Comma(int64(s.Duplicates)))
}

func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil || !wire.IsUnicast(uint16(v)) {
		return 0, fmt.Errorf("invalid node address: %s", s)
	}
	return uint16(v), nil
}

func formatAddresses(addrs []uint16) string {
	if len(addrs) == 0 {
		return "-"
	}
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = fmt.Sprintf("0x%04X", a)
	}
	return strings.Join(parts, " ")
}
