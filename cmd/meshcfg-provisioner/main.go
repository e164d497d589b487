// Command meshcfg-provisioner configures the nodes of a simulated mesh
// network.
//
// Each node that joins gets the next free unicast address range and is
// queued for setup: the provisioner reads its composition data, installs
// the application key and, for every vendor service model it hosts, binds
// the key, sets the publication and adds a group subscription.
//
// Usage:
//
//	meshcfg-provisioner [flags]
//
// Flags:
//
//	-config string        Network file (YAML). Without it three demo nodes are used
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-state-dir string     Directory for the persistent network state
//	-reset                Clear the persisted network state before starting
//	-protocol-log string  Write a setup protocol capture (CBOR) to this file
//	-interactive          Enable interactive command mode
//
// Examples:
//
//	# Configure the demo network and exit
//	meshcfg-provisioner
//
//	# Lossy bearer from a network file, capturing the protocol
//	meshcfg-provisioner -config city.yaml -protocol-log setup.mlog
//
//	# Remember the network across restarts
//	meshcfg-provisioner -config city.yaml -state-dir /var/lib/meshcfg -interactive
//
// Interactive Commands:
//
//	status                    - Show provisioner status
//	nodes                     - List nodes
//	node <address>            - Show one node
//	add <label> [cid:mid ...] - Join a simulated node
//	reconfigure <address>     - Run setup again for a node
//	key                       - Show the application key
//	stats                     - Show bearer statistics
//	quit                      - Exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/citymesh/meshcfg-go/cmd/meshcfg-provisioner/interactive"
	meshlog "github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/meshsim"
	"github.com/citymesh/meshcfg-go/pkg/persistence"
	"github.com/citymesh/meshcfg-go/pkg/provisioner"
)

// Config holds the command-line configuration.
type Config struct {
	ConfigFile  string
	LogLevel    string
	Interactive bool
	ProtocolLog string

	// Persistence settings
	StateDir string
	Reset    bool
}

var config Config

func init() {
	flag.StringVar(&config.ConfigFile, "config", "", "Network file (YAML)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&config.Interactive, "interactive", false, "Enable interactive command mode")
	flag.StringVar(&config.ProtocolLog, "protocol-log", "", "Write a setup protocol capture to this file")

	flag.StringVar(&config.StateDir, "state-dir", "", "Directory for the persistent network state")
	flag.BoolVar(&config.Reset, "reset", false, "Clear the persisted network state before starting")
}

func main() {
	flag.Parse()

	out := &switchWriter{w: os.Stderr}
	log.SetOutput(out)
	level, err := setupLogging(config.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	log.Println("Mesh Node Provisioner")
	log.Println("=====================")

	nf := DefaultNetworkFile()
	if config.ConfigFile != "" {
		if nf, err = LoadNetworkFile(config.ConfigFile); err != nil {
			log.Fatalf("Failed to load network file: %v", err)
		}
		log.Printf("Network file: %s (%d nodes)", config.ConfigFile, len(nf.Nodes))
	}

	provCfg, err := nf.ProvisionerConfig()
	if err != nil {
		log.Fatalf("Invalid network configuration: %v", err)
	}
	provCfg.Logger = logger

	// Persistence
	var state *persistence.NetworkState
	if config.StateDir != "" {
		if err := os.MkdirAll(config.StateDir, 0o755); err != nil {
			log.Fatalf("Failed to create state directory: %v", err)
		}
		store := persistence.NewNetworkStateStore(filepath.Join(config.StateDir, "network.json"))
		if config.Reset {
			if err := store.Clear(); err != nil {
				log.Fatalf("Failed to clear state: %v", err)
			}
			log.Println("Cleared persisted network state")
		}
		if state, err = store.Load(); err != nil {
			log.Fatalf("Failed to load state: %v", err)
		}
		provCfg.Store = store
		log.Printf("State file: %s", store.Path())
	}

	// Protocol capture
	var capture *meshlog.FileLogger
	if config.ProtocolLog != "" {
		if capture, err = meshlog.NewFileLogger(config.ProtocolLog); err != nil {
			log.Fatalf("Failed to open protocol log: %v", err)
		}
		loggers := []meshlog.Logger{capture}
		if level == slog.LevelDebug {
			loggers = append(loggers, meshlog.NewSlogAdapter(logger))
		}
		provCfg.ProtocolLogger = meshlog.NewMultiLogger(loggers...)
		log.Printf("Protocol log: %s", config.ProtocolLog)
	} else if level == slog.LevelDebug {
		provCfg.ProtocolLogger = meshlog.NewSlogAdapter(logger)
	}

	// Simulated network
	net := meshsim.NewNetwork()
	sim := newSimulation(net, nf)
	if n := sim.restore(state); n > 0 {
		log.Printf("Restored %d nodes from state", n)
	}

	bearerCfg := nf.Bearer
	bearerCfg.Logger = logger
	bearerCfg.ProtocolLogger = provCfg.ProtocolLogger
	sim.client = meshsim.NewClient(net, bearerCfg)

	prov, err := provisioner.New(provCfg, sim.client)
	if err != nil {
		log.Fatalf("Failed to create provisioner: %v", err)
	}
	sim.prov = prov

	idle := make(chan struct{}, 1)
	prov.OnEvent(handleEvent)
	prov.OnEvent(func(e provisioner.Event) {
		if e.Type == provisioner.EventIdle {
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The console cancels ctx on quit; the provisioner keeps running until
	// Stop so the final state is flushed.
	if err := prov.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start provisioner: %v", err)
	}

	// Join the nodes the state does not know yet.
	for _, n := range nf.Nodes {
		if state != nil {
			if _, ok := state.NodeByLabel(n.Label); ok {
				continue
			}
		}
		addr, err := sim.add(ctx, n)
		if err != nil {
			log.Printf("Failed to add node %q: %v", n.Label, err)
			continue
		}
		log.Printf("Node %q joined at 0x%04X", n.Label, addr)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if config.Interactive {
		ic, err := interactive.New(prov, sim)
		if err != nil {
			log.Fatalf("Failed to create interactive console: %v", err)
		}
		out.Set(ic.Stdout())
		go ic.Run(ctx, cancel)

		select {
		case sig := <-sigCh:
			log.Printf("Received signal: %v", sig)
		case <-ctx.Done():
		}
	} else {
		waitIdle(ctx, prov, idle, sigCh)
	}

	log.Println("Shutting down...")
	statusCtx, statusCancel := context.WithTimeout(context.Background(), 5*time.Second)
	final, statusErr := prov.Status(statusCtx)
	statusCancel()
	if err := prov.Stop(); err != nil {
		log.Printf("Error stopping provisioner: %v", err)
	}
	out.Set(os.Stderr)

	if capture != nil {
		log.Printf("Captured %d protocol events", capture.Count())
		if err := capture.Close(); err != nil {
			log.Printf("Error closing protocol log: %v", err)
		}
	}

	if statusErr != nil {
		log.Printf("Failed to read final status: %v", statusErr)
		return
	}
	printSummary(final, sim.BearerStats())
}

// waitIdle returns once the provisioner has nothing left to do or a signal
// arrives.
func waitIdle(ctx context.Context, prov *provisioner.Provisioner, idle <-chan struct{}, sigCh <-chan os.Signal) {
	for {
		select {
		case sig := <-sigCh:
			log.Printf("Received signal: %v", sig)
			return
		case <-ctx.Done():
			return
		case <-idle:
			st, err := prov.Status(ctx)
			if err != nil {
				log.Printf("Failed to read status: %v", err)
				return
			}
			if st.Active == 0 && len(st.Queue) == 0 && len(st.Waiting) == 0 {
				return
			}
		}
	}
}

func setupLogging(level string) (slog.Level, error) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	switch strings.ToLower(level) {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		log.SetFlags(log.Ltime)
		return slog.LevelWarn, nil
	case "error":
		log.SetFlags(log.Ltime)
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %s (use: debug, info, warn, error)", level)
	}
}

func handleEvent(event provisioner.Event) {
	switch event.Type {
	case provisioner.EventNodeAdded:
		log.Printf("[EVENT] Node added: 0x%04X", event.Address)

	case provisioner.EventSetupStarted:
		log.Printf("[EVENT] Setup started: 0x%04X (session %s, attempt %d)",
			event.Address, event.SessionID, event.Attempt+1)

	case provisioner.EventNodeConfigured:
		log.Printf("[EVENT] Node configured: 0x%04X", event.Address)
		for _, m := range event.Models {
			log.Printf("        element 0x%04X model %s -> group 0x%04X",
				m.ElementAddress, m.Model, m.GroupAddress)
		}

	case provisioner.EventSetupFailed:
		log.Printf("[EVENT] Setup failed: 0x%04X: %v", event.Address, event.Error)

	case provisioner.EventRetryScheduled:
		log.Printf("[EVENT] Retry scheduled: 0x%04X in %s", event.Address, event.Delay.Round(time.Millisecond))

	case provisioner.EventNodeAbandoned:
		log.Printf("[EVENT] Node abandoned: 0x%04X after %d attempts: %v",
			event.Address, event.Attempt, event.Error)

	case provisioner.EventIdle:
		log.Println("[EVENT] All queued nodes processed")
	}
}

// printSummary reports the network as it was when the run ended.
func printSummary(st provisioner.Status, stats meshsim.Stats) {
	fmt.Println()
	fmt.Printf("Nodes: %d provisioned, %d configured\n", st.Provisioned, st.Configured)
	for _, rec := range st.Nodes {
		line := fmt.Sprintf("  0x%04X  %-20s %-12s", rec.Address, rec.Label, rec.Status)
		if len(rec.Models) > 0 {
			line += " " + strings.Join(rec.Models, ",")
		}
		if rec.LastError != "" {
			line += " (" + rec.LastError + ")"
		}
		fmt.Println(line)
	}
	fmt.Printf("Bearer: %d sent, %d delivered, %d dropped, %d busy, %d timeouts, %d duplicates\n",
		stats.Sent, stats.Delivered, stats.Dropped, stats.Busy, stats.Timeouts, stats.Duplicates)
}

// switchWriter lets log output move to the interactive console once it
// exists.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return 0, errors.New("no output")
	}
	return s.w.Write(p)
}

// Set redirects subsequent writes to w.
func (s *switchWriter) Set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
