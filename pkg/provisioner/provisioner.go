package provisioner

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/citymesh/meshcfg-go/pkg/nodesetup"
	"github.com/citymesh/meshcfg-go/pkg/persistence"
	"github.com/citymesh/meshcfg-go/pkg/retry"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// stopTimeout bounds the final state flush in Stop.
const stopTimeout = 5 * time.Second

// Transport is the config client used for every node.
type Transport interface {
	nodesetup.ConfigClient
	nodesetup.Binder

	// SetReceiver registers the function that receives transport events.
	// It may be called from any goroutine.
	SetReceiver(fn func(nodesetup.Event))
}

// Provisioner configures the nodes of a network one at a time.
type Provisioner struct {
	config    Config
	transport Transport
	machine   *nodesetup.Machine
	loop      *Loop

	mu       sync.RWMutex
	state    State
	handlers []EventHandler
	cancel   context.CancelFunc

	// Owned by the loop goroutine.
	network  *persistence.NetworkState
	appKey   []byte
	queue    []uint16
	backoffs map[uint16]*retry.Backoff
	waiting  map[uint16]nodesetup.Timer
	idle     bool
}

// New creates a Provisioner that talks to nodes through transport.
func New(config Config, transport Transport) (*Provisioner, error) {
	if transport == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Provisioner{
		config:    config,
		transport: transport,
		loop:      NewLoop(defaultLoopBuffer),
		backoffs:  make(map[uint16]*retry.Backoff),
		waiting:   make(map[uint16]nodesetup.Timer),
	}

	setup := config.Setup
	setup.Client = transport
	setup.Binder = transport
	setup.Scheduler = stepScheduler{p}
	if setup.Logger == nil {
		setup.Logger = config.Logger
	}
	if setup.ProtocolLogger == nil {
		setup.ProtocolLogger = config.ProtocolLogger
	}

	m, err := nodesetup.New(setup)
	if err != nil {
		return nil, err
	}
	if err := m.SetCallbacks(p.onConfigured, p.onFailed); err != nil {
		return nil, err
	}
	p.machine = m

	return p, nil
}

// OnEvent registers an event handler.
func (p *Provisioner) OnEvent(handler EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, handler)
}

// State returns the lifecycle state.
func (p *Provisioner) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Start loads the network state, queues every node that is not configured
// and starts the event loop.
func (p *Provisioner) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}

	if err := p.loadState(); err != nil {
		p.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StateRunning
	p.mu.Unlock()

	p.transport.SetReceiver(p.receive)
	go p.loop.Run(loopCtx)

	p.loop.Post(func() {
		for _, addr := range p.network.Pending() {
			rec, _ := p.network.Node(addr)
			rec.Status = persistence.NodePending
			p.enqueue(addr)
		}
		p.save()
		p.infoLog("provisioner started",
			"nodes", len(p.network.Nodes),
			"queued", len(p.queue),
			"next_address", fmt.Sprintf("0x%04X", p.network.NextDeviceAddress))
		p.next()
	})
	return nil
}

// Stop cancels the running session, flushes the network state and stops
// the event loop. The interrupted node is configured again on the next
// Start.
func (p *Provisioner) Stop() error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.state = StateStopping
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	err := p.loop.Call(ctx, func() {
		if addr := p.machine.Address(); addr != wire.AddressUnassigned {
			p.machine.Cancel()
			if rec, ok := p.network.Node(addr); ok {
				rec.Status = persistence.NodePending
			}
		}
		for addr, t := range p.waiting {
			t.Stop()
			delete(p.waiting, addr)
		}
		p.save()
	})
	if err != nil && !errors.Is(err, ErrLoopStopped) {
		p.warnLog("state flush on stop failed", "error", err)
	}

	p.cancel()
	<-p.loop.Done()

	p.mu.Lock()
	p.state = StateStopped
	p.mu.Unlock()

	p.infoLog("provisioner stopped")
	return nil
}

// Done is closed when the event loop has exited.
func (p *Provisioner) Done() <-chan struct{} {
	return p.loop.Done()
}

// AddNode assigns the next free unicast range to a node and queues it for
// setup. join, if not nil, runs first with the assigned address; it stands
// in for the provisioning handshake.
func (p *Provisioner) AddNode(ctx context.Context, spec NodeSpec, join JoinFunc) (uint16, error) {
	if spec.Elements <= 0 {
		spec.Elements = 1
	}

	var (
		addr uint16
		err  error
	)
	callErr := p.call(ctx, func() {
		addr, err = p.addNode(spec, join)
	})
	if callErr != nil {
		return 0, callErr
	}
	return addr, err
}

// Reconfigure queues a known node for another setup session and resets its
// retry budget.
func (p *Provisioner) Reconfigure(ctx context.Context, address uint16) error {
	var err error
	callErr := p.call(ctx, func() {
		rec, ok := p.network.Node(address)
		if !ok {
			err = fmt.Errorf("%w: 0x%04X", ErrUnknownNode, address)
			return
		}
		if t, ok := p.waiting[address]; ok {
			t.Stop()
			delete(p.waiting, address)
		}
		delete(p.backoffs, address)
		rec.Attempts = 0
		rec.LastError = ""
		if rec.Status != persistence.NodeConfiguring {
			rec.Status = persistence.NodePending
			p.enqueue(address)
		}
		p.save()
		p.next()
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Status returns a snapshot of the provisioner.
func (p *Provisioner) Status(ctx context.Context) (Status, error) {
	var st Status
	err := p.call(ctx, func() {
		st = Status{
			Active:      p.machine.Address(),
			Step:        p.machine.Step(),
			SessionID:   p.machine.SessionID(),
			Queue:       slices.Clone(p.queue),
			NextAddress: p.network.NextDeviceAddress,
			Provisioned: p.network.ProvisionedDevices,
			Configured:  p.network.ConfiguredDevices,
			Nodes:       make([]persistence.NodeRecord, len(p.network.Nodes)),
		}
		for addr := range p.waiting {
			st.Waiting = append(st.Waiting, addr)
		}
		slices.Sort(st.Waiting)
		for i, rec := range p.network.Nodes {
			rec.Models = slices.Clone(rec.Models)
			st.Nodes[i] = rec
		}
	})
	st.State = p.State()
	return st, err
}

// AppKey returns a copy of the network application key.
func (p *Provisioner) AppKey(ctx context.Context) ([]byte, error) {
	var key []byte
	err := p.call(ctx, func() { key = slices.Clone(p.appKey) })
	return key, err
}

func (p *Provisioner) call(ctx context.Context, fn func()) error {
	if p.State() != StateRunning {
		return ErrNotStarted
	}
	return p.loop.Call(ctx, fn)
}

// receive runs on transport goroutines.
func (p *Provisioner) receive(ev nodesetup.Event) {
	p.loop.Post(func() {
		p.machine.HandleEvent(ev)
		p.next()
	})
}

func (p *Provisioner) addNode(spec NodeSpec, join JoinFunc) (uint16, error) {
	if _, ok := p.network.NodeByLabel(spec.Label); ok {
		return 0, fmt.Errorf("%w: %q", ErrDuplicateLabel, spec.Label)
	}

	addr := p.network.NextDeviceAddress
	last := int(addr) + spec.Elements - 1
	if last > 0x7FFF {
		return 0, fmt.Errorf("%w: %d elements at 0x%04X", ErrAddressExhausted, spec.Elements, addr)
	}
	if join != nil {
		if err := join(addr); err != nil {
			return 0, fmt.Errorf("join 0x%04X: %w", addr, err)
		}
	}

	p.network.NextDeviceAddress = uint16(last + 1)
	p.network.LastDeviceAddress = addr
	p.network.ProvisionedDevices++
	p.network.PutNode(persistence.NodeRecord{
		Address:       addr,
		Label:         spec.Label,
		Elements:      spec.Elements,
		Status:        persistence.NodePending,
		ProvisionedAt: time.Now(),
	})
	p.enqueue(addr)
	p.save()

	p.debugLog("node added",
		"node", fmt.Sprintf("0x%04X", addr),
		"label", spec.Label,
		"elements", spec.Elements)
	p.emitEvent(Event{Type: EventNodeAdded, Address: addr})

	p.next()
	return addr, nil
}

func (p *Provisioner) enqueue(addr uint16) {
	if slices.Contains(p.queue, addr) || p.machine.Address() == addr {
		return
	}
	p.queue = append(p.queue, addr)
}

// next starts sessions until one is running or the queue is empty. It runs
// after every loop task that can end a session.
func (p *Provisioner) next() {
	for !p.machine.Active() && len(p.queue) > 0 {
		addr := p.queue[0]
		p.queue = p.queue[1:]

		rec, ok := p.network.Node(addr)
		if !ok {
			continue
		}
		rec.Status = persistence.NodeConfiguring
		p.idle = false

		err := p.machine.Start(addr, p.config.TimeoutRetries, p.appKey, p.config.AppKeyIndex)
		if err != nil {
			p.handleFailure(&nodesetup.SetupError{Address: addr, Step: nodesetup.StepIdle, Err: err})
			continue
		}
		if p.machine.Address() == addr {
			p.emitEvent(Event{Type: EventSetupStarted, Address: addr, SessionID: p.machine.SessionID(), Attempt: rec.Attempts})
		}
	}

	if !p.machine.Active() && len(p.queue) == 0 && len(p.waiting) == 0 && !p.idle {
		p.idle = true
		p.debugLog("all nodes processed", "configured", p.network.ConfiguredDevices)
		p.emitEvent(Event{Type: EventIdle})
	}
}

func (p *Provisioner) onConfigured(res nodesetup.Result) {
	rec, ok := p.network.Node(res.Address)
	if !ok {
		return
	}

	if rec.Status != persistence.NodeConfigured {
		p.network.ConfiguredDevices++
	}
	rec.Status = persistence.NodeConfigured
	rec.ConfiguredAt = res.FinishedAt
	rec.LastError = ""
	rec.Composition = hex.EncodeToString(res.Composition.Data)
	rec.Models = rec.Models[:0]
	for _, m := range res.Models {
		rec.Models = append(rec.Models, m.Model.String())
	}
	if elems, err := res.Composition.Elements(); err == nil && len(elems) > 0 {
		rec.Elements = len(elems)
	}
	delete(p.backoffs, res.Address)
	p.save()

	p.emitEvent(Event{
		Type:      EventNodeConfigured,
		Address:   res.Address,
		SessionID: res.SessionID,
		Attempt:   rec.Attempts,
		Models:    res.Models,
	})
}

func (p *Provisioner) onFailed(e *nodesetup.SetupError) {
	p.handleFailure(e)
}

func (p *Provisioner) handleFailure(e *nodesetup.SetupError) {
	addr := e.Address
	rec, ok := p.network.Node(addr)
	if !ok {
		return
	}
	rec.Attempts++
	rec.LastError = e.Error()

	p.emitEvent(Event{Type: EventSetupFailed, Address: addr, SessionID: e.SessionID, Attempt: rec.Attempts, Error: e})

	b, ok := p.backoffs[addr]
	if !ok {
		b = retry.NewWithConfig(p.config.Backoff)
		p.backoffs[addr] = b
	}
	delay, ok := b.Next()
	if !ok {
		rec.Status = persistence.NodeFailed
		delete(p.backoffs, addr)
		p.save()
		p.warnLog("giving up on node",
			"node", fmt.Sprintf("0x%04X", addr),
			"attempts", rec.Attempts,
			"error", e.Error())
		p.emitEvent(Event{Type: EventNodeAbandoned, Address: addr, Attempt: rec.Attempts, Error: e})
		return
	}

	rec.Status = persistence.NodePending
	p.save()
	p.waiting[addr] = p.loop.Schedule(delay, func() {
		delete(p.waiting, addr)
		p.enqueue(addr)
		p.next()
	})
	p.debugLog("node retry scheduled",
		"node", fmt.Sprintf("0x%04X", addr),
		"attempt", rec.Attempts,
		"delay", delay)
	p.emitEvent(Event{Type: EventRetryScheduled, Address: addr, Attempt: rec.Attempts, Delay: delay})
}

// loadState reads the stored network state and settles the keys.
func (p *Provisioner) loadState() error {
	var st *persistence.NetworkState
	if p.config.Store != nil {
		var err error
		if st, err = p.config.Store.Load(); err != nil {
			return fmt.Errorf("load network state: %w", err)
		}
	}
	if st == nil {
		st = &persistence.NetworkState{AppKeyIndex: p.config.AppKeyIndex}
	}
	if st.NextDeviceAddress == 0 {
		st.NextDeviceAddress = p.config.StartAddress
	}
	if st.AppKeyIndex != p.config.AppKeyIndex {
		return fmt.Errorf("%w: stored app key index %d", ErrKeyMismatch, st.AppKeyIndex)
	}

	appKey, err := settleKey(&st.AppKey, p.config.AppKey)
	if err != nil {
		return fmt.Errorf("app key: %w", err)
	}
	if _, err := settleKey(&st.NetKey, p.config.NetKey); err != nil {
		return fmt.Errorf("net key: %w", err)
	}

	p.network = st
	p.appKey = appKey
	return nil
}

// settleKey returns the key stored in *stored, falling back to configured
// and then to a random key. The result is written back to *stored.
func settleKey(stored *string, configured []byte) ([]byte, error) {
	if *stored != "" {
		key, err := hex.DecodeString(*stored)
		if err != nil || len(key) != wire.KeySize {
			return nil, fmt.Errorf("stored key is not %d hex bytes", wire.KeySize)
		}
		if len(configured) != 0 && !bytes.Equal(key, configured) {
			return nil, ErrKeyMismatch
		}
		return key, nil
	}

	key := slices.Clone(configured)
	if len(key) == 0 {
		key = make([]byte, wire.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	*stored = hex.EncodeToString(key)
	return key, nil
}

func (p *Provisioner) save() {
	if p.config.Store == nil {
		return
	}
	if err := p.config.Store.Save(p.network); err != nil {
		p.warnLog("failed to save network state", "error", err)
	}
}

func (p *Provisioner) emitEvent(e Event) {
	p.mu.RLock()
	handlers := slices.Clone(p.handlers)
	p.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

func (p *Provisioner) debugLog(msg string, args ...any) {
	if p.config.Logger != nil {
		p.config.Logger.Debug(msg, args...)
	}
}

func (p *Provisioner) infoLog(msg string, args ...any) {
	if p.config.Logger != nil {
		p.config.Logger.Info(msg, args...)
	}
}

func (p *Provisioner) warnLog(msg string, args ...any) {
	if p.config.Logger != nil {
		p.config.Logger.Warn(msg, args...)
	}
}

// stepScheduler runs the machine's timers on the loop and lets the queue
// move on if a timer ended the session.
type stepScheduler struct {
	p *Provisioner
}

func (s stepScheduler) Schedule(d time.Duration, fn func()) nodesetup.Timer {
	return s.p.loop.Schedule(d, func() {
		fn()
		s.p.next()
	})
}
