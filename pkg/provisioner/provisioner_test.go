package provisioner

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citymesh/meshcfg-go/pkg/composition"
	"github.com/citymesh/meshcfg-go/pkg/meshsim"
	"github.com/citymesh/meshcfg-go/pkg/persistence"
	"github.com/citymesh/meshcfg-go/pkg/retry"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

const waitTimeout = 10 * time.Second

var (
	appKey    = bytes.Repeat([]byte{0xA5}, wire.KeySize)
	lightCtl  = wire.ModelID{CompanyID: wire.CompanyIDNordic, ModelID: 0xC001}
	sensorSrv = wire.ModelID{CompanyID: wire.CompanyIDNordic, ModelID: 0xC002}
)

type testbed struct {
	net    *meshsim.Network
	client *meshsim.Client
	prov   *Provisioner
	events chan Event

	mu    sync.Mutex
	nodes map[uint16]*meshsim.Node
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.AppKey = appKey
	cfg.Setup.SendRetryDelay = 5 * time.Millisecond
	cfg.Backoff = retry.Config{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2}
	return cfg
}

func newTestbed(t *testing.T, cfg Config, bearer meshsim.ClientConfig) *testbed {
	t.Helper()
	if bearer.Latency == 0 {
		bearer.Latency = time.Millisecond
	}
	if bearer.AckTimeout == 0 {
		bearer.AckTimeout = 200 * time.Millisecond
	}

	tb := &testbed{
		net:    meshsim.NewNetwork(),
		events: make(chan Event, 256),
		nodes:  make(map[uint16]*meshsim.Node),
	}
	tb.client = meshsim.NewClient(tb.net, bearer)

	p, err := New(cfg, tb.client)
	require.NoError(t, err)
	p.OnEvent(func(e Event) { tb.events <- e })
	tb.prov = p
	return tb
}

func (tb *testbed) start(t *testing.T) {
	t.Helper()
	require.NoError(t, tb.prov.Start(context.Background()))
	t.Cleanup(func() { _ = tb.prov.Stop() })
}

// join returns a JoinFunc that places a simulated node at the assigned
// address. The primary element hosts the given vendor models, a second
// element hosts sensorSrv.
func (tb *testbed) join(t *testing.T, models ...wire.ModelID) JoinFunc {
	return func(addr uint16) error {
		node, err := meshsim.NewNode(addr, composition.Header{CompanyID: wire.CompanyIDNordic}, []composition.Element{
			{VendorModels: models},
			{VendorModels: []wire.ModelID{sensorSrv}},
		})
		if err != nil {
			return err
		}
		if err := tb.net.Add(node); err != nil {
			return err
		}
		tb.mu.Lock()
		tb.nodes[addr] = node
		tb.mu.Unlock()
		return nil
	}
}

func (tb *testbed) node(addr uint16) *meshsim.Node {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.nodes[addr]
}

func (tb *testbed) add(t *testing.T, label string, join JoinFunc) uint16 {
	t.Helper()
	addr, err := tb.prov.AddNode(context.Background(), NodeSpec{Label: label, Elements: 2}, join)
	require.NoError(t, err)
	return addr
}

// waitFor collects events until one of type typ for addr arrives.
func (tb *testbed) waitFor(t *testing.T, typ EventType, addr uint16) []Event {
	t.Helper()
	var seen []Event
	deadline := time.After(waitTimeout)
	for {
		select {
		case e := <-tb.events:
			seen = append(seen, e)
			if e.Type == typ && e.Address == addr {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on 0x%04X; saw %v", typ, addr, types(seen))
			return nil
		}
	}
}

func types(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type.String()
	}
	return out
}

func (tb *testbed) status(t *testing.T) Status {
	t.Helper()
	st, err := tb.prov.Status(context.Background())
	require.NoError(t, err)
	return st
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative retries", func(c *Config) { c.TimeoutRetries = -1 }},
		{"short app key", func(c *Config) { c.AppKey = []byte{1, 2, 3} }},
		{"long net key", func(c *Config) { c.NetKey = make([]byte, 17) }},
		{"app key index", func(c *Config) { c.AppKeyIndex = 0x1000 }},
		{"group start address", func(c *Config) { c.StartAddress = 0xC000 }},
		{"start at provisioner", func(c *Config) { c.StartAddress = c.Setup.ProvisionerAddress }},
	}

	base := DefaultConfig()
	require.NoError(t, base.Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	_, err := New(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLifecycle(t *testing.T) {
	tb := newTestbed(t, testConfig(), meshsim.ClientConfig{})
	ctx := context.Background()

	_, err := tb.prov.AddNode(ctx, NodeSpec{}, nil)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, tb.prov.Stop(), ErrNotStarted)

	require.NoError(t, tb.prov.Start(ctx))
	assert.Equal(t, StateRunning, tb.prov.State())
	assert.ErrorIs(t, tb.prov.Start(ctx), ErrAlreadyStarted)

	// Nothing queued.
	tb.waitFor(t, EventIdle, 0)

	require.NoError(t, tb.prov.Stop())
	assert.Equal(t, StateStopped, tb.prov.State())
	<-tb.prov.Done()
	_, err = tb.prov.Status(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestConfiguresNodes(t *testing.T) {
	tb := newTestbed(t, testConfig(), meshsim.ClientConfig{})
	tb.start(t)
	tb.waitFor(t, EventIdle, 0)

	first := tb.add(t, "lamp-1", tb.join(t, lightCtl))
	second := tb.add(t, "lamp-2", tb.join(t))
	assert.Equal(t, uint16(0x0100), first)
	assert.Equal(t, uint16(0x0102), second)

	events := tb.waitFor(t, EventNodeConfigured, first)
	assert.Equal(t, EventNodeAdded, events[0].Type)
	events = tb.waitFor(t, EventNodeConfigured, second)
	tb.waitFor(t, EventIdle, 0)

	last := events[len(events)-1]
	require.Len(t, last.Models, 1)
	assert.Equal(t, uint16(0x0103), last.Models[0].ElementAddress)

	node := tb.node(first)
	assert.True(t, node.Bound(first, wire.SIGModel(wire.ModelIDHealthServer), 0))
	assert.True(t, node.Bound(first, lightCtl, 0))
	assert.True(t, node.Bound(first+1, sensorSrv, 0))
	pub, ok := node.Publication(first, lightCtl)
	require.True(t, ok)
	assert.Equal(t, uint16(0xC001), pub.PublishAddress)
	assert.Equal(t, []uint16{0xC002}, node.Subscriptions(first+1, sensorSrv))
	key, _ := node.AppKey(0)
	assert.Equal(t, appKey, key)

	st := tb.status(t)
	assert.Equal(t, 2, st.Provisioned)
	assert.Equal(t, 2, st.Configured)
	assert.Equal(t, uint16(0x0104), st.NextAddress)
	assert.Empty(t, st.Queue)
	require.Len(t, st.Nodes, 2)
	assert.Equal(t, persistence.NodeConfigured, st.Nodes[0].Status)
	assert.Equal(t, []string{"0x0059:0xC001", "0x0059:0xC002"}, st.Nodes[0].Models)
	assert.NotEmpty(t, st.Nodes[0].Composition)
	assert.Equal(t, "lamp-2", st.Nodes[1].Label)
}

func TestAddNodeErrors(t *testing.T) {
	cfg := testConfig()
	cfg.StartAddress = 0x7FFE
	tb := newTestbed(t, cfg, meshsim.ClientConfig{})
	tb.start(t)
	ctx := context.Background()

	_, err := tb.prov.AddNode(ctx, NodeSpec{Label: "big", Elements: 3}, nil)
	assert.ErrorIs(t, err, ErrAddressExhausted)

	_, err = tb.prov.AddNode(ctx, NodeSpec{Label: "a"}, func(uint16) error { return assert.AnError })
	assert.ErrorIs(t, err, assert.AnError)

	addr := tb.add(t, "a", tb.join(t))
	assert.Equal(t, uint16(0x7FFE), addr, "failed join releases the address")

	_, err = tb.prov.AddNode(ctx, NodeSpec{Label: "a"}, nil)
	assert.ErrorIs(t, err, ErrDuplicateLabel)

	assert.ErrorIs(t, tb.prov.Reconfigure(ctx, 0x0042), ErrUnknownNode)
}

func TestRetriesFailedNode(t *testing.T) {
	tb := newTestbed(t, testConfig(), meshsim.ClientConfig{})
	tb.start(t)

	var rejected *meshsim.Node
	join := tb.join(t, lightCtl)
	addr := tb.add(t, "flaky", func(a uint16) error {
		if err := join(a); err != nil {
			return err
		}
		rejected = tb.node(a)
		rejected.RejectNext(wire.OpModelAppStatus, wire.StatusCannotBind, 1)
		return nil
	})

	events := tb.waitFor(t, EventNodeConfigured, addr)
	assert.Equal(t, []string{"NODE_ADDED", "SETUP_STARTED", "SETUP_FAILED", "RETRY_SCHEDULED", "SETUP_STARTED", "NODE_CONFIGURED"}, types(events))

	failed := events[2]
	assert.Equal(t, 1, failed.Attempt)
	assert.ErrorContains(t, failed.Error, "CANNOT_BIND")
	assert.Equal(t, 10*time.Millisecond, events[3].Delay)

	st := tb.status(t)
	assert.Equal(t, 1, st.Nodes[0].Attempts)
	assert.Empty(t, st.Nodes[0].LastError)
}

func TestAbandonsNode(t *testing.T) {
	cfg := testConfig()
	cfg.Backoff.MaxAttempts = 1
	tb := newTestbed(t, cfg, meshsim.ClientConfig{})
	tb.start(t)

	join := tb.join(t)
	addr := tb.add(t, "broken", func(a uint16) error {
		if err := join(a); err != nil {
			return err
		}
		tb.node(a).RejectNext(wire.OpAppKeyStatus, wire.StatusInsufficientResources, 10)
		return nil
	})

	events := tb.waitFor(t, EventNodeAbandoned, addr)
	assert.Equal(t, []string{"NODE_ADDED", "SETUP_STARTED", "SETUP_FAILED", "RETRY_SCHEDULED", "SETUP_STARTED", "SETUP_FAILED", "NODE_ABANDONED"}, types(events))
	tb.waitFor(t, EventIdle, 0)

	st := tb.status(t)
	assert.Equal(t, persistence.NodeFailed, st.Nodes[0].Status)
	assert.Equal(t, 2, st.Nodes[0].Attempts)
	assert.Contains(t, st.Nodes[0].LastError, "INSUFFICIENT_RESOURCES")
	assert.Equal(t, 0, st.Configured)

	// A manual reconfigure gets a fresh budget.
	require.NoError(t, tb.prov.Reconfigure(context.Background(), addr))
	events = tb.waitFor(t, EventNodeAbandoned, addr)
	assert.Equal(t, "SETUP_STARTED", events[0].Type.String())
}

func TestLossyBearer(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutRetries = 10
	tb := newTestbed(t, cfg, meshsim.ClientConfig{
		Latency:    time.Millisecond,
		AckTimeout: 30 * time.Millisecond,
		DropRate:   0.2,
		BusyRate:   0.1,
		Seed:       7,
	})
	tb.start(t)

	var addrs []uint16
	for _, label := range []string{"a", "b", "c"} {
		addrs = append(addrs, tb.add(t, label, tb.join(t, lightCtl)))
	}
	for _, addr := range addrs {
		tb.waitFor(t, EventNodeConfigured, addr)
	}

	st := tb.status(t)
	assert.Equal(t, 3, st.Configured)
	for _, addr := range addrs {
		pub, ok := tb.node(addr).Publication(addr, lightCtl)
		require.True(t, ok, "node 0x%04X", addr)
		assert.Equal(t, wire.GroupAddressFor(lightCtl.ModelID), pub.PublishAddress)
	}
	assert.Positive(t, tb.client.Stats().Dropped)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.json")

	cfg := testConfig()
	cfg.AppKey = nil
	cfg.Store = persistence.NewNetworkStateStore(path)
	cfg.Backoff = retry.Config{Initial: time.Hour}

	tb := newTestbed(t, cfg, meshsim.ClientConfig{})
	require.NoError(t, tb.prov.Start(context.Background()))

	done := tb.add(t, "done", tb.join(t, lightCtl))
	tb.waitFor(t, EventNodeConfigured, done)

	// Joins the address plan but is absent from the simulated network.
	missing := tb.add(t, "missing", nil)
	events := tb.waitFor(t, EventRetryScheduled, missing)
	assert.ErrorIs(t, events[len(events)-2].Error, meshsim.ErrUnknownNode)

	key, err := tb.prov.AppKey(context.Background())
	require.NoError(t, err)
	require.Len(t, key, wire.KeySize)
	require.NoError(t, tb.prov.Stop())

	stored, err := cfg.Store.Load()
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.ProvisionedDevices)
	assert.Equal(t, 1, stored.ConfiguredDevices)
	rec, ok := stored.Node(missing)
	require.True(t, ok)
	assert.Equal(t, persistence.NodePending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	// Restart with the missing node present: only it is configured.
	tb2 := newTestbed(t, cfg, meshsim.ClientConfig{})
	require.NoError(t, tb.join(t)(missing))
	require.NoError(t, tb2.net.Add(tb.node(missing)))
	tb2.start(t)

	events = tb2.waitFor(t, EventNodeConfigured, missing)
	assert.Equal(t, "SETUP_STARTED", events[0].Type.String())

	st := tb2.status(t)
	assert.Equal(t, 2, st.Configured)
	assert.Equal(t, uint16(0x0104), st.NextAddress)

	key2, err := tb2.prov.AppKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, key2)
	got, _ := tb.node(missing).AppKey(0)
	assert.Equal(t, key, got)
}

func TestKeyMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.json")
	store := persistence.NewNetworkStateStore(path)
	require.NoError(t, store.Save(&persistence.NetworkState{AppKey: "00112233445566778899aabbccddeeff"}))

	cfg := testConfig()
	cfg.Store = store
	tb := newTestbed(t, cfg, meshsim.ClientConfig{})
	assert.ErrorIs(t, tb.prov.Start(context.Background()), ErrKeyMismatch)
	assert.Equal(t, StateIdle, tb.prov.State())
}
