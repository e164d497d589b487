package nodesetup

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/citymesh/meshcfg-go/pkg/composition"
	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

var testAppKey = []byte{
	0x63, 0x96, 0x47, 0x71, 0x73, 0x4f, 0xbd, 0x76,
	0xe3, 0xb4, 0x05, 0x19, 0xd1, 0xd9, 0x4a, 0x48,
}

// fakeClient records sent requests. The first busy sends return ErrBusy.
type fakeClient struct {
	sent    []wire.Message
	busy    int
	err     error
	cancels int
}

func (c *fakeClient) Send(msg wire.Message) error {
	if c.err != nil {
		return c.err
	}
	if c.busy > 0 {
		c.busy--
		return ErrBusy
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeClient) CancelPending() { c.cancels++ }

func (c *fakeClient) last() wire.Message {
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() { t.stopped = true }

type fakeScheduler struct {
	timers []*fakeTimer
}

func (s *fakeScheduler) Schedule(d time.Duration, fn func()) Timer {
	t := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// fire runs every pending timer that has not been stopped.
func (s *fakeScheduler) fire() int {
	pending := s.timers
	s.timers = nil
	n := 0
	for _, t := range pending {
		if !t.stopped {
			n++
			t.fn()
		}
	}
	return n
}

type outcomes struct {
	successes []Result
	failures  []*SetupError
}

func (o *outcomes) onSuccess(r Result)      { o.successes = append(o.successes, r) }
func (o *outcomes) onFailure(e *SetupError) { o.failures = append(o.failures, e) }

type recordingLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *recordingLogger) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type harness struct {
	m      *Machine
	client *fakeClient
	sched  *fakeScheduler
	out    *outcomes
}

func newHarness(t *testing.T, opts ...func(*Config)) *harness {
	t.Helper()
	h := &harness{client: &fakeClient{}, sched: &fakeScheduler{}, out: &outcomes{}}

	cfg := DefaultConfig()
	cfg.Client = h.client
	cfg.Scheduler = h.sched
	for _, o := range opts {
		o(&cfg)
	}

	m, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, m.SetCallbacks(h.out.onSuccess, h.out.onFailure))
	h.m = m
	return h
}

// reply answers the most recent request with status.
func (h *harness) reply(t *testing.T, status wire.Status, blob []byte) {
	t.Helper()
	h.m.HandleEvent(ackFor(t, h.client.last(), status, blob))
}

// run answers every request with SUCCESS until the session ends.
func (h *harness) run(t *testing.T, blob []byte) {
	t.Helper()
	for i := 0; h.m.Active(); i++ {
		require.Less(t, i, 100, "session did not finish")
		h.reply(t, wire.StatusSuccess, blob)
	}
}

func messageEvent(t *testing.T, msg wire.Message) Event {
	t.Helper()
	params, err := msg.MarshalParams()
	require.NoError(t, err)
	return MessageEvent(msg.Opcode(), params)
}

// ackFor builds the status message a well-behaved node returns for req.
func ackFor(t *testing.T, req wire.Message, status wire.Status, blob []byte) Event {
	t.Helper()
	switch r := req.(type) {
	case wire.CompositionDataGet:
		return messageEvent(t, wire.CompositionDataStatus{Page: r.Page, Data: blob})
	case wire.AppKeyAdd:
		return messageEvent(t, wire.AppKeyStatus{Status: status, NetKeyIndex: r.NetKeyIndex, AppKeyIndex: r.AppKeyIndex})
	case wire.ModelAppBind:
		return messageEvent(t, wire.ModelAppStatus{Status: status, ElementAddress: r.ElementAddress, AppKeyIndex: r.AppKeyIndex, Model: r.Model})
	case wire.ModelPublicationSet:
		return messageEvent(t, wire.ModelPublicationStatus{Status: status, Publication: r.Publication})
	case wire.ModelSubscriptionAdd:
		return messageEvent(t, wire.ModelSubscriptionStatus{Status: status, ElementAddress: r.ElementAddress, Address: r.Address, Model: r.Model})
	}
	t.Fatalf("no acknowledgement for %T", req)
	return Event{}
}

func vendor(id uint16) wire.ModelID {
	return wire.ModelID{CompanyID: wire.CompanyIDNordic, ModelID: id}
}

// compositionBlob encodes page 0 with one element per vendor list. The
// primary element also hosts the configuration and health servers.
func compositionBlob(elements ...[]wire.ModelID) []byte {
	h := composition.Header{CompanyID: wire.CompanyIDNordic, ProductID: 0x0001, VersionID: 0x0001, CRPL: 8, Features: composition.FeatureRelay}
	elems := make([]composition.Element, 0, len(elements))
	for i, v := range elements {
		e := composition.Element{Location: uint16(i), VendorModels: v}
		if i == 0 {
			e.SIGModels = []uint16{wire.ModelIDConfigServer, wire.ModelIDHealthServer}
		}
		elems = append(elems, e)
	}
	return composition.Encode(h, elems)
}

func sentSteps(msgs []wire.Message) []wire.Opcode {
	ops := make([]wire.Opcode, 0, len(msgs))
	for _, m := range msgs {
		ops = append(ops, m.Opcode())
	}
	return ops
}
