package meshsim

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/citymesh/meshcfg-go/pkg/log"
	"github.com/citymesh/meshcfg-go/pkg/nodesetup"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

// ErrNotBound is returned by Send before Bind succeeded.
var ErrNotBound = errors.New("client not bound to a node")

// ClientConfig configures the simulated bearer.
type ClientConfig struct {
	// Latency is the one-way delivery delay.
	Latency time.Duration `yaml:"latency"`

	// AckTimeout is how long a request waits for its status message.
	AckTimeout time.Duration `yaml:"ackTimeout"`

	// DropRate is the probability that a request or a response is lost.
	DropRate float64 `yaml:"dropRate"`

	// BusyRate is the probability that Send finds the bearer busy even
	// though no request is pending.
	BusyRate float64 `yaml:"busyRate"`

	// DuplicateRate is the probability that a response is delivered twice.
	DuplicateRate float64 `yaml:"duplicateRate"`

	// Seed fixes the loss pattern. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`

	Logger         *slog.Logger `yaml:"-"`
	ProtocolLogger log.Logger   `yaml:"-"`
}

// DefaultClientConfig returns a lossless bearer with short latency.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Latency:    20 * time.Millisecond,
		AckTimeout: 500 * time.Millisecond,
	}
}

// Stats counts bearer activity.
type Stats struct {
	Sent       int
	Delivered  int
	Dropped    int
	Busy       int
	Timeouts   int
	Duplicates int
}

// Client is a config client talking to one simulated node at a time.
// It implements nodesetup.ConfigClient and nodesetup.Binder. Events are
// delivered to the receiver from timer goroutines.
type Client struct {
	mu sync.Mutex

	cfg ClientConfig
	net *Network
	rng *rand.Rand

	bound    *Node
	receiver func(nodesetup.Event)

	pending bool
	seq     uint64
	timeout *time.Timer

	stats Stats
}

// NewClient creates a client on net.
func NewClient(net *Network, cfg ClientConfig) *Client {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultClientConfig().AckTimeout
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Client{
		cfg: cfg,
		net: net,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// SetReceiver sets the function that receives transport events.
func (c *Client) SetReceiver(fn func(nodesetup.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receiver = fn
}

// Bind directs subsequent requests to the node at address.
func (c *Client) Bind(address uint16) error {
	node, ok := c.net.Node(address)
	if !ok {
		return fmt.Errorf("%w: 0x%04X", ErrUnknownNode, address)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = node
	return nil
}

// Send transmits msg to the bound node. It returns nodesetup.ErrBusy while
// a previous request awaits its acknowledgement.
func (c *Client) Send(msg wire.Message) error {
	pdu, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bound == nil {
		return ErrNotBound
	}
	if c.pending || c.roll(c.cfg.BusyRate) {
		c.stats.Busy++
		return nodesetup.ErrBusy
	}

	c.pending = true
	c.seq++
	seq := c.seq
	node := c.bound
	c.stats.Sent++

	c.timeout = time.AfterFunc(c.cfg.AckTimeout, func() { c.expire(seq) })

	if c.roll(c.cfg.DropRate) {
		c.stats.Dropped++
		c.trace(node.address, "request lost", msg.Opcode().String())
		return nil
	}
	dropResponse := c.roll(c.cfg.DropRate)
	duplicate := c.roll(c.cfg.DuplicateRate)

	time.AfterFunc(c.cfg.Latency, func() {
		c.arrive(seq, node, pdu, dropResponse, duplicate)
	})
	return nil
}

// CancelPending frees the send slot. A late response to the cancelled
// request is still delivered.
func (c *Client) CancelPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	c.seq++
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
}

// Stats returns a snapshot of the bearer counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// arrive runs on the node side of the bearer.
func (c *Client) arrive(seq uint64, node *Node, pdu []byte, dropResponse, duplicate bool) {
	req, err := wire.DecodePDU(pdu)
	if err != nil {
		c.warnLog("node could not decode request", "node", fmt.Sprintf("0x%04X", node.address), "error", err)
		return
	}
	resp := node.Handle(req)
	if resp == nil {
		return
	}
	out, err := wire.Encode(resp)
	if err != nil {
		c.warnLog("node could not encode response", "node", fmt.Sprintf("0x%04X", node.address), "error", err)
		return
	}

	if dropResponse {
		c.mu.Lock()
		c.stats.Dropped++
		c.mu.Unlock()
		c.trace(node.address, "response lost", resp.Opcode().String())
		return
	}

	time.AfterFunc(c.cfg.Latency, func() { c.deliver(seq, out) })
	if duplicate {
		time.AfterFunc(2*c.cfg.Latency+time.Millisecond, func() {
			c.mu.Lock()
			c.stats.Duplicates++
			c.mu.Unlock()
			c.deliver(0, out)
		})
	}
}

// deliver hands a response to the receiver. Only the response to the
// pending request frees the send slot.
func (c *Client) deliver(seq uint64, pdu []byte) {
	op, params, err := wire.DecodeAccess(pdu)
	if err != nil {
		return
	}

	c.mu.Lock()
	if seq != 0 && seq == c.seq && c.pending {
		c.pending = false
		if c.timeout != nil {
			c.timeout.Stop()
			c.timeout = nil
		}
	}
	c.stats.Delivered++
	recv := c.receiver
	c.mu.Unlock()

	if recv != nil {
		recv(nodesetup.MessageEvent(op, params))
	}
}

func (c *Client) expire(seq uint64) {
	c.mu.Lock()
	if seq != c.seq || !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.timeout = nil
	c.stats.Timeouts++
	recv := c.receiver
	var addr uint16
	if c.bound != nil {
		addr = c.bound.address
	}
	c.mu.Unlock()

	c.trace(addr, "acknowledgement timeout", "")
	if recv != nil {
		recv(nodesetup.TimeoutEvent())
	}
}

// roll must be called with c.mu held.
func (c *Client) roll(p float64) bool {
	return p > 0 && c.rng.Float64() < p
}

func (c *Client) trace(addr uint16, what, context string) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug("bearer: "+what, "node", fmt.Sprintf("0x%04X", addr), "context", context)
	}
	if c.cfg.ProtocolLogger != nil {
		c.cfg.ProtocolLogger.Log(log.Event{
			Timestamp:   time.Now(),
			NodeAddress: addr,
			Layer:       log.LayerTransport,
			Category:    log.CategoryError,
			Error:       &log.ErrorEventData{Layer: log.LayerTransport, Message: what, Context: context},
		})
	}
}

func (c *Client) warnLog(msg string, args ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn(msg, args...)
	}
}

var (
	_ nodesetup.ConfigClient = (*Client)(nil)
	_ nodesetup.Binder       = (*Client)(nil)
)
