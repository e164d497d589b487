package meshsim

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citymesh/meshcfg-go/pkg/composition"
	"github.com/citymesh/meshcfg-go/pkg/wire"
)

var (
	key     = bytes.Repeat([]byte{0x5A}, wire.KeySize)
	service = wire.ModelID{CompanyID: wire.CompanyIDNordic, ModelID: 0xC001}
	health  = wire.SIGModel(wire.ModelIDHealthServer)
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	n, err := NewNode(0x0100, composition.Header{CompanyID: wire.CompanyIDNordic, CRPL: 8}, []composition.Element{
		{Location: 1, VendorModels: []wire.ModelID{service}},
		{Location: 2, VendorModels: []wire.ModelID{{CompanyID: wire.CompanyIDNordic, ModelID: 0xC002}}},
	})
	require.NoError(t, err)
	return n
}

func status(t *testing.T, msg wire.Message) wire.Status {
	t.Helper()
	sm, ok := msg.(wire.StatusMessage)
	require.True(t, ok, "%T carries no status", msg)
	return sm.StatusCode()
}

func TestNewNode(t *testing.T) {
	n := newTestNode(t)
	assert.Equal(t, 2, n.ElementCount())

	elems, err := composition.Record{Data: n.CompositionData()}.Elements()
	require.NoError(t, err)
	assert.Equal(t, []uint16{wire.ModelIDConfigServer, wire.ModelIDHealthServer}, elems[0].SIGModels)
	assert.Equal(t, []wire.ModelID{service}, elems[0].VendorModels)

	_, err = NewNode(0xC000, composition.Header{}, nil)
	assert.Error(t, err)
	_, err = NewNode(0x7FFF, composition.Header{}, make([]composition.Element, 2))
	assert.Error(t, err)
}

func TestNodeCompositionDataGet(t *testing.T) {
	n := newTestNode(t)
	resp := n.Handle(wire.CompositionDataGet{Page: 0})

	cds, ok := resp.(wire.CompositionDataStatus)
	require.True(t, ok)
	assert.Equal(t, uint8(0), cds.Page)
	assert.Equal(t, n.CompositionData(), cds.Data)
}

func TestNodeAppKeyAdd(t *testing.T) {
	n := newTestNode(t)

	assert.Equal(t, wire.StatusSuccess, status(t, n.Handle(wire.AppKeyAdd{AppKeyIndex: 0, AppKey: key})))
	assert.Equal(t, wire.StatusSuccess, status(t, n.Handle(wire.AppKeyAdd{AppKeyIndex: 0, AppKey: key})), "same key again")

	other := bytes.Repeat([]byte{0x01}, wire.KeySize)
	assert.Equal(t, wire.StatusKeyIndexAlreadyStored, status(t, n.Handle(wire.AppKeyAdd{AppKeyIndex: 0, AppKey: other})))
	assert.Equal(t, wire.StatusInvalidNetKeyIndex, status(t, n.Handle(wire.AppKeyAdd{NetKeyIndex: 1, AppKeyIndex: 1, AppKey: key})))

	got, ok := n.AppKey(0)
	require.True(t, ok)
	assert.Equal(t, key, got)
}

func TestNodeBindPublishSubscribe(t *testing.T) {
	n := newTestNode(t)

	bind := wire.ModelAppBind{ElementAddress: 0x0100, AppKeyIndex: 0, Model: service}
	assert.Equal(t, wire.StatusInvalidAppKeyIndex, status(t, n.Handle(bind)), "no key yet")

	pub := wire.Publication{ElementAddress: 0x0100, PublishAddress: 0xC001, AppKeyIndex: 0, TTL: 30, Model: service}
	n.Handle(wire.AppKeyAdd{AppKeyIndex: 0, AppKey: key})
	assert.Equal(t, wire.StatusInvalidBinding, status(t, n.Handle(wire.ModelPublicationSet{Publication: pub})), "not bound")

	assert.Equal(t, wire.StatusSuccess, status(t, n.Handle(bind)))
	assert.True(t, n.Bound(0x0100, service, 0))

	resp := n.Handle(wire.ModelPublicationSet{Publication: pub})
	assert.Equal(t, wire.StatusSuccess, status(t, resp))
	assert.Equal(t, pub, resp.(wire.ModelPublicationStatus).Publication)
	got, ok := n.Publication(0x0100, service)
	require.True(t, ok)
	assert.Equal(t, pub, got)

	sub := wire.ModelSubscriptionAdd{ElementAddress: 0x0100, Address: 0xC001, Model: service}
	assert.Equal(t, wire.StatusSuccess, status(t, n.Handle(sub)))
	assert.Equal(t, wire.StatusSuccess, status(t, n.Handle(sub)))
	assert.Equal(t, []uint16{0xC001}, n.Subscriptions(0x0100, service))

	unicast := wire.ModelSubscriptionAdd{ElementAddress: 0x0100, Address: 0x0005, Model: service}
	assert.Equal(t, wire.StatusInvalidAddress, status(t, n.Handle(unicast)))
}

func TestNodeModelChecks(t *testing.T) {
	n := newTestNode(t)
	n.Handle(wire.AppKeyAdd{AppKeyIndex: 0, AppKey: key})

	tests := []struct {
		name string
		bind wire.ModelAppBind
		want wire.Status
	}{
		{"health on primary", wire.ModelAppBind{ElementAddress: 0x0100, Model: health}, wire.StatusSuccess},
		{"health on secondary", wire.ModelAppBind{ElementAddress: 0x0101, Model: health}, wire.StatusInvalidModel},
		{"service on wrong element", wire.ModelAppBind{ElementAddress: 0x0101, Model: service}, wire.StatusInvalidModel},
		{"element outside node", wire.ModelAppBind{ElementAddress: 0x0102, Model: service}, wire.StatusInvalidAddress},
		{"second element model", wire.ModelAppBind{ElementAddress: 0x0101, Model: wire.ModelID{CompanyID: wire.CompanyIDNordic, ModelID: 0xC002}}, wire.StatusSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status(t, n.Handle(tt.bind)))
		})
	}
}

func TestNodeRejectNext(t *testing.T) {
	n := newTestNode(t)
	n.Handle(wire.AppKeyAdd{AppKeyIndex: 0, AppKey: key})
	n.RejectNext(wire.OpModelAppStatus, wire.StatusCannotBind, 1)

	bind := wire.ModelAppBind{ElementAddress: 0x0100, Model: health}
	assert.Equal(t, wire.StatusCannotBind, status(t, n.Handle(bind)))
	assert.False(t, n.Bound(0x0100, health, 0))
	assert.Equal(t, wire.StatusSuccess, status(t, n.Handle(bind)))
	assert.Equal(t, 3, n.Requests())
}

func TestNetwork(t *testing.T) {
	net := NewNetwork()
	a := newTestNode(t)
	require.NoError(t, net.Add(a))

	overlap, err := NewNode(0x0101, composition.Header{}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, net.Add(overlap), ErrAddressConflict)

	b, err := NewNode(0x0010, composition.Header{}, nil)
	require.NoError(t, err)
	require.NoError(t, net.Add(b))

	nodes := net.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, uint16(0x0010), nodes[0].Address())

	_, ok := net.Node(0x0101)
	assert.False(t, ok, "lookup is by primary address")
}
