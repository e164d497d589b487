// Package provisioner drives node setup across a whole network.
//
// A Provisioner owns one nodesetup.Machine and a queue of nodes that joined
// the network but are not configured yet. It configures them one at a time.
// A node whose session fails is queued again after a backoff delay (see
// package retry) until it succeeds or its attempts run out.
//
// Every transport event, timer callback and command runs on a single
// goroutine (see Loop), which is the serialisation the state machine
// requires. The network state (keys, address allocation, per-node records)
// is persisted through a persistence.NetworkStateStore when one is
// configured.
//
// Basic usage:
//
//	p, err := provisioner.New(provisioner.DefaultConfig(), client)
//	if err != nil {
//	    return err
//	}
//	p.OnEvent(func(e provisioner.Event) { ... })
//	if err := p.Start(ctx); err != nil {
//	    return err
//	}
//	defer p.Stop()
//
//	addr, err := p.AddNode(ctx, provisioner.NodeSpec{Label: "lamp-1", Elements: 2}, nil)
package provisioner
