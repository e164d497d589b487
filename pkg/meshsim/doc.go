// Package meshsim simulates configuration servers on a lossy mesh.
//
// A Network holds simulated Nodes. Each node answers configuration requests
// the way a config server does: it reports its composition data, stores
// application keys, and tracks model bindings, publications and
// subscriptions. A Client sends requests to the bound node through a
// single-slot bearer with latency, message loss, spurious busy slots and
// duplicate deliveries, and implements the nodesetup client interfaces.
//
// The simulation backs the provisioner CLI's demo mode and the end-to-end
// tests.
package meshsim
