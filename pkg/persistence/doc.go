// Package persistence stores the provisioner's network state as JSON.
//
// The state records the keys handed to nodes, the next unicast address to
// allocate, and the configuration outcome of every known node, so that a
// restarted provisioner resumes where it stopped instead of reconfiguring
// the whole network.
package persistence
