// Package wire defines the mesh configuration message formats used by the
// provisioner.
//
// Configuration messages are access-layer PDUs: a 1 or 2 byte opcode followed
// by a packed little-endian parameter block. The layouts are fixed by the mesh
// configuration model and are encoded here field by field.
//
// # Messages
//
// Requests (provisioner to node):
//   - CompositionDataGet
//   - AppKeyAdd
//   - ModelAppBind
//   - ModelPublicationSet
//   - ModelSubscriptionAdd
//
// Each request is acknowledged by exactly one status message:
//   - CompositionDataStatus (no status field)
//   - AppKeyStatus
//   - ModelAppStatus
//   - ModelPublicationStatus
//   - ModelSubscriptionStatus
//
// # Model Identifiers
//
// SIG models are encoded as a 2 byte model ID. Vendor models are encoded as
// 4 bytes: company ID followed by model ID. CompanyIDNone marks a SIG model.
package wire
