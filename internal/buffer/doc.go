// Package buffer holds sensor readings while the uplink is unavailable.
//
// Each entry carries a CRC-32 over its fields computed at Add and checked on
// read; a mismatch surfaces as ErrIntegrity, never as data. When the buffer is
// full the oldest entry is overwritten and DataLoss reports true until Clear.
//
// Persist and Restore carry unread entries across a restart through the
// storage collaborator, encoded as CBOR.
package buffer
