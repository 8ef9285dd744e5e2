package dht

import "errors"

// Error taxonomy (spec.md §7). Each is a distinct sentinel so callers can
// use errors.Is. TransportError and StorageError are not returned bare:
// the sentinel is wrapped with %w and the underlying cause's message is
// appended with %v, so errors.Is matches the sentinel but not the cause.
var (
	// ErrInvalidKey is returned when a key presented to FIND_NODE,
	// FIND_VALUE or STORE is not a valid 160-bit hex value.
	ErrInvalidKey = errors.New("dht: invalid key")

	// ErrKeyHashMismatch is returned by STORE when hash160(blob) != key.
	ErrKeyHashMismatch = errors.New("dht: key does not match hash160(blob)")

	// ErrTransport wraps any failure from an outbound RPC. Within a
	// lookup wave it is swallowed (the contact stays contacted, never
	// active) rather than propagated.
	ErrTransport = errors.New("dht: transport error")

	// ErrNoStorageTargets is returned by iterativeStore when zero
	// contacts confirmed the STORE.
	ErrNoStorageTargets = errors.New("dht: no storage targets accepted the value")

	// ErrJoinFailed is returned by join when the bootstrap lookup fails.
	ErrJoinFailed = errors.New("dht: join failed")

	// ErrStorage wraps a storage_get/put/delete failure. In FIND_VALUE
	// this is treated as "not found" and falls through to FIND_NODE
	// semantics rather than propagating.
	ErrStorage = errors.New("dht: storage error")
)
