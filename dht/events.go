package dht

import (
	"context"
	"iter"
	"time"
)

// Method names the four RPCs the transport layer dispatches on behalf of
// the core, and that Protocol handles on the inbound side.
type Method string

const (
	MethodPing      Method = "PING"
	MethodStore     Method = "STORE"
	MethodFindNode  Method = "FIND_NODE"
	MethodFindValue Method = "FIND_VALUE"
)

// Meta is the metadata half of a StoredItem.
type Meta struct {
	Timestamp time.Time
	Publisher Fingerprint
}

// StoredItem is the opaque-to-the-core unit of DHT storage.
type StoredItem struct {
	Blob []byte
	Meta Meta
}

// PingResult is the response shape of a PING RPC: a single timestamp.
type PingResult struct {
	Timestamp time.Time
}

// FindResult is the response of a FIND_NODE/FIND_VALUE RPC. Exactly one
// of Contacts or Value is populated: FIND_NODE always returns Contacts;
// FIND_VALUE returns Value when the target storage adapter had it, else
// falls back to Contacts.
type FindResult struct {
	Contacts []Contact
	Value    *StoredItem
}

// Outbox is the capability the core uses to dispatch outbound RPCs. An
// implementation owns serialization, transport and the RPC-level timeout;
// to the core, a timeout is indistinguishable from any other error.
//
// Outbox reifies spec.md §6's "message_queued(method, params, target,
// respond)" event as a single blocking call returning a typed result,
// resolving the "promise vs. callback" ambiguity the source exhibited:
// every RPC completes exactly once, as a function return.
type Outbox interface {
	Send(ctx context.Context, method Method, params any, target Contact) (any, error)
}

// StorageAdapter is the capability through which the core reads, writes,
// deletes and scans DHT values. Persistence itself stays external.
type StorageAdapter interface {
	Get(ctx context.Context, key Fingerprint) (StoredItem, bool, error)
	Put(ctx context.Context, key Fingerprint, item StoredItem) error
	Delete(ctx context.Context, key Fingerprint) error
	// Scan yields every stored item. Implementations may stream from
	// disk; the core consumes one item at a time (no unbounded buffering).
	Scan(ctx context.Context) (iter.Seq[StoredItem], error)
}

// Observer receives the core's observability events. A nil Observer is
// valid; Node treats every call as optional.
type Observer interface {
	OnContactAdded(Fingerprint)
	OnContactDeleted(Fingerprint)
	OnStoragePut(Fingerprint, StoredItem)
	OnStorageGet(key Fingerprint, item StoredItem, found bool)
}

// NopObserver implements Observer with no-ops, used when the caller
// passes a nil Observer into NewNode.
type NopObserver struct{}

func (NopObserver) OnContactAdded(Fingerprint)                 {}
func (NopObserver) OnContactDeleted(Fingerprint)               {}
func (NopObserver) OnStoragePut(Fingerprint, StoredItem)       {}
func (NopObserver) OnStorageGet(Fingerprint, StoredItem, bool) {}

// PingParams/StoreParams/FindParams are the concrete params shapes
// Outbox.Send receives for each Method, per spec.md §6. Each carries a
// CorrelationID so a transport/observability layer can tie an outbound
// RPC to its eventual response or timeout in logs and traces.
type PingParams struct {
	Local         Contact
	CorrelationID string
}

type StoreParams struct {
	Key           Fingerprint
	Item          StoredItem
	Local         Contact
	CorrelationID string
}

type FindParams struct {
	Key           Fingerprint
	Local         Contact
	CorrelationID string
}
