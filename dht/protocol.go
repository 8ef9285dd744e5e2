package dht

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ContactUpdater lets Protocol feed every RPC sender through the same
// head-probe discipline iterative lookups use when they discover a
// contact (spec.md §4.6). Node implements this; Protocol only needs the
// narrow capability, not the whole orchestrator.
type ContactUpdater interface {
	UpdateContact(ctx context.Context, c Contact)
}

// Protocol implements the four inbound RPC handlers a transport layer
// dispatches into. Every handler feeds the sender's contact through
// ContactUpdater before doing anything else, per spec.md §4.4.
type Protocol struct {
	routingTable *RoutingTable
	storage      StorageAdapter
	updater      ContactUpdater
	observer     Observer
	clock        Clock
	resultSize   int
}

// NewProtocol constructs a Protocol bound to the given routing table,
// storage adapter and contact updater. cfg.K governs how many contacts
// FIND_NODE/FIND_VALUE return.
func NewProtocol(rt *RoutingTable, storage StorageAdapter, updater ContactUpdater, observer Observer, clock Clock, cfg Config) *Protocol {
	if observer == nil {
		observer = NopObserver{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Protocol{
		routingTable: rt,
		storage:      storage,
		updater:      updater,
		observer:     observer,
		clock:        clock,
		resultSize:   cfg.K,
	}
}

// Ping responds with the current time. It never fails.
func (p *Protocol) Ping(ctx context.Context, sender Contact) (PingResult, error) {
	p.updater.UpdateContact(ctx, sender)
	return PingResult{Timestamp: p.clock.Now()}, nil
}

// Store validates that hash160(item.Blob) == key and, on success, asks
// the storage adapter to persist it.
func (p *Protocol) Store(ctx context.Context, keyHex string, item StoredItem, sender Contact) error {
	p.updater.UpdateContact(ctx, sender)

	key, err := ParseFingerprint(keyHex)
	if err != nil {
		return err
	}
	if got := Hash160(item.Blob); got != key {
		logrus.WithFields(logrus.Fields{
			"key":  key.String(),
			"from": sender.String(),
		}).Warn("STORE rejected: key does not match hash160(blob)")
		return fmt.Errorf("%w: key=%s hash160(blob)=%s", ErrKeyHashMismatch, key, got)
	}

	if err := p.storage.Put(ctx, key, item); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	p.observer.OnStoragePut(key, item)
	return nil
}

// FindNode validates key and responds with up to K contacts closest to
// it, sorted ascending by XOR distance.
func (p *Protocol) FindNode(ctx context.Context, keyHex string, sender Contact) (FindResult, error) {
	p.updater.UpdateContact(ctx, sender)

	key, err := ParseFingerprint(keyHex)
	if err != nil {
		return FindResult{}, err
	}
	return FindResult{Contacts: p.routingTable.GetClosestContactsToKey(key, p.resultSize, false)}, nil
}

// FindValue validates key and asks storage for it. If found, it returns
// the stored item; otherwise, including on a storage error (treated as
// "not found"), it falls back to FIND_NODE semantics.
func (p *Protocol) FindValue(ctx context.Context, keyHex string, sender Contact) (FindResult, error) {
	p.updater.UpdateContact(ctx, sender)

	key, err := ParseFingerprint(keyHex)
	if err != nil {
		return FindResult{}, err
	}

	item, found, err := p.storage.Get(ctx, key)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"key":   key.String(),
			"error": err.Error(),
		}).Debug("FIND_VALUE storage lookup failed, falling back to FIND_NODE")
		found = false
	}
	p.observer.OnStorageGet(key, item, found)

	if found {
		return FindResult{Value: &item}, nil
	}
	return FindResult{Contacts: p.routingTable.GetClosestContactsToKey(key, p.resultSize, false)}, nil
}
