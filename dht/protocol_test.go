package dht

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStorage struct {
	items map[Fingerprint]StoredItem
	err   error
}

func newMemStorage() *memStorage {
	return &memStorage{items: make(map[Fingerprint]StoredItem)}
}

func (m *memStorage) Get(ctx context.Context, key Fingerprint) (StoredItem, bool, error) {
	if m.err != nil {
		return StoredItem{}, false, m.err
	}
	item, ok := m.items[key]
	return item, ok, nil
}

func (m *memStorage) Put(ctx context.Context, key Fingerprint, item StoredItem) error {
	if m.err != nil {
		return m.err
	}
	m.items[key] = item
	return nil
}

func (m *memStorage) Delete(ctx context.Context, key Fingerprint) error {
	delete(m.items, key)
	return nil
}

func (m *memStorage) Scan(ctx context.Context) (iter.Seq[StoredItem], error) {
	return func(yield func(StoredItem) bool) {
		for _, item := range m.items {
			if !yield(item) {
				return
			}
		}
	}, nil
}

type recordingUpdater struct {
	updated []Contact
}

func (r *recordingUpdater) UpdateContact(ctx context.Context, c Contact) {
	r.updated = append(r.updated, c)
}

func TestProtocolPingUpdatesContactAndReturnsTimestamp(t *testing.T) {
	rt := NewRoutingTable(mkFingerprint(0), K, nil)
	updater := &recordingUpdater{}
	clock := fixedClock{at: time.Unix(100, 0)}
	p := NewProtocol(rt, newMemStorage(), updater, nil, clock, DefaultConfig())

	sender := mkContact(7)
	result, err := p.Ping(context.Background(), sender)
	require.NoError(t, err)
	assert.True(t, result.Timestamp.Equal(clock.at))
	require.Len(t, updater.updated, 1)
	assert.Equal(t, sender.Fingerprint, updater.updated[0].Fingerprint)
}

func TestProtocolStoreRejectsHashMismatch(t *testing.T) {
	rt := NewRoutingTable(mkFingerprint(0), K, nil)
	storage := newMemStorage()
	p := NewProtocol(rt, storage, &recordingUpdater{}, nil, nil, DefaultConfig())

	blob := []byte("value")
	wrongKey := Hash160([]byte("not the value"))
	err := p.Store(context.Background(), wrongKey.String(), StoredItem{Blob: blob}, mkContact(1))
	assert.ErrorIs(t, err, ErrKeyHashMismatch)
	assert.Empty(t, storage.items)
}

func TestProtocolStoreAcceptsMatchingHash(t *testing.T) {
	rt := NewRoutingTable(mkFingerprint(0), K, nil)
	storage := newMemStorage()
	p := NewProtocol(rt, storage, &recordingUpdater{}, nil, nil, DefaultConfig())

	blob := []byte("value")
	key := Hash160(blob)
	err := p.Store(context.Background(), key.String(), StoredItem{Blob: blob}, mkContact(1))
	require.NoError(t, err)
	_, ok := storage.items[key]
	assert.True(t, ok)
}

func TestProtocolFindNodeReturnsClosestContacts(t *testing.T) {
	rt := NewRoutingTable(mkFingerprint(0), K, nil)
	for i := byte(1); i <= 5; i++ {
		c := mkContact(i)
		rt.AddContactByNodeID(c.Fingerprint, c)
	}
	cfg := DefaultConfig()
	cfg.K = 3
	p := NewProtocol(rt, newMemStorage(), &recordingUpdater{}, nil, nil, cfg)

	var key Fingerprint
	result, err := p.FindNode(context.Background(), key.String(), mkContact(9))
	require.NoError(t, err)
	assert.Len(t, result.Contacts, 3)
	assert.Nil(t, result.Value)
}

func TestProtocolFindValueFallsBackToFindNodeWhenMissing(t *testing.T) {
	rt := NewRoutingTable(mkFingerprint(0), K, nil)
	c := mkContact(2)
	rt.AddContactByNodeID(c.Fingerprint, c)
	p := NewProtocol(rt, newMemStorage(), &recordingUpdater{}, nil, nil, DefaultConfig())

	var key Fingerprint
	result, err := p.FindValue(context.Background(), key.String(), mkContact(9))
	require.NoError(t, err)
	assert.Nil(t, result.Value)
	assert.NotEmpty(t, result.Contacts)
}

func TestProtocolFindValueReturnsStoredValue(t *testing.T) {
	rt := NewRoutingTable(mkFingerprint(0), K, nil)
	storage := newMemStorage()
	blob := []byte("payload")
	key := Hash160(blob)
	storage.items[key] = StoredItem{Blob: blob}
	p := NewProtocol(rt, storage, &recordingUpdater{}, nil, nil, DefaultConfig())

	result, err := p.FindValue(context.Background(), key.String(), mkContact(9))
	require.NoError(t, err)
	require.NotNil(t, result.Value)
	assert.Equal(t, blob, result.Value.Blob)
}

func TestProtocolFindValueTreatsStorageErrorAsNotFound(t *testing.T) {
	rt := NewRoutingTable(mkFingerprint(0), K, nil)
	storage := newMemStorage()
	storage.err = assertStorageError{}
	c := mkContact(2)
	rt.AddContactByNodeID(c.Fingerprint, c)
	p := NewProtocol(rt, storage, &recordingUpdater{}, nil, nil, DefaultConfig())

	var key Fingerprint
	result, err := p.FindValue(context.Background(), key.String(), mkContact(9))
	require.NoError(t, err)
	assert.Nil(t, result.Value)
}

type assertStorageError struct{}

func (assertStorageError) Error() string { return "storage unavailable" }

type fixedClock struct{ at time.Time }

func (f fixedClock) Now() time.Time { return f.at }
