package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoutingTableRejectsSelf(t *testing.T) {
	local := mkFingerprint(1)
	rt := NewRoutingTable(local, K, nil)
	idx, ci := rt.AddContactByNodeID(local, Contact{Fingerprint: local})
	assert.Equal(t, -1, idx)
	assert.Equal(t, FullBucket, ci)
	assert.Equal(t, 0, rt.Size())
}

func TestRoutingTableAddAndGet(t *testing.T) {
	local := mkFingerprint(0)
	rt := NewRoutingTable(local, K, nil)
	c := mkContact(5)
	idx, ci := rt.AddContactByNodeID(c.Fingerprint, c)
	require.GreaterOrEqual(t, idx, 0)
	require.GreaterOrEqual(t, ci, 0)

	got, ok := rt.GetContactByNodeID(c.Fingerprint)
	require.True(t, ok)
	assert.Equal(t, c.Fingerprint, got.Fingerprint)
	assert.Equal(t, 1, rt.Size())
}

func TestRoutingTableHeadOfOutOfRange(t *testing.T) {
	rt := NewRoutingTable(mkFingerprint(0), K, nil)
	_, ok := rt.HeadOf(-1)
	assert.False(t, ok)
	_, ok = rt.HeadOf(B)
	assert.False(t, ok)
}

func TestRoutingTableOverflowReturnsFullBucket(t *testing.T) {
	local := mkFingerprint(0)
	rt := NewRoutingTable(local, 1, nil)

	var a, b Fingerprint
	a[0] = 0x80
	b[0] = 0x80
	b[1] = 0x01

	idx1, ci1 := rt.AddContactByNodeID(a, Contact{Fingerprint: a})
	require.GreaterOrEqual(t, ci1, 0)
	idx2, ci2 := rt.AddContactByNodeID(b, Contact{Fingerprint: b})
	require.Equal(t, idx1, idx2)
	assert.Equal(t, FullBucket, ci2)
}

func TestRoutingTableGetClosestContactsToKeySortedAndBounded(t *testing.T) {
	local := mkFingerprint(0)
	rt := NewRoutingTable(local, K, nil)
	for i := byte(1); i <= 10; i++ {
		c := mkContact(i)
		rt.AddContactByNodeID(c.Fingerprint, c)
	}

	var key Fingerprint
	got := rt.GetClosestContactsToKey(key, 3, false)
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		d1 := XOR(got[i-1].Fingerprint, key)
		d2 := XOR(got[i].Fingerprint, key)
		assert.True(t, d1.Compare(d2) <= 0)
	}
}

func TestRoutingTableRemoveAndContactDeletedObserver(t *testing.T) {
	observed := make(chan Fingerprint, 1)
	obs := &recordingObserver{deleted: observed}
	local := mkFingerprint(0)
	rt := NewRoutingTable(local, K, obs)
	c := mkContact(3)
	rt.AddContactByNodeID(c.Fingerprint, c)

	removed := rt.RemoveContactByNodeID(c.Fingerprint)
	assert.True(t, removed)
	select {
	case got := <-observed:
		assert.Equal(t, c.Fingerprint, got)
	default:
		t.Fatal("expected OnContactDeleted to fire")
	}
}

type recordingObserver struct {
	NopObserver
	deleted chan Fingerprint
}

func (r *recordingObserver) OnContactDeleted(fp Fingerprint) {
	r.deleted <- fp
}
