package dht

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAddr string

func (a stubAddr) String() string { return string(a) }

func mkFingerprint(b byte) Fingerprint {
	var f Fingerprint
	f[FingerprintSize-1] = b
	return f
}

func mkContact(b byte) Contact {
	fp := mkFingerprint(b)
	return Contact{Fingerprint: fp, Address: stubAddr(fp.String())}
}

func TestBucketSetInsertsAtHead(t *testing.T) {
	b := NewBucket(3)
	c1 := mkContact(1)
	c2 := mkContact(2)

	require.Equal(t, 0, b.Set(c1.Fingerprint, c1))
	require.Equal(t, 0, b.Set(c2.Fingerprint, c2))

	head, ok := b.Head()
	require.True(t, ok)
	assert.Equal(t, c2.Fingerprint, head.Fingerprint)

	tail, ok := b.Tail()
	require.True(t, ok)
	assert.Equal(t, c1.Fingerprint, tail.Fingerprint)
}

func TestBucketSetTouchesExistingToTail(t *testing.T) {
	b := NewBucket(3)
	c1, c2 := mkContact(1), mkContact(2)
	b.Set(c1.Fingerprint, c1)
	b.Set(c2.Fingerprint, c2)

	b.Set(c1.Fingerprint, c1)

	tail, ok := b.Tail()
	require.True(t, ok)
	assert.Equal(t, c1.Fingerprint, tail.Fingerprint)

	head, ok := b.Head()
	require.True(t, ok)
	assert.Equal(t, c2.Fingerprint, head.Fingerprint)
}

func TestBucketSetReturnsFullBucketWhenFullAndAbsent(t *testing.T) {
	b := NewBucket(1)
	c1, c2 := mkContact(1), mkContact(2)
	require.Equal(t, 0, b.Set(c1.Fingerprint, c1))
	assert.Equal(t, FullBucket, b.Set(c2.Fingerprint, c2))
	assert.Equal(t, 1, b.Len())
}

func TestBucketRemove(t *testing.T) {
	b := NewBucket(2)
	c1 := mkContact(1)
	b.Set(c1.Fingerprint, c1)
	assert.True(t, b.Remove(c1.Fingerprint))
	assert.False(t, b.Remove(c1.Fingerprint))
	assert.Equal(t, 0, b.Len())
}

func TestBucketClosestToKeyOrdersByDistance(t *testing.T) {
	b := NewBucket(5)
	var key Fingerprint
	for i := byte(1); i <= 4; i++ {
		c := mkContact(i)
		b.Set(c.Fingerprint, c)
	}
	closest := b.ClosestToKey(key, 5, false)
	require.Len(t, closest, 4)
	for i := 1; i < len(closest); i++ {
		d1 := XOR(closest[i-1].Fingerprint, key)
		d2 := XOR(closest[i].Fingerprint, key)
		assert.True(t, d1.Compare(d2) <= 0)
	}
}

func TestBucketClosestToKeyExclusive(t *testing.T) {
	b := NewBucket(5)
	c := mkContact(9)
	b.Set(c.Fingerprint, c)
	closest := b.ClosestToKey(c.Fingerprint, 5, true)
	assert.Empty(t, closest)
}
