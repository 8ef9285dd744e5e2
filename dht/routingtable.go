package dht

import "sync"

// RoutingTable is the B-bucket Kademlia routing structure for a single
// local identity. A contact with fingerprint F lives only in bucket
// BucketIndex(local, F); the local fingerprint itself is never stored.
//
// RoutingTable is safe for concurrent use: all mutation and iteration
// goes through rt.mu, realizing spec.md §5's exclusive-writer/
// shared-reader requirement in one place rather than per-bucket, since
// cross-bucket scans (getClosestContactsToKey) need a consistent view.
type RoutingTable struct {
	mu       sync.RWMutex
	local    Fingerprint
	buckets  [B]*Bucket
	observer Observer
}

// NewRoutingTable creates an empty routing table for local, with every
// bucket capacity-limited to bucketSize (K in production use).
func NewRoutingTable(local Fingerprint, bucketSize int, observer Observer) *RoutingTable {
	if observer == nil {
		observer = NopObserver{}
	}
	rt := &RoutingTable{local: local, observer: observer}
	for i := range rt.buckets {
		rt.buckets[i] = NewBucket(bucketSize)
	}
	return rt
}

// Local returns the routing table's own identity.
func (rt *RoutingTable) Local() Fingerprint {
	return rt.local
}

// Length returns B, the fixed number of buckets.
func (rt *RoutingTable) Length() int {
	return len(rt.buckets)
}

// Size returns the total number of contacts stored across all buckets.
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	total := 0
	for _, b := range rt.buckets {
		total += b.Len()
	}
	return total
}

// AddContactByNodeID routes contact to the bucket determined by
// BucketIndex(local, nodeID) and attempts to insert or touch it there. It
// returns the bucket index and the contactIndex Bucket.Set produced
// (FullBucket on overflow). Callers that need to inspect the bucket's
// head on overflow, e.g. Node.UpdateContact's eviction probe, use the
// separately-locked HeadOf rather than a bucket reference, so no caller
// ever inspects bucket state outside rt.mu.
//
// Self-contacts and contacts whose BucketIndex falls out of [0,B) (the
// zero-distance case) are rejected outright.
func (rt *RoutingTable) AddContactByNodeID(nodeID Fingerprint, contact Contact) (bucketIndex int, contactIndex int) {
	if nodeID == rt.local {
		return -1, FullBucket
	}
	idx := BucketIndex(rt.local, nodeID)
	if idx < 0 || idx >= len(rt.buckets) {
		return -1, FullBucket
	}

	rt.mu.Lock()
	ci := rt.buckets[idx].Set(nodeID, contact)
	rt.mu.Unlock()

	if ci >= 0 {
		rt.observer.OnContactAdded(nodeID)
	}
	return idx, ci
}

// HeadOf returns the head (probe-target) contact of bucket index, under
// the routing table's own lock.
func (rt *RoutingTable) HeadOf(index int) (Contact, bool) {
	if index < 0 || index >= len(rt.buckets) {
		return Contact{}, false
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.buckets[index].Head()
}

// RemoveContactByNodeID removes nodeID from its bucket, emitting
// contact_deleted if it was present.
func (rt *RoutingTable) RemoveContactByNodeID(nodeID Fingerprint) bool {
	idx := BucketIndex(rt.local, nodeID)
	if idx < 0 || idx >= len(rt.buckets) {
		return false
	}

	rt.mu.Lock()
	removed := rt.buckets[idx].Remove(nodeID)
	rt.mu.Unlock()

	if removed {
		rt.observer.OnContactDeleted(nodeID)
	}
	return removed
}

// GetContactByNodeID returns the contact for nodeID, if it is present in
// the routing table.
func (rt *RoutingTable) GetContactByNodeID(nodeID Fingerprint) (Contact, bool) {
	idx := BucketIndex(rt.local, nodeID)
	if idx < 0 || idx >= len(rt.buckets) {
		return Contact{}, false
	}
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.buckets[idx].Get(nodeID)
}

// IndexOf returns the bucket index nodeID would live in, regardless of
// whether it is currently present.
func (rt *RoutingTable) IndexOf(nodeID Fingerprint) int {
	return BucketIndex(rt.local, nodeID)
}

// GetClosestBucket returns the lowest-index non-empty bucket, or B-1 if
// every bucket is empty.
func (rt *RoutingTable) GetClosestBucket() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for i, b := range rt.buckets {
		if b.Len() > 0 {
			return i
		}
	}
	return len(rt.buckets) - 1
}

// GetClosestContactsToKey returns up to n contacts sorted ascending by
// XOR distance to key. It scans the bucket key would itself live in
// first, then walks outward (descending index, then ascending) until
// n contacts are gathered or every bucket has been visited.
func (rt *RoutingTable) GetClosestContactsToKey(key Fingerprint, n int, exclusive bool) []Contact {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	home := BucketIndex(rt.local, key)
	if home < 0 || home >= len(rt.buckets) {
		home = len(rt.buckets) - 1
	}

	visited := make([]bool, len(rt.buckets))
	var gathered []Contact

	visit := func(i int) {
		if i < 0 || i >= len(rt.buckets) || visited[i] {
			return
		}
		visited[i] = true
		gathered = append(gathered, rt.buckets[i].All()...)
	}

	visit(home)
	for lo, hi := home-1, home+1; lo >= 0 || hi < len(rt.buckets); lo, hi = lo-1, hi+1 {
		if len(gathered) >= n {
			break
		}
		visit(lo)
		visit(hi)
	}

	return closestN(gathered, key, n, exclusive)
}
