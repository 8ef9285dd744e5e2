package dht

import "sort"

// FullBucket is the sentinel index returned by Bucket.Set when a new
// contact cannot be inserted because the bucket is already at capacity.
const FullBucket = -1

// Bucket is a capacity-K insertion-ordered mapping of fingerprint to
// contact. It is not concurrency-safe on its own; callers (RoutingTable)
// are responsible for serializing access, per spec.md §5.
//
// Order runs head (index 0, the probe target on overflow) to tail (the
// most recently touched entry). A brand new contact is prepended at the
// head; touching an existing contact moves it to the tail. Left alone,
// an entry drifts toward the head as its neighbors get touched and
// reinserted behind it: exactly the staleness signal head-probing acts
// on.
type Bucket struct {
	capacity int
	order    []Fingerprint
	contacts map[Fingerprint]Contact
}

// NewBucket creates an empty bucket with the given capacity.
func NewBucket(capacity int) *Bucket {
	return &Bucket{
		capacity: capacity,
		order:    make([]Fingerprint, 0, capacity),
		contacts: make(map[Fingerprint]Contact, capacity),
	}
}

// Len returns the number of contacts currently stored.
func (b *Bucket) Len() int {
	return len(b.order)
}

// Full reports whether the bucket is at capacity.
func (b *Bucket) Full() bool {
	return len(b.order) >= b.capacity
}

// Head returns the contact at index 0 (the head-probe target; the most
// recently inserted new contact, unless it has since been touched) and
// whether the bucket is non-empty.
func (b *Bucket) Head() (Contact, bool) {
	if len(b.order) == 0 {
		return Contact{}, false
	}
	return b.contacts[b.order[0]], true
}

// Tail returns the contact at the last index (the most recently touched
// existing contact, or the earliest inserted one if none has been
// touched) and whether the bucket is non-empty.
func (b *Bucket) Tail() (Contact, bool) {
	if len(b.order) == 0 {
		return Contact{}, false
	}
	return b.contacts[b.order[len(b.order)-1]], true
}

// IndexOf returns the position of fingerprint in the insertion order, or
// -1 if absent.
func (b *Bucket) IndexOf(fp Fingerprint) int {
	for i, f := range b.order {
		if f == fp {
			return i
		}
	}
	return -1
}

// Get returns the contact for fp, if present.
func (b *Bucket) Get(fp Fingerprint) (Contact, bool) {
	c, ok := b.contacts[fp]
	return c, ok
}

// Set touches an existing contact (moving it to the tail and returning
// its new index) or, if absent, prepends it at the head (index 0) when
// there is room. If the bucket is full and fp is not already present,
// Set returns FullBucket and does not mutate the bucket. The caller
// (RoutingTable, via Node.UpdateContact) is responsible for deciding
// whether to head-probe and retry.
func (b *Bucket) Set(fp Fingerprint, contact Contact) int {
	if idx := b.IndexOf(fp); idx >= 0 {
		b.order = append(b.order[:idx], b.order[idx+1:]...)
		b.order = append(b.order, fp)
		b.contacts[fp] = contact
		return len(b.order) - 1
	}

	if b.Full() {
		return FullBucket
	}

	b.order = append([]Fingerprint{fp}, b.order...)
	b.contacts[fp] = contact
	return 0
}

// Remove deletes fp from the bucket, if present, and reports whether it
// was found.
func (b *Bucket) Remove(fp Fingerprint) bool {
	idx := b.IndexOf(fp)
	if idx < 0 {
		return false
	}
	b.order = append(b.order[:idx], b.order[idx+1:]...)
	delete(b.contacts, fp)
	return true
}

// All returns every contact in the bucket, head to tail.
func (b *Bucket) All() []Contact {
	out := make([]Contact, 0, len(b.order))
	for _, fp := range b.order {
		out = append(out, b.contacts[fp])
	}
	return out
}

// ClosestToKey returns up to count contacts sorted ascending by XOR
// distance to key. When exclusive is true, a contact whose fingerprint
// equals key is omitted.
func (b *Bucket) ClosestToKey(key Fingerprint, count int, exclusive bool) []Contact {
	return closestN(b.All(), key, count, exclusive)
}

// closestN sorts contacts by ascending XOR distance to key and returns
// up to count of them, optionally excluding an exact match. Ties (equal
// distance) keep the relative order they arrived in, per spec.md §4.5's
// "first seen wins position" tie-break: sort.SliceStable guarantees this
// without an explicit position field to break ties on.
func closestN(contacts []Contact, key Fingerprint, count int, exclusive bool) []Contact {
	filtered := make([]Contact, 0, len(contacts))
	for _, c := range contacts {
		if exclusive && c.Fingerprint == key {
			continue
		}
		filtered = append(filtered, c)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return XOR(filtered[i].Fingerprint, key).Less(XOR(filtered[j].Fingerprint, key))
	})
	if count < len(filtered) {
		filtered = filtered[:count]
	}
	return filtered
}
