package dht

import "sort"

// ContactList (the lookup "shortlist") holds the working contact set for
// one iterative lookup, sorted ascending by XOR distance from target,
// partitioned into contacted/active subsets. It is not safe for
// concurrent use; a lookup owns exactly one ContactList and serializes
// access to it itself (see Node's lookup loop).
type ContactList struct {
	target    Fingerprint
	contacts  []Contact
	contacted map[Fingerprint]bool
	active    map[Fingerprint]bool
}

// NewContactList creates a shortlist for target, seeded with initial
// (deduplicated, sorted) contacts.
func NewContactList(target Fingerprint, initial []Contact) *ContactList {
	cl := &ContactList{
		target:    target,
		contacted: make(map[Fingerprint]bool),
		active:    make(map[Fingerprint]bool),
	}
	cl.Add(initial)
	return cl
}

// Len returns the number of contacts currently in the shortlist.
func (cl *ContactList) Len() int {
	return len(cl.contacts)
}

// Closest returns the nearest contact to target, if the shortlist is
// non-empty.
func (cl *ContactList) Closest() (Contact, bool) {
	if len(cl.contacts) == 0 {
		return Contact{}, false
	}
	return cl.contacts[0], true
}

// Add inserts every contact whose fingerprint is not already present,
// re-sorts by ascending distance to target, and returns the subset that
// was actually newly inserted. Re-adding an already-present fingerprint
// is a no-op for that entry.
func (cl *ContactList) Add(contacts []Contact) []Contact {
	seen := make(map[Fingerprint]bool, len(cl.contacts))
	for _, c := range cl.contacts {
		seen[c.Fingerprint] = true
	}

	var added []Contact
	for _, c := range contacts {
		if seen[c.Fingerprint] {
			continue
		}
		seen[c.Fingerprint] = true
		cl.contacts = append(cl.contacts, c)
		added = append(added, c)
	}

	if len(added) > 0 {
		sort.SliceStable(cl.contacts, func(i, j int) bool {
			return XOR(cl.contacts[i].Fingerprint, cl.target).Less(XOR(cl.contacts[j].Fingerprint, cl.target))
		})
	}
	return added
}

// Contacted marks c's fingerprint as probed.
func (cl *ContactList) Contacted(c Contact) {
	cl.contacted[c.Fingerprint] = true
}

// HasContacted reports whether fp has already been probed in this lookup.
func (cl *ContactList) HasContacted(fp Fingerprint) bool {
	return cl.contacted[fp]
}

// Responded marks c's fingerprint as having answered, implying Contacted,
// and therefore active.
func (cl *ContactList) Responded(c Contact) {
	cl.contacted[c.Fingerprint] = true
	cl.active[c.Fingerprint] = true
}

// Active returns contacts, in distance order, whose fingerprints are in
// the active set.
func (cl *ContactList) Active() []Contact {
	var out []Contact
	for _, c := range cl.contacts {
		if cl.active[c.Fingerprint] {
			out = append(out, c)
		}
	}
	return out
}

// Uncontacted returns contacts, in distance order, not yet marked
// contacted.
func (cl *ContactList) Uncontacted() []Contact {
	var out []Contact
	for _, c := range cl.contacts {
		if !cl.contacted[c.Fingerprint] {
			out = append(out, c)
		}
	}
	return out
}
