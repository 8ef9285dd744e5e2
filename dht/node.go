package dht

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// pingRecord is one entry of the "pings table" of spec.md §3, consulted
// by UpdateContact to throttle head probes.
type pingRecord struct {
	at        time.Time
	responded bool
}

// Node is the DHT orchestrator: join, ping, the iterative lookup family,
// iterativeStore, and the replicate/expire/refresh maintenance loops. It
// is the single owner of routing-table mutation, per spec.md §5: every
// path that learns about a contact, whether from an inbound RPC
// (Protocol, via the ContactUpdater interface) or from a lookup result,
// funnels through Node.UpdateContact.
type Node struct {
	local    Contact
	rt       *RoutingTable
	outbox   Outbox
	storage  StorageAdapter
	observer Observer
	clock    Clock
	cfg      Config
	metrics  *Metrics

	mu      sync.Mutex
	pings   *lru.Cache[Fingerprint, pingRecord]
	lookups map[int]time.Time

	refreshSched *Scheduler
	maintSched   *Scheduler
}

// NewNode constructs a Node. observer and metrics may be nil.
func NewNode(local Contact, rt *RoutingTable, outbox Outbox, storage StorageAdapter, observer Observer, clock Clock, cfg Config, metrics *Metrics) *Node {
	if observer == nil {
		observer = NopObserver{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	pingCache, _ := lru.New[Fingerprint, pingRecord](cfg.K * B)
	return &Node{
		local:   local,
		rt:      rt,
		outbox:  outbox,
		storage: storage,
		observer: observer,
		clock:   clock,
		cfg:     cfg,
		metrics: metrics,
		pings:   pingCache,
		lookups: make(map[int]time.Time),
	}
}

// StartMaintenance launches the convoy-jittered refresh and
// replicate+expire timers described in spec.md §4.7. StopMaintenance
// ends them.
func (n *Node) StartMaintenance(ctx context.Context) {
	n.refreshSched = NewScheduler("refresh", n.cfg.Refresh, n.cfg.ConvoyJitter, func(ctx context.Context) {
		n.Refresh(ctx, 0)
	})
	n.maintSched = NewScheduler("replicate+expire", n.cfg.Replicate, n.cfg.ConvoyJitter, func(ctx context.Context) {
		if err := n.Replicate(ctx); err != nil {
			logrus.WithError(err).Warn("replicate pass failed")
		}
		if err := n.Expire(ctx); err != nil {
			logrus.WithError(err).Warn("expire pass failed")
		}
	})
	n.refreshSched.Start(ctx)
	n.maintSched.Start(ctx)
}

// StopMaintenance halts the background timers started by StartMaintenance.
func (n *Node) StopMaintenance() {
	if n.refreshSched != nil {
		n.refreshSched.Stop()
	}
	if n.maintSched != nil {
		n.maintSched.Stop()
	}
}

// Ping issues an outbound PING and returns the elapsed round trip time.
func (n *Node) Ping(ctx context.Context, c Contact) (time.Duration, error) {
	start := n.clock.Now()
	corrID := uuid.NewString()
	_, err := n.outbox.Send(ctx, MethodPing, PingParams{Local: n.local, CorrelationID: corrID}, c)
	if err != nil {
		logrus.WithFields(logrus.Fields{"correlation_id": corrID, "target": c.String()}).Debug("PING failed")
		return 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return n.clock.Now().Sub(start), nil
}

// UpdateContact implements ContactUpdater: the head-probe eviction
// discipline of spec.md §4.6 for a contact learned from any source.
func (n *Node) UpdateContact(ctx context.Context, c Contact) {
	if c.Fingerprint == n.rt.Local() {
		return
	}

	bucketIndex, contactIndex := n.rt.AddContactByNodeID(c.Fingerprint, c)
	if contactIndex >= 0 {
		return
	}

	head, ok := n.rt.HeadOf(bucketIndex)
	if !ok {
		// Bucket reported full but has no head: nothing sane to do.
		return
	}

	n.mu.Lock()
	rec, haveRec := n.pings.Get(head.Fingerprint)
	n.mu.Unlock()

	if haveRec && rec.responded && n.clock.Now().Sub(rec.at) < n.cfg.PingFreshness {
		logrus.WithFields(logrus.Fields{
			"bucket": bucketIndex,
			"head":   head.Fingerprint.String(),
		}).Debug("head-probe skipped: head recently responded")
		return
	}

	_, err := n.Ping(ctx, head)
	now := n.clock.Now()
	if err == nil {
		n.mu.Lock()
		n.pings.Add(head.Fingerprint, pingRecord{at: now, responded: true})
		n.mu.Unlock()
		n.metrics.HeadProbeHealthy.Inc()
		logrus.WithFields(logrus.Fields{
			"bucket": bucketIndex,
			"head":   head.Fingerprint.String(),
		}).Debug("head-probe succeeded: head retained, new contact dropped")
		return
	}

	n.mu.Lock()
	n.pings.Add(head.Fingerprint, pingRecord{at: now, responded: false})
	n.mu.Unlock()
	n.metrics.HeadProbeEvicted.Inc()
	n.rt.RemoveContactByNodeID(head.Fingerprint)
	n.rt.AddContactByNodeID(c.Fingerprint, c)
	logrus.WithFields(logrus.Fields{
		"bucket":  bucketIndex,
		"head":    head.Fingerprint.String(),
		"learned": c.Fingerprint.String(),
	}).Info("head-probe failed: head evicted, new contact inserted")
}

// lookupMethod parameterizes the shared iterative-search core of
// spec.md §4.5 over FIND_NODE and FIND_VALUE.
type lookupMethod int

const (
	lookupFindNode lookupMethod = iota
	lookupFindValue
)

// lookupOutcome is the result of the shared iterative search: either a
// StoredItem (FIND_VALUE only) or the shortlist's active contacts.
type lookupOutcome struct {
	value    *StoredItem
	contacts []Contact
}

// IterativeFindNode returns up to K active contacts closest to key.
func (n *Node) IterativeFindNode(ctx context.Context, key Fingerprint) ([]Contact, error) {
	out, err := n.iterativeSearch(ctx, key, lookupFindNode)
	if err != nil {
		return nil, err
	}
	return out.contacts, nil
}

// IterativeFindValue returns either a stored value (first found) or up
// to K active contacts closest to key. On a value hit it also fires a
// fire-and-forget STORE to the closest active contact that was seen
// without the value, per spec.md §4.5's caching behavior.
func (n *Node) IterativeFindValue(ctx context.Context, key Fingerprint) (*StoredItem, []Contact, error) {
	out, err := n.iterativeSearch(ctx, key, lookupFindValue)
	if err != nil {
		return nil, nil, err
	}
	return out.value, out.contacts, nil
}

// rpcResult is what a single in-flight lookup RPC reports back to the
// wave-processing loop.
type rpcResult struct {
	contact Contact
	find    *FindResult
	err     error
}

// iterativeSearch is the shared core described in spec.md §4.5.
func (n *Node) iterativeSearch(ctx context.Context, key Fingerprint, method lookupMethod) (lookupOutcome, error) {
	alpha := n.cfg.Alpha
	k := n.cfg.K

	seed := n.rt.GetClosestContactsToKey(key, alpha, false)
	shortlist := NewContactList(key, seed)
	closest, haveClosest := shortlist.Closest()

	n.mu.Lock()
	idx := BucketIndex(n.rt.Local(), key)
	if idx >= 0 && idx < B {
		n.lookups[idx] = n.clock.Now()
	}
	n.mu.Unlock()

	var closestMissingValue *Contact
	finishingTrip := false

	for {
		waveSize := alpha
		if finishingTrip {
			waveSize = k
		}

		wave := pickUncontacted(shortlist, waveSize)
		if len(wave) == 0 {
			return lookupOutcome{contacts: firstK(shortlist.Active(), k)}, nil
		}

		results := n.dispatchWave(ctx, shortlist, wave, method)

		valueFound, item := n.absorbWave(shortlist, results, method, &closestMissingValue)
		if valueFound {
			n.fireAndForgetStoreBack(closestMissingValue, key, *item)
			return lookupOutcome{value: item}, nil
		}

		if finishingTrip {
			// Resolve regardless of outcome: the finishing trip is the last
			// word, per spec.md §4.5 step 4.
			return lookupOutcome{contacts: firstK(shortlist.Active(), k)}, nil
		}

		if shortlist.Len() >= k && len(shortlist.Active()) >= k {
			return lookupOutcome{contacts: firstK(shortlist.Active(), k)}, nil
		}

		newClosest, ok := shortlist.Closest()
		improved := ok && (!haveClosest || XOR(newClosest.Fingerprint, key).Less(XOR(closest.Fingerprint, key)))

		if !improved {
			finishingTrip = true
			continue
		}

		closest, haveClosest = newClosest, true
	}
}

// pickUncontacted selects up to waveSize uncontacted candidates and marks
// them contacted before returning. Called with Alpha for a normal wave
// and K for the finishing trip, per spec.md §4.5 steps 2 and 4: mark
// contacted before issuing.
func pickUncontacted(shortlist *ContactList, waveSize int) []Contact {
	uncontacted := shortlist.Uncontacted()
	if len(uncontacted) > waveSize {
		uncontacted = uncontacted[:waveSize]
	}
	for _, c := range uncontacted {
		shortlist.Contacted(c)
	}
	return uncontacted
}

// dispatchWave issues concurrent RPCs (FIND_NODE or FIND_VALUE) to wave
// and collects every result before returning.
func (n *Node) dispatchWave(ctx context.Context, shortlist *ContactList, wave []Contact, method lookupMethod) []rpcResult {
	results := make([]rpcResult, len(wave))
	var wg sync.WaitGroup
	wg.Add(len(wave))
	for i, c := range wave {
		go func(i int, c Contact) {
			defer wg.Done()
			rpcMethod := MethodFindNode
			if method == lookupFindValue {
				rpcMethod = MethodFindValue
			}
			raw, err := n.outbox.Send(ctx, rpcMethod, FindParams{Key: shortlist.target, Local: n.local, CorrelationID: uuid.NewString()}, c)
			if err != nil {
				results[i] = rpcResult{contact: c, err: fmt.Errorf("%w: %v", ErrTransport, err)}
				return
			}
			fr, ok := raw.(FindResult)
			if !ok {
				results[i] = rpcResult{contact: c, err: fmt.Errorf("%w: unexpected result type from outbox", ErrTransport)}
				return
			}
			results[i] = rpcResult{contact: c, find: &fr}
		}(i, c)
	}
	wg.Wait()
	return results
}

// absorbWave merges a wave's results into shortlist, invoking
// UpdateContact for newly discovered contacts. It returns (true, item)
// the moment a FIND_VALUE RPC returns a value.
func (n *Node) absorbWave(shortlist *ContactList, results []rpcResult, method lookupMethod, closestMissingValue **Contact) (bool, *StoredItem) {
	for _, r := range results {
		if r.err != nil {
			n.metrics.LookupTimeouts.Inc()
			continue // contact stays contacted, never active, per spec.md §7
		}

		if method == lookupFindValue && r.find.Value != nil {
			shortlist.Responded(r.contact)
			return true, r.find.Value
		}

		shortlist.Responded(r.contact)
		if method == lookupFindValue {
			trackClosestMissingValue(shortlist, r.contact, closestMissingValue)
		}

		added := shortlist.Add(r.find.Contacts)
		for _, nc := range added {
			n.UpdateContact(context.Background(), nc)
		}
	}
	return false, nil
}

// trackClosestMissingValue maintains "the closest active contact
// encountered before the value was returned" per spec.md §4.5/§9, used
// as the STORE-back target when a FIND_VALUE search completes.
func trackClosestMissingValue(shortlist *ContactList, responded Contact, closestMissingValue **Contact) {
	if *closestMissingValue == nil || XOR(responded.Fingerprint, shortlist.target).Less(XOR((*closestMissingValue).Fingerprint, shortlist.target)) {
		c := responded
		*closestMissingValue = &c
	}
}

// fireAndForgetStoreBack dispatches the post-FIND_VALUE cache STORE
// without waiting for its result, per spec.md §4.5 step 2.
func (n *Node) fireAndForgetStoreBack(target *Contact, key Fingerprint, item StoredItem) {
	if target == nil {
		return
	}
	go func() {
		storeCtx, cancel := context.WithTimeout(context.Background(), n.cfg.ResponseTimeout)
		defer cancel()
		_, err := n.outbox.Send(storeCtx, MethodStore, StoreParams{Key: key, Item: item, Local: n.local, CorrelationID: uuid.NewString()}, *target)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"key":    key.String(),
				"target": target.Fingerprint.String(),
				"error":  err.Error(),
			}).Debug("fire-and-forget cache STORE failed")
		}
	}()
}

// firstK trims contacts to at most k entries.
func firstK(contacts []Contact, k int) []Contact {
	if len(contacts) > k {
		return contacts[:k]
	}
	return contacts
}

// IterativeStore wraps blob into a new StoredItem stamped with the current
// time and the local publisher, and dispatches STORE to the K closest
// contacts found by IterativeFindNode, using Alpha parallel workers draining a shared
// cursor over the target list. It resolves with the count of
// non-erroring responses, failing with ErrNoStorageTargets if that count
// is zero.
func (n *Node) IterativeStore(ctx context.Context, key Fingerprint, blob []byte) (int, error) {
	targets, err := n.IterativeFindNode(ctx, key)
	if err != nil {
		return 0, err
	}

	item := StoredItem{
		Blob: blob,
		Meta: Meta{Timestamp: n.clock.Now(), Publisher: n.local.Fingerprint},
	}

	stored, err := n.storeToTargets(ctx, key, item, targets)
	if err != nil {
		return 0, err
	}
	if stored == 0 {
		return 0, ErrNoStorageTargets
	}
	n.metrics.StoresIssued.Add(float64(stored))
	return stored, nil
}

// RepublishStore re-stores an already-materialized item (used by
// replicate()), refreshing its timestamp and normalizing its publisher,
// per spec.md §4.5's "stamp fresh timestamp, normalize publisher" note.
func (n *Node) RepublishStore(ctx context.Context, key Fingerprint, blob []byte, publisher Fingerprint) (int, error) {
	targets, err := n.IterativeFindNode(ctx, key)
	if err != nil {
		return 0, err
	}
	item := StoredItem{
		Blob: blob,
		Meta: Meta{Timestamp: n.clock.Now(), Publisher: publisher},
	}
	stored, err := n.storeToTargets(ctx, key, item, targets)
	if err != nil {
		return 0, err
	}
	if stored == 0 {
		return 0, ErrNoStorageTargets
	}
	return stored, nil
}

func (n *Node) storeToTargets(ctx context.Context, key Fingerprint, item StoredItem, targets []Contact) (int, error) {
	if len(targets) == 0 {
		return 0, nil
	}

	var cursor int32
	next := func() (Contact, bool) {
		n.mu.Lock()
		defer n.mu.Unlock()
		if int(cursor) >= len(targets) {
			return Contact{}, false
		}
		c := targets[cursor]
		cursor++
		return c, true
	}

	var stored int32
	workers := n.cfg.Alpha
	if workers > len(targets) {
		workers = len(targets)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for {
				c, ok := next()
				if !ok {
					return
				}
				corrID := uuid.NewString()
				_, err := n.outbox.Send(ctx, MethodStore, StoreParams{Key: key, Item: item, Local: n.local, CorrelationID: corrID}, c)
				if err != nil {
					logrus.WithFields(logrus.Fields{
						"key":            key.String(),
						"target":         c.Fingerprint.String(),
						"correlation_id": corrID,
						"error":          err.Error(),
					}).Debug("iterativeStore: target rejected or unreachable")
					continue
				}
				atomic.AddInt32(&stored, 1)
			}
		}()
	}
	wg.Wait()
	return int(stored), nil
}

// Join inserts seed, looks up the local identity to populate the
// routing table, and refreshes every bucket strictly beyond the closest
// non-empty one. It fails with ErrJoinFailed iff the initial lookup does.
func (n *Node) Join(ctx context.Context, seed Contact) error {
	n.UpdateContact(ctx, seed)

	if _, err := n.IterativeFindNode(ctx, n.rt.Local()); err != nil {
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}

	closest := n.rt.GetClosestBucket()
	n.Refresh(ctx, closest+1)
	return nil
}

// Refresh implements spec.md §4.7: it shuffles the bucket indices >=
// startIndex, generates a random key in the range of each bucket whose
// last lookup is stale, and runs IterativeFindNode against it, stopping
// early once MaxUnimprovedRefreshes consecutive rounds add nothing new.
func (n *Node) Refresh(ctx context.Context, startIndex int) {
	indices := make([]int, 0, B-startIndex)
	for i := startIndex; i < B; i++ {
		indices = append(indices, i)
	}
	rand.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })

	discovered := make(map[Fingerprint]bool)
	unimproved := 0

	for _, idx := range indices {
		n.mu.Lock()
		last, seen := n.lookups[idx]
		n.mu.Unlock()
		if seen && n.clock.Now().Sub(last) < n.cfg.Refresh {
			continue
		}

		target, err := RandomFingerprintInBucket(n.rt.Local(), idx)
		if err != nil {
			continue
		}

		contacts, err := n.IterativeFindNode(ctx, target)
		if err != nil {
			logrus.WithFields(logrus.Fields{"bucket": idx, "error": err.Error()}).Warn("refresh lookup failed")
			continue
		}

		newCount := 0
		for _, c := range contacts {
			n.UpdateContact(ctx, c)
			if !discovered[c.Fingerprint] {
				discovered[c.Fingerprint] = true
				newCount++
			}
		}

		if newCount == 0 {
			unimproved++
			if unimproved >= n.cfg.MaxUnimprovedRefreshes {
				logrus.WithField("rounds", unimproved).Debug("refresh stopping early: no new contacts discovered")
				return
			}
		} else {
			unimproved = 0
		}
	}
}

// Replicate streams stored items through the predicate of spec.md §4.7
// and re-pushes any that are due, via IterativeStore (local publisher,
// overdue republish) or RepublishStore (foreign publisher, overdue
// replication).
func (n *Node) Replicate(ctx context.Context) error {
	seq, err := n.storage.Scan(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	now := n.clock.Now()
	for item := range seq {
		key := Hash160(item.Blob)
		switch {
		case item.Meta.Publisher == n.local.Fingerprint && item.Meta.Timestamp.Add(n.cfg.Republish).Before(now.Add(time.Nanosecond)):
			if _, err := n.IterativeStore(ctx, key, item.Blob); err != nil {
				logrus.WithFields(logrus.Fields{"key": key.String(), "error": err.Error()}).Warn("republish failed")
			} else {
				n.metrics.ReplicationActions.Inc()
			}
		case item.Meta.Publisher != n.local.Fingerprint && item.Meta.Timestamp.Add(n.cfg.Replicate).Before(now.Add(time.Nanosecond)):
			if _, err := n.RepublishStore(ctx, key, item.Blob, item.Meta.Publisher); err != nil {
				logrus.WithFields(logrus.Fields{"key": key.String(), "error": err.Error()}).Warn("replicate failed")
			} else {
				n.metrics.ReplicationActions.Inc()
			}
		}
	}
	return nil
}

// Expire streams stored items and deletes any older than T_EXPIRE.
func (n *Node) Expire(ctx context.Context) error {
	seq, err := n.storage.Scan(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	now := n.clock.Now()
	for item := range seq {
		if item.Meta.Timestamp.Add(n.cfg.Expire).Before(now.Add(time.Nanosecond)) {
			key := Hash160(item.Blob)
			if err := n.storage.Delete(ctx, key); err != nil {
				logrus.WithFields(logrus.Fields{"key": key.String(), "error": err.Error()}).Warn("expire delete failed")
				continue
			}
			n.metrics.ExpirationActions.Inc()
		}
	}
	return nil
}
