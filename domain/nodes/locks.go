package nodes

import (
	"hash/fnv"
	"sync"
)

// Sibling-chain mutations under one parent must be serialized or
// concurrent splices can leave two children with the same predecessor.
// A fixed pool of striped mutexes keyed by parent id bounds memory while
// serializing exactly the conflicting operations (modulo stripe
// collisions, which only cost parallelism).
const lockStripes = 64

type parentLocks struct {
	stripes [lockStripes]sync.Mutex
}

// rootStripeKey stands in for the nil parent of root nodes.
const rootStripeKey = ""

func stripeIndex(parentID *string) int {
	key := rootStripeKey
	if parentID != nil {
		key = *parentID
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % lockStripes)
}

// lock acquires the stripe for one parent and returns the unlock.
func (l *parentLocks) lock(parentID *string) func() {
	s := &l.stripes[stripeIndex(parentID)]
	s.Lock()
	return s.Unlock
}

// lockPair acquires the stripes for two parents in index order, so two
// concurrent moves between the same pair of parents can never deadlock.
func (l *parentLocks) lockPair(a, b *string) func() {
	ai, bi := stripeIndex(a), stripeIndex(b)
	if ai == bi {
		return l.lock(a)
	}
	if ai > bi {
		ai, bi = bi, ai
	}
	first, second := &l.stripes[ai], &l.stripes[bi]
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}
