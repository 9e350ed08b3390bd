// ABOUTME: Size-bounded TTL window of claimed idempotency keys
// ABOUTME: Keys are indexed by xxhash digest; expiry is swept lazily on each claim

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

type entry struct {
	key     string
	digest  uint64
	claimed time.Time
}

// Window remembers keys for ttl after they are claimed, holding at most
// maxKeys. Entries are never refreshed, so the list stays in claim order
// and expiry only ever trims from the front.
type Window struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxKeys int
	// digests that collide share a bucket; keys are compared in full
	byHash map[uint64][]*list.Element
	order  *list.List
	now    func() time.Time
	sum    func(string) uint64
}

// NewWindow creates a Window.
func NewWindow(ttl time.Duration, maxKeys int) *Window {
	if maxKeys < 1 {
		maxKeys = 1
	}
	return &Window{
		ttl:     ttl,
		maxKeys: maxKeys,
		byHash:  make(map[uint64][]*list.Element),
		order:   list.New(),
		now:     time.Now,
		sum:     xxhash.Sum64String,
	}
}

// Claim records key and reports whether it was free. A false return means
// the key was claimed within the last ttl and the caller should treat the
// request as a replay.
func (w *Window) Claim(key string) bool {
	d := w.sum(key)
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.expireLocked(now)
	if w.findLocked(d, key) != nil {
		return false
	}
	if w.order.Len() >= w.maxKeys {
		w.removeLocked(w.order.Front())
	}
	w.byHash[d] = append(w.byHash[d], w.order.PushBack(entry{key: key, digest: d, claimed: now}))
	return true
}

// Release forgets key so a retry can go through, used when the claimed
// operation failed.
func (w *Window) Release(key string) {
	d := w.sum(key)

	w.mu.Lock()
	defer w.mu.Unlock()
	if el := w.findLocked(d, key); el != nil {
		w.removeLocked(el)
	}
}

// Len returns the number of live keys.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(w.now())
	return w.order.Len()
}

func (w *Window) expireLocked(now time.Time) {
	for el := w.order.Front(); el != nil; el = w.order.Front() {
		if now.Sub(el.Value.(entry).claimed) < w.ttl {
			return
		}
		w.removeLocked(el)
	}
}

func (w *Window) findLocked(d uint64, key string) *list.Element {
	for _, el := range w.byHash[d] {
		if el.Value.(entry).key == key {
			return el
		}
	}
	return nil
}

func (w *Window) removeLocked(el *list.Element) {
	w.order.Remove(el)
	d := el.Value.(entry).digest
	bucket := w.byHash[d]
	for i, other := range bucket {
		if other == el {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(w.byHash, d)
	} else {
		w.byHash[d] = bucket
	}
}
