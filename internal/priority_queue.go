// PriorityQueue: a multiset of *Sequence ordered by SequenceSortKey, used as
// the pool's ready queue (spec §3, §4.2). Preempted best-effort sequences are
// kept separately, in TaskTracker's preemptedHeap.

package tasksched_internal

import (
	"container/heap"
	"sync"
)

type pqEntry struct {
	seq     *Sequence
	sortKey SequenceSortKey
}

// pqHeap implements container/heap.Interface over []*pqEntry, max-heap by
// SequenceSortKey (highest priority / oldest sequenced time at the top).
type pqHeap []*pqEntry

func (h pqHeap) Len() int { return len(h) }
func (h pqHeap) Less(i, j int) bool {
	// We want pop to return the greatest key, so invert Less's usual sense:
	// a "lesser" heap index holds the greater key.
	return h[j].sortKey.Less(h[i].sortKey)
}
func (h pqHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].seq.heapIndex = i
	h[j].seq.heapIndex = j
}
func (h *pqHeap) Push(x any) {
	e := x.(*pqEntry)
	e.seq.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *pqHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.seq.heapIndex = -1
	*h = old[:n-1]
	return e
}

// PriorityQueue is a locked multiset of Sequence references ordered by sort
// key, with per-priority counts for O(1) observability.
type PriorityQueue struct {
	mu               sync.Mutex
	h                pqHeap
	numWithPriority  [UserBlocking + 1]int
}

func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{h: pqHeap{}}
}

// lock/unlock bracket every pq.mu acquisition with the debug lock-order
// tracker (spec §5: PriorityQueue lock is a predecessor of the pool lock).
func (pq *PriorityQueue) lock() {
	BeforeLock("priorityqueue")
	pq.mu.Lock()
}

func (pq *PriorityQueue) unlock() {
	pq.mu.Unlock()
	AfterUnlock("priorityqueue")
}

// Push inserts seq with the given sort key. O(log n).
func (pq *PriorityQueue) Push(seq *Sequence, sortKey SequenceSortKey) {
	pq.lock()
	defer pq.unlock()
	seq.inPriorityQueue = true
	heap.Push(&pq.h, &pqEntry{seq: seq, sortKey: sortKey})
	pq.numWithPriority[sortKey.Priority]++
}

// PopHighest removes and returns the sequence with the greatest sort key.
// Undefined on an empty queue; callers must check IsEmpty first.
func (pq *PriorityQueue) PopHighest() *Sequence {
	pq.lock()
	defer pq.unlock()
	e := heap.Pop(&pq.h).(*pqEntry)
	e.seq.inPriorityQueue = false
	pq.numWithPriority[e.sortKey.Priority]--
	return e.seq
}

// TryPopHighest atomically checks and pops, avoiding the check-then-act race
// a separate IsEmpty+PopHighest pair would have under concurrent callers.
func (pq *PriorityQueue) TryPopHighest() (*Sequence, bool) {
	pq.lock()
	defer pq.unlock()
	if len(pq.h) == 0 {
		return nil, false
	}
	e := heap.Pop(&pq.h).(*pqEntry)
	e.seq.inPriorityQueue = false
	pq.numWithPriority[e.sortKey.Priority]--
	return e.seq, true
}

// PeekSortKey returns the top sort key without removing it. ok is false on
// an empty queue.
func (pq *PriorityQueue) PeekSortKey() (key SequenceSortKey, ok bool) {
	pq.lock()
	defer pq.unlock()
	if len(pq.h) == 0 {
		return SequenceSortKey{}, false
	}
	return pq.h[0].sortKey, true
}

// Remove removes seq by identity; reports whether it was present.
func (pq *PriorityQueue) Remove(seq *Sequence) bool {
	pq.lock()
	defer pq.unlock()
	idx := seq.heapIndex
	if idx < 0 || idx >= len(pq.h) || pq.h[idx].seq != seq {
		return false
	}
	e := heap.Remove(&pq.h, idx).(*pqEntry)
	e.seq.inPriorityQueue = false
	pq.numWithPriority[e.sortKey.Priority]--
	return true
}

// Update recomputes seq's position from a freshly-computed sort key
// (typically obtained via a SequenceTransaction on seq); no-op if seq isn't
// present.
func (pq *PriorityQueue) Update(seq *Sequence, newKey SequenceSortKey) {
	pq.lock()
	defer pq.unlock()
	idx := seq.heapIndex
	if idx < 0 || idx >= len(pq.h) || pq.h[idx].seq != seq {
		return
	}
	pq.numWithPriority[pq.h[idx].sortKey.Priority]--
	pq.h[idx].sortKey = newKey
	pq.numWithPriority[newKey.Priority]++
	heap.Fix(&pq.h, idx)
}

func (pq *PriorityQueue) IsEmpty() bool {
	pq.lock()
	defer pq.unlock()
	return len(pq.h) == 0
}

func (pq *PriorityQueue) Len() int {
	pq.lock()
	defer pq.unlock()
	return len(pq.h)
}

// NumWithPriority is an O(1) observer used for metrics/tests.
func (pq *PriorityQueue) NumWithPriority(p Priority) int {
	pq.lock()
	defer pq.unlock()
	return pq.numWithPriority[p]
}
