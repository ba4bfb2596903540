// Sequence: an ordered FIFO of tasks that at most one thread may run from at
// a time (spec §3, §4.1).

package tasksched_internal

import (
	"sync"
	"time"
)

// SequenceSortKey orders Sequences in the PriorityQueue: higher priority
// first, then older sequenced time first.
type SequenceSortKey struct {
	Priority      Priority
	SequencedTime time.Time
}

// Less reports whether k sorts before other, i.e. other should be popped
// first. Used by the priority queue's heap comparator.
func (k SequenceSortKey) Less(other SequenceSortKey) bool {
	if k.Priority != other.Priority {
		return k.Priority < other.Priority
	}
	return other.SequencedTime.Before(k.SequencedTime)
}

// Sequence is a FIFO of *Task slots sharing one set of traits, guarded by its
// own lock so that exactly one transaction is ever live at a time.
type Sequence struct {
	mu sync.Mutex

	traits TaskTraits
	tasks  []*Task

	// perPriorityCount[p] counts queued tasks with priority p; sort_key is
	// derived from the highest non-zero entry (spec §4.1).
	perPriorityCount [UserBlocking + 1]int

	// heapIndex is maintained by PriorityQueue for O(log n) removal/update;
	// -1 when not present in any queue.
	heapIndex int

	// inPriorityQueue tracks whether this sequence currently sits in a
	// pool's PriorityQueue (spec invariant: no concurrent execution and
	// queue membership).
	inPriorityQueue bool
}

func NewSequence(traits TaskTraits) *Sequence {
	return &Sequence{traits: traits, heapIndex: -1}
}

func (s *Sequence) Traits() TaskTraits { return s.traits }

// SequenceTransaction is a scoped exclusive-access handle on a Sequence. It
// must not outlive the Sequence and exactly one may be live at a time;
// acquiring one blocks until any other completes.
type SequenceTransaction struct {
	seq *Sequence
}

// BeginTransaction locks the sequence and returns a handle exposing
// push/take/sort-key operations. Callers must call End() (or use defer).
func (s *Sequence) BeginTransaction() *SequenceTransaction {
	BeforeLock("sequence")
	s.mu.Lock()
	return &SequenceTransaction{seq: s}
}

func (txn *SequenceTransaction) End() {
	txn.seq.mu.Unlock()
	AfterUnlock("sequence")
}

func (txn *SequenceTransaction) Sequence() *Sequence { return txn.seq }

// Push appends task to the back of the sequence and returns whether the
// sequence was empty before the push. task.numQueuedAhead is stamped with
// the number of tasks already queued in front of it.
func (txn *SequenceTransaction) Push(task *Task) (wasEmpty bool) {
	s := txn.seq
	wasEmpty = len(s.tasks) == 0
	task.numQueuedAhead = len(s.tasks)
	s.tasks = append(s.tasks, task)
	s.perPriorityCount[task.traits.priority]++
	if wasEmpty {
		task.sequencedTime = time.Now()
	}
	return wasEmpty
}

// TakeFront removes and returns the front task. Must not be called on an
// empty sequence.
func (txn *SequenceTransaction) TakeFront() *Task {
	s := txn.seq
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	s.perPriorityCount[task.traits.priority]--
	if len(s.tasks) > 0 {
		s.tasks[0].sequencedTime = time.Now()
	}
	return task
}

func (txn *SequenceTransaction) IsEmpty() bool { return len(txn.seq.tasks) == 0 }

func (txn *SequenceTransaction) Front() *Task {
	if len(txn.seq.tasks) == 0 {
		return nil
	}
	return txn.seq.tasks[0]
}

// SortKey returns (max priority with a queued task, front task's sequenced
// time). Must not be called on an empty sequence.
func (txn *SequenceTransaction) SortKey() SequenceSortKey {
	s := txn.seq
	highest := BestEffort
	for p := UserBlocking; p >= BestEffort; p-- {
		if s.perPriorityCount[p] > 0 {
			highest = p
			break
		}
	}
	return SequenceSortKey{Priority: highest, SequencedTime: s.tasks[0].sequencedTime}
}
