package tasksched_internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPriorityQueuePopOrdersByPriorityThenAge(t *testing.T) {
	pq := NewPriorityQueue()
	now := time.Now()

	beOld := NewSequence(DefaultTaskTraits().WithPriority(BestEffort))
	beNew := NewSequence(DefaultTaskTraits().WithPriority(BestEffort))
	ub := NewSequence(DefaultTaskTraits().WithPriority(UserBlocking))

	pq.Push(beOld, SequenceSortKey{Priority: BestEffort, SequencedTime: now.Add(-2 * time.Second)})
	pq.Push(beNew, SequenceSortKey{Priority: BestEffort, SequencedTime: now.Add(-1 * time.Second)})
	pq.Push(ub, SequenceSortKey{Priority: UserBlocking, SequencedTime: now})

	require.Same(t, ub, pq.PopHighest(), "highest priority pops first regardless of age")
	require.Same(t, beOld, pq.PopHighest(), "within a priority, oldest sequenced time pops first")
	require.Same(t, beNew, pq.PopHighest())
	require.True(t, pq.IsEmpty())
}

func TestPriorityQueueRemove(t *testing.T) {
	pq := NewPriorityQueue()
	a := NewSequence(DefaultTaskTraits())
	b := NewSequence(DefaultTaskTraits())
	pq.Push(a, SequenceSortKey{Priority: UserVisible, SequencedTime: time.Now()})
	pq.Push(b, SequenceSortKey{Priority: UserVisible, SequencedTime: time.Now()})

	require.True(t, pq.Remove(a))
	require.False(t, pq.Remove(a), "removing twice reports absent the second time")
	require.Equal(t, 1, pq.Len())
	require.Same(t, b, pq.PopHighest())
}

func TestPriorityQueueNumWithPriority(t *testing.T) {
	pq := NewPriorityQueue()
	seq1 := NewSequence(DefaultTaskTraits().WithPriority(BestEffort))
	seq2 := NewSequence(DefaultTaskTraits().WithPriority(BestEffort))
	pq.Push(seq1, SequenceSortKey{Priority: BestEffort, SequencedTime: time.Now()})
	pq.Push(seq2, SequenceSortKey{Priority: BestEffort, SequencedTime: time.Now()})

	require.Equal(t, 2, pq.NumWithPriority(BestEffort))
	pq.PopHighest()
	require.Equal(t, 1, pq.NumWithPriority(BestEffort))
}

func TestPriorityQueueTryPopHighestOnEmpty(t *testing.T) {
	pq := NewPriorityQueue()
	seq, ok := pq.TryPopHighest()
	require.False(t, ok)
	require.Nil(t, seq)
}

func TestPriorityQueueUpdate(t *testing.T) {
	pq := NewPriorityQueue()
	seq := NewSequence(DefaultTaskTraits().WithPriority(BestEffort))
	other := NewSequence(DefaultTaskTraits().WithPriority(UserVisible))

	pq.Push(seq, SequenceSortKey{Priority: BestEffort, SequencedTime: time.Now()})
	pq.Push(other, SequenceSortKey{Priority: UserVisible, SequencedTime: time.Now()})

	pq.Update(seq, SequenceSortKey{Priority: UserBlocking, SequencedTime: time.Now()})
	require.Same(t, seq, pq.PopHighest(), "updated sort key promotes seq to the top")
}
