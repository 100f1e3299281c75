package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// deadlineWeight scales deadline urgency in the priority score.
const deadlineWeight = 10.0

// overduePenalty is subtracted from the score once a deadline has passed so
// overdue tasks trump everything else.
const overduePenalty = 1000.0

// Entry is one task waiting in the ready set.
type Entry struct {
	TaskID     uuid.UUID
	Priority   int
	Deadline   *time.Time
	EnqueuedAt time.Time

	// blockedBy holds incomplete dependency ids. The entry is not
	// poppable until the set empties.
	blockedBy map[uuid.UUID]struct{}

	score float64
	index int
}

// Blocked reports whether the entry still waits on dependencies.
func (e *Entry) Blocked() bool {
	return len(e.blockedBy) > 0
}

// scoreAt computes the priority score at the given instant. Lower is more
// urgent: base priority negated, deadline urgency and an aging boost
// subtracted, and a large penalty once the deadline passed.
func (e *Entry) scoreAt(now time.Time, agingFactor float64) float64 {
	score := -float64(e.Priority)
	if e.Deadline != nil {
		remaining := e.Deadline.Sub(now)
		if remaining <= 0 {
			score -= overduePenalty
		} else {
			score -= deadlineWeight / (remaining.Hours() + 1)
		}
	}
	ageMinutes := now.Sub(e.EnqueuedAt).Minutes()
	if ageMinutes > 0 {
		score -= ageMinutes * agingFactor
	}
	return score
}

// Ordering drains the ready set in different orders per strategy.
type Ordering int

// Orderings. Score order serves priority and the agent-side strategies;
// fifo and deadline replace the comparison entirely.
const (
	OrderScore Ordering = iota
	OrderFIFO
	OrderDeadline
)

// ReadySet is the in-memory priority queue of schedulable tasks. One mutex
// guards the whole structure; mutations are O(log n) and never do I/O under
// the lock.
type ReadySet struct {
	mu          sync.Mutex
	entries     entryHeap
	byID        map[uuid.UUID]*Entry
	agingFactor float64
	ordering    Ordering
}

// NewReadySet creates an empty ready set.
func NewReadySet(agingFactor float64, ordering Ordering) *ReadySet {
	rs := &ReadySet{
		byID:        make(map[uuid.UUID]*Entry),
		agingFactor: agingFactor,
		ordering:    ordering,
	}
	rs.entries = entryHeap{ordering: ordering}
	return rs
}

// Add inserts or refreshes a task. blockedBy lists its incomplete
// dependencies; pass nil for an unblocked task.
func (r *ReadySet) Add(taskID uuid.UUID, priority int, deadline *time.Time, enqueuedAt time.Time, blockedBy []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[taskID]; ok {
		return
	}
	e := &Entry{
		TaskID:     taskID,
		Priority:   priority,
		Deadline:   deadline,
		EnqueuedAt: enqueuedAt,
	}
	if len(blockedBy) > 0 {
		e.blockedBy = make(map[uuid.UUID]struct{}, len(blockedBy))
		for _, id := range blockedBy {
			e.blockedBy[id] = struct{}{}
		}
	}
	e.score = e.scoreAt(time.Now().UTC(), r.agingFactor)
	r.byID[taskID] = e
	if !e.Blocked() {
		heap.Push(&r.entries, e)
	} else {
		e.index = -1
	}
}

// Remove drops a task from the set (cancellation, external completion).
func (r *ReadySet) Remove(taskID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[taskID]
	if !ok {
		return false
	}
	delete(r.byID, taskID)
	if e.index >= 0 {
		heap.Remove(&r.entries, e.index)
	}
	return true
}

// Unblock clears completedID from every blocked entry and pushes entries
// whose dependency sets emptied into the poppable heap. Returns the promoted
// task ids.
func (r *ReadySet) Unblock(completedID uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var promoted []uuid.UUID
	for _, e := range r.byID {
		if e.blockedBy == nil {
			continue
		}
		if _, ok := e.blockedBy[completedID]; !ok {
			continue
		}
		delete(e.blockedBy, completedID)
		if len(e.blockedBy) == 0 {
			e.blockedBy = nil
			heap.Push(&r.entries, e)
			promoted = append(promoted, e.TaskID)
		}
	}
	return promoted
}

// Blocked returns the ids of entries still waiting on dependencies.
func (r *ReadySet) Blocked() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, e := range r.byID {
		if e.Blocked() {
			ids = append(ids, e.TaskID)
		}
	}
	return ids
}

// Promote force-unblocks one entry, pushing it into the poppable heap.
// Used when the store shows a dependency set satisfied by a completion that
// happened in another process. Returns false when the task is unknown or
// already poppable.
func (r *ReadySet) Promote(taskID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[taskID]
	if !ok || !e.Blocked() {
		return false
	}
	e.blockedBy = nil
	heap.Push(&r.entries, e)
	return true
}

// PopN removes and returns up to n unblocked entries in drain order.
func (r *ReadySet) PopN(n int) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Entry
	for len(out) < n && r.entries.Len() > 0 {
		e := heap.Pop(&r.entries).(*Entry)
		delete(r.byID, e.TaskID)
		out = append(out, e)
	}
	return out
}

// Contains reports whether a task is tracked, blocked or not.
func (r *ReadySet) Contains(taskID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[taskID]
	return ok
}

// Len returns the number of poppable (unblocked) entries.
func (r *ReadySet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}

// Rescore recomputes every score against now and restores heap order.
// Called once per scheduler tick so aging keeps old tasks rising.
func (r *ReadySet) Rescore(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries.items {
		e.score = e.scoreAt(now, r.agingFactor)
	}
	heap.Init(&r.entries)
}

// entryHeap implements heap.Interface over the unblocked entries with the
// configured drain ordering.
type entryHeap struct {
	items    []*Entry
	ordering Ordering
}

func (h *entryHeap) Len() int { return len(h.items) }

func (h *entryHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	switch h.ordering {
	case OrderFIFO:
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	case OrderDeadline:
		switch {
		case a.Deadline != nil && b.Deadline != nil:
			if !a.Deadline.Equal(*b.Deadline) {
				return a.Deadline.Before(*b.Deadline)
			}
			return a.score < b.score
		case a.Deadline != nil:
			return true
		case b.Deadline != nil:
			return false
		default:
			return a.score < b.score
		}
	default:
		return a.score < b.score
	}
}

func (h *entryHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(h.items)
	h.items = append(h.items, e)
}

func (h *entryHeap) Pop() any {
	old := h.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	h.items = old[:n-1]
	return e
}
