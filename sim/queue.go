// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package sim

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/addrummond/heap"
	"github.com/gammazero/deque"
)

// Priority bounds for scheduled events. ASAP events sit above every
// scheduled priority so they always pop first.
const (
	MinScheduledPriority = 0.0
	MaxScheduledPriority = 1000000.0
	ASAPPriority         = MaxScheduledPriority + 1
)

// An Action is the work an event performs when it is popped and
// executed. Call arguments are expected to be captured by closure.
type Action func() error

// Event is one pending entry on an EventQueue. Fields are owned by the
// queue; callers hold Event pointers only to identify events for
// Remove/Restore and to inspect scheduling data.
type Event struct {
	ID       int
	TimeDays float64
	Priority float64
	Do       Action

	seq uint64
}

// ASAP reports whether the event is an as-soon-as-possible event.
func (e *Event) ASAP() bool {
	return e.Priority == ASAPPriority
}

// timedEntry adapts *Event to the pairing heap's Orderable constraint.
// seq is the event's sequence number at push time: the entry is current
// only while it still matches the event's, so an entry orphaned by
// Remove or Restore is recognized and dropped when it surfaces.
type timedEntry struct {
	ev  *Event
	seq uint64
}

// Cmp orders entries by time ascending, then priority descending, then
// insertion order ascending. The insertion-order tiebreak is what makes
// replay deterministic for a fixed seed.
func (a *timedEntry) Cmp(b *timedEntry) int {
	if c := cmp.Compare(a.ev.TimeDays, b.ev.TimeDays); c != 0 {
		return c
	}
	if c := cmp.Compare(b.ev.Priority, a.ev.Priority); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

// asapEntry is the ASAP lane's counterpart of timedEntry, with the same
// seq currency rule.
type asapEntry struct {
	ev  *Event
	seq uint64
}

// EventQueue holds the pending events of one replication's timeline.
//
// There are two lanes: timed events, popped earliest-time-first with
// higher priority winning within a time and FIFO within a (time,
// priority) bin; and ASAP events, which pop before all timed events and
// LIFO among themselves.
//
// EventQueue is not thread-safe. Each replication owns exactly one
// queue and drives it from a single goroutine.
type EventQueue struct {
	timed heap.Heap[timedEntry, heap.Min]
	asap  deque.Deque[asapEntry]

	// live tracks events currently on the queue, both lanes; limbo
	// tracks removed events awaiting Restore. Deletion is lazy: Remove
	// and Restore reassign the event's seq instead of touching the heap
	// or deque, and the pop paths drop entries whose seq no longer
	// matches their event's.
	live  map[int]*Event
	limbo map[int]*Event

	numScheduled int
	numASAP      int
	nextID       int
	nextSeq      uint64

	lastPopTime float64
	popped      bool
}

// NewEventQueue returns an empty queue.
func NewEventQueue() *EventQueue {
	return &EventQueue{
		live:  make(map[int]*Event),
		limbo: make(map[int]*Event),
	}
}

// Add schedules an event at the given simulated time (in days) and
// priority. A negative time means "at the last popped time" (zero if
// nothing has been popped yet), mirroring how newly spawned work lands
// at the current simulated time. Priority must be within
// [MinScheduledPriority, MaxScheduledPriority]; use AddASAP for ASAP
// events.
func (q *EventQueue) Add(timeDays, priority float64, do Action) (*Event, error) {
	if priority < MinScheduledPriority || priority > MaxScheduledPriority {
		return nil, fmt.Errorf("event priority %v outside [%v, %v]", priority, MinScheduledPriority, MaxScheduledPriority)
	}
	if math.IsNaN(timeDays) {
		return nil, fmt.Errorf("event time must be a number")
	}
	if timeDays < 0 {
		timeDays = q.lastPopTime
	}
	ev := q.newEvent(timeDays, priority, do)
	heap.PushOrderable(&q.timed, timedEntry{ev: ev, seq: ev.seq})
	q.live[ev.ID] = ev
	q.numScheduled++
	return ev, nil
}

// AddASAP schedules an as-soon-as-possible event. ASAP events pop
// before every timed event, last-in-first-out.
func (q *EventQueue) AddASAP(do Action) *Event {
	ev := q.newEvent(q.lastPopTime, ASAPPriority, do)
	q.asap.PushBack(asapEntry{ev: ev, seq: ev.seq})
	q.live[ev.ID] = ev
	q.numASAP++
	return ev
}

func (q *EventQueue) newEvent(timeDays, priority float64, do Action) *Event {
	ev := &Event{
		ID:       q.nextID,
		TimeDays: timeDays,
		Priority: priority,
		Do:       do,
		seq:      q.nextSeq,
	}
	q.nextID++
	q.nextSeq++
	return ev
}

// Pop removes and returns the next event: the most recently added ASAP
// event if any, otherwise the earliest/highest-priority/oldest timed
// event. Returns false when the queue is empty.
func (q *EventQueue) Pop() (*Event, bool) {
	for q.asap.Len() > 0 {
		entry := q.asap.PopBack()
		if entry.seq != entry.ev.seq {
			continue // orphaned by Remove or Restore
		}
		delete(q.live, entry.ev.ID)
		q.numASAP--
		entry.ev.TimeDays = q.lastPopTime // ASAP events execute at the current time
		q.notePop(entry.ev)
		return entry.ev, true
	}
	for {
		entry, ok := heap.PopOrderable(&q.timed)
		if !ok {
			return nil, false
		}
		if entry.seq != entry.ev.seq {
			continue
		}
		delete(q.live, entry.ev.ID)
		q.numScheduled--
		q.notePop(entry.ev)
		return entry.ev, true
	}
}

func (q *EventQueue) notePop(ev *Event) {
	q.lastPopTime = ev.TimeDays
	q.popped = true
}

// NextTime returns the simulated time of the next event that Pop would
// return, and false if the queue is empty. ASAP events report the last
// popped time, since they execute without advancing the clock.
func (q *EventQueue) NextTime() (float64, bool) {
	for q.asap.Len() > 0 {
		if entry := q.asap.Back(); entry.seq != entry.ev.seq {
			q.asap.PopBack()
			continue
		}
		return q.lastPopTime, true
	}
	for {
		entry, ok := heap.Peek(&q.timed)
		if !ok {
			return 0, false
		}
		if entry.seq != entry.ev.seq {
			heap.PopOrderable(&q.timed)
			continue
		}
		return entry.ev.TimeDays, true
	}
}

// Remove takes an event off the queue. Returns false if the event was
// already popped or removed. The queued entry stays in its lane but is
// orphaned by a fresh seq, and dropped when it surfaces.
func (q *EventQueue) Remove(ev *Event) bool {
	if cur, ok := q.live[ev.ID]; !ok || cur != ev {
		return false
	}
	delete(q.live, ev.ID)
	q.limbo[ev.ID] = ev
	ev.seq = q.nextSeq
	q.nextSeq++
	if ev.ASAP() {
		q.numASAP--
	} else {
		q.numScheduled--
	}
	return true
}

// Restore puts a previously removed event back on the queue. The event
// keeps its time and priority but is ordered after any events already
// in its (time, priority) bin. Restoring to a time earlier than the
// last popped time is an error.
func (q *EventQueue) Restore(ev *Event) error {
	if cur, ok := q.limbo[ev.ID]; !ok || cur != ev {
		return fmt.Errorf("event %d is not removed", ev.ID)
	}
	if q.popped && !ev.ASAP() && ev.TimeDays < q.lastPopTime {
		return fmt.Errorf("cannot restore event %d at %v days, before last pop time %v", ev.ID, ev.TimeDays, q.lastPopTime)
	}
	delete(q.limbo, ev.ID)
	ev.seq = q.nextSeq
	q.nextSeq++
	q.live[ev.ID] = ev
	if ev.ASAP() {
		q.asap.PushBack(asapEntry{ev: ev, seq: ev.seq})
		q.numASAP++
		return nil
	}
	heap.PushOrderable(&q.timed, timedEntry{ev: ev, seq: ev.seq})
	q.numScheduled++
	return nil
}

// MoveTimes shifts every scheduled event's time by deltaDays, removed
// ones included so a later Restore lands in the rebased timeline. A
// uniform shift preserves relative order, so the heap structure stays
// valid. Used by the reset sequence when sim time is rebased without
// clearing the queue.
func (q *EventQueue) MoveTimes(deltaDays float64) {
	for _, ev := range q.live {
		if !ev.ASAP() {
			ev.TimeDays += deltaDays
		}
	}
	for _, ev := range q.limbo {
		if !ev.ASAP() {
			ev.TimeDays += deltaDays
		}
	}
	if q.popped {
		q.lastPopTime += deltaDays
	}
}

// Clear drops every pending and removed event and forgets the last pop
// time.
func (q *EventQueue) Clear() {
	q.timed = heap.Heap[timedEntry, heap.Min]{}
	q.asap = deque.Deque[asapEntry]{}
	q.live = make(map[int]*Event)
	q.limbo = make(map[int]*Event)
	q.numScheduled = 0
	q.numASAP = 0
	q.lastPopTime = 0
	q.popped = false
}

// Len returns the total number of pending events in both lanes.
func (q *EventQueue) Len() int {
	return q.numScheduled + q.numASAP
}

// NumScheduled returns the number of pending timed events.
func (q *EventQueue) NumScheduled() int {
	return q.numScheduled
}

// NumASAP returns the number of pending ASAP events.
func (q *EventQueue) NumASAP() int {
	return q.numASAP
}

// LastPopTime returns the simulated time of the last popped event, and
// false if nothing has been popped since the queue was created or
// cleared.
func (q *EventQueue) LastPopTime() (float64, bool) {
	return q.lastPopTime, q.popped
}

// Events returns the pending scheduled events in pop order. Intended
// for inspection; mutating the result does not affect the queue.
func (q *EventQueue) Events() []*Event {
	evs := make([]*Event, 0, len(q.live))
	for _, ev := range q.live {
		if ev.ASAP() {
			continue
		}
		evs = append(evs, ev)
	}
	slices.SortFunc(evs, func(a, b *Event) int {
		ea, eb := timedEntry{ev: a, seq: a.seq}, timedEntry{ev: b, seq: b.seq}
		return ea.Cmp(&eb)
	})
	return evs
}
