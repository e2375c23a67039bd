// Package queue implements the per-invocation update batch: a deduplicating
// collection of city ids that is turned into staggered one-shot update jobs
// on flush. A Batch is a value scoped to one read or sweep operation and is
// never shared between requests.
package queue

import (
	"log"
	"time"
)

// JobScheduler is the slice of the scheduler the queue needs: dedup against
// already-pending jobs and one-shot scheduling with a delay.
type JobScheduler interface {
	IsScheduled(id int64) bool
	ScheduleOnce(delay time.Duration, id int64) error
}

// Batch collects city ids pending a background refresh. Duplicates are
// suppressed; ids <= 0 are rejected.
type Batch struct {
	step time.Duration
	ids  []int64
	seen map[int64]struct{}
}

// NewBatch creates an empty batch. step is the stagger applied between
// consecutive jobs when the batch is flushed.
func NewBatch(step time.Duration) *Batch {
	return &Batch{
		step: step,
		seen: make(map[int64]struct{}),
	}
}

// Enqueue adds id to the batch and reports whether it was newly added.
func (b *Batch) Enqueue(id int64) bool {
	if id <= 0 {
		return false
	}
	if _, ok := b.seen[id]; ok {
		return false
	}
	b.seen[id] = struct{}{}
	b.ids = append(b.ids, id)
	return true
}

// Len returns the number of ids currently queued.
func (b *Batch) Len() int {
	return len(b.ids)
}

// Flush schedules a one-shot update job per queued id, in enqueue order,
// each offset by one more stagger step than the previous. Ids whose job is
// already pending are skipped, which keeps overlapping triggers idempotent.
// Scheduling failures are logged and not retried here; a still-stale city
// is simply re-enqueued on the next read or sweep cycle. The batch is
// cleared afterwards. Returns the number of jobs scheduled.
func (b *Batch) Flush(s JobScheduler) int {
	scheduled := 0
	offset := b.step
	for _, id := range b.ids {
		delay := offset
		offset += b.step
		if s.IsScheduled(id) {
			continue
		}
		if err := s.ScheduleOnce(delay, id); err != nil {
			log.Printf("queue: failed to schedule update for city %d: %v", id, err)
			continue
		}
		scheduled++
	}
	b.ids = nil
	b.seen = make(map[int64]struct{})
	return scheduled
}
