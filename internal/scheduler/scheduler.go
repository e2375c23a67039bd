// Package scheduler drives all background work on a single gocron
// scheduler: the recurring sweep that re-enqueues every known city, and
// the staggered one-shot update jobs the queue flushes into it. It also
// carries the thin admin operations (trigger now, stop, reschedule,
// status).
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/ostap7k/city-weather/internal/queue"
	"github.com/ostap7k/city-weather/internal/weather"
)

const sweepTag = "weather-sweep"

func jobTag(id int64) string {
	return fmt.Sprintf("city-update-%d", id)
}

// JobRunner executes the refresh job for one city.
type JobRunner interface {
	Run(ctx context.Context, id int64)
}

// Scheduler schedules sweep ticks and per-city update jobs.
type Scheduler struct {
	inner      *gocron.Scheduler
	runner     JobRunner
	directory  weather.CityDirectory
	stagger    time.Duration
	jobTimeout time.Duration

	mu       sync.Mutex
	interval time.Duration
	sweepJob *gocron.Job
}

// New creates a Scheduler. interval is the sweep period, stagger the
// per-city delay step, jobTimeout the bound on one update job's fetch.
func New(runner JobRunner, directory weather.CityDirectory, interval, stagger, jobTimeout time.Duration) *Scheduler {
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}
	return &Scheduler{
		inner:      gocron.NewScheduler(time.UTC),
		runner:     runner,
		directory:  directory,
		stagger:    stagger,
		jobTimeout: jobTimeout,
		interval:   interval,
	}
}

// Start schedules the recurring sweep and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	if err := s.scheduleSweep(s.interval); err != nil {
		return err
	}
	s.inner.StartAsync()
	return nil
}

// Stop stops the underlying scheduler and all pending jobs.
func (s *Scheduler) Stop() {
	s.inner.Stop()
}

func (s *Scheduler) scheduleSweep(interval time.Duration) error {
	job, err := s.inner.Every(interval).Tag(sweepTag).Do(s.Tick)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.interval = interval
	s.sweepJob = job
	s.mu.Unlock()
	return nil
}

// Tick enumerates all known cities and feeds them into one update batch.
// Enumeration failures are logged and abort the tick; it runs unattended,
// so nothing propagates.
func (s *Scheduler) Tick() {
	log.Println("scheduler: running weather sweep")

	ids, err := s.directory.CityIDs()
	if err != nil {
		log.Printf("scheduler: sweep enumeration failed: %v", err)
		return
	}
	if len(ids) == 0 {
		log.Println("scheduler: no cities to sweep")
		return
	}

	batch := queue.NewBatch(s.stagger)
	for _, id := range ids {
		batch.Enqueue(id)
	}
	scheduled := batch.Flush(s)

	log.Printf("scheduler: sweep enqueued %d cities, scheduled %d update jobs", len(ids), scheduled)
}

// IsScheduled reports whether an update job for the city is still pending.
func (s *Scheduler) IsScheduled(id int64) bool {
	jobs, err := s.inner.FindJobsByTag(jobTag(id))
	return err == nil && len(jobs) > 0
}

// ScheduleOnce schedules a single update job for the city after delay.
// The job removes itself once it has run, so IsScheduled only sees
// genuinely pending work.
func (s *Scheduler) ScheduleOnce(delay time.Duration, id int64) error {
	tag := jobTag(id)
	startAt := time.Now().UTC().Add(delay)
	_, err := s.inner.Every(1).Day().StartAt(startAt).LimitRunsTo(1).Tag(tag).Do(func() {
		defer func() {
			if err := s.inner.RemoveByTag(tag); err != nil {
				log.Printf("scheduler: failed to remove finished job %s: %v", tag, err)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		s.runner.Run(ctx, id)
	})
	return err
}

// TriggerNow runs one sweep tick immediately, off the caller's goroutine.
func (s *Scheduler) TriggerNow() {
	go s.Tick()
}

// StopSweep unschedules the recurring sweep; pending one-shot update jobs
// are left alone.
func (s *Scheduler) StopSweep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweepJob == nil {
		return nil
	}
	if err := s.inner.RemoveByTag(sweepTag); err != nil {
		return err
	}
	s.sweepJob = nil
	return nil
}

// Reschedule replaces the recurring sweep with a new interval. A zero
// interval keeps the current one.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	s.mu.Lock()
	current := s.interval
	s.mu.Unlock()

	if interval <= 0 {
		interval = current
	}
	if err := s.StopSweep(); err != nil {
		return err
	}
	return s.scheduleSweep(interval)
}

// Status reports whether the sweep is scheduled and its next run time.
func (s *Scheduler) Status() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweepJob == nil {
		return false, time.Time{}
	}
	return true, s.sweepJob.NextRun()
}
