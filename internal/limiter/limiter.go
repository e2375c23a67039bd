// Package limiter bounds the total number of upstream weather calls across
// all triggers (page reads, sweeps, admin) within a rolling window. The
// window record lives in shared storage so every caller in the scheduler
// domain sees the same budget; the read-modify-write is serialized by a
// short critical section.
package limiter

import (
	"sync"
	"time"
)

// Window is the persisted budget state under a single well-known key.
type Window struct {
	Start int64 `json:"start"`
	Count int   `json:"count"`
}

// WindowStore persists the shared budget window. BudgetWindow returns
// (nil, nil) when no window has been created yet.
type WindowStore interface {
	BudgetWindow() (*Window, error)
	PutBudgetWindow(w Window) error
}

// Limiter is a best-effort sliding-window budget over a WindowStore.
type Limiter struct {
	mu     sync.Mutex
	store  WindowStore
	window time.Duration
	budget int
	now    func() time.Time
}

// New creates a Limiter allowing budget calls per window.
func New(store WindowStore, window time.Duration, budget int) *Limiter {
	return &Limiter{
		store:  store,
		window: window,
		budget: budget,
		now:    time.Now,
	}
}

// TryConsume claims one budget slot. It returns false when the current
// window is exhausted; the caller is expected to simply skip the fetch and
// let the next cycle retry. A lazily created or elapsed window is reset to
// start now with a zero count before the check.
func (l *Limiter) TryConsume() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().Unix()

	w, err := l.store.BudgetWindow()
	if err != nil {
		return false, err
	}
	if w == nil || now-w.Start >= int64(l.window.Seconds()) {
		w = &Window{Start: now}
	}
	if w.Count >= l.budget {
		return false, nil
	}

	w.Count++
	if err := l.store.PutBudgetWindow(*w); err != nil {
		return false, err
	}
	return true, nil
}

// Remaining reports how many calls are left in the current window without
// consuming any. It does not persist a reset.
func (l *Limiter) Remaining() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, err := l.store.BudgetWindow()
	if err != nil {
		return 0, err
	}
	if w == nil || l.now().Unix()-w.Start >= int64(l.window.Seconds()) {
		return l.budget, nil
	}
	if w.Count >= l.budget {
		return 0, nil
	}
	return l.budget - w.Count, nil
}
