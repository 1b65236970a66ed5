package collector

import (
	"sort"
	"sync"
	"time"
)

// CancelHandle stops a scheduled callback. Cancel is idempotent.
type CancelHandle interface {
	Cancel()
}

type cancelFunc func()

func (f cancelFunc) Cancel() { f() }

// Scheduler runs periodic callbacks and teardown hooks.
type Scheduler interface {
	Schedule(callback func(), interval time.Duration) CancelHandle
	OnTeardown(callback func())
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// TickerScheduler is the wall-clock Scheduler. Teardown hooks run when
// Teardown is called, typically from a shutdown signal.
type TickerScheduler struct {
	mu       sync.Mutex
	teardown []func()
	done     bool
	wg       sync.WaitGroup
}

func NewTickerScheduler() *TickerScheduler {
	return &TickerScheduler{}
}

func (s *TickerScheduler) Schedule(callback func(), interval time.Duration) CancelHandle {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	var once sync.Once

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				callback()
			}
		}
	}()

	return cancelFunc(func() {
		once.Do(func() { close(stop) })
	})
}

func (s *TickerScheduler) OnTeardown(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown = append(s.teardown, callback)
}

// Teardown runs the registered hooks once, most recent first, and waits for
// cancelled tickers to exit.
func (s *TickerScheduler) Teardown() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	hooks := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
	s.wg.Wait()
}

type virtualTask struct {
	id        int
	callback  func()
	interval  time.Duration
	next      time.Time
	cancelled bool
}

// VirtualScheduler is a Scheduler and Clock driven by Advance instead of
// wall-clock time.
type VirtualScheduler struct {
	mu       sync.Mutex
	now      time.Time
	tasks    []*virtualTask
	teardown []func()
	nextID   int
}

func NewVirtualScheduler(start time.Time) *VirtualScheduler {
	return &VirtualScheduler{now: start}
}

func (s *VirtualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *VirtualScheduler) Schedule(callback func(), interval time.Duration) CancelHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	task := &virtualTask{
		id:       s.nextID,
		callback: callback,
		interval: interval,
		next:     s.now.Add(interval),
	}
	s.tasks = append(s.tasks, task)

	return cancelFunc(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		task.cancelled = true
	})
}

func (s *VirtualScheduler) OnTeardown(callback func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardown = append(s.teardown, callback)
}

// Pending reports the number of scheduled, uncancelled tasks.
func (s *VirtualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing every tick that falls due in
// chronological order.
func (s *VirtualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		due := s.dueTasks(target)
		if len(due) == 0 {
			s.now = target
			s.mu.Unlock()
			return
		}
		task := due[0]
		s.now = task.next
		task.next = task.next.Add(task.interval)
		callback := task.callback
		s.mu.Unlock()

		callback()
	}
}

func (s *VirtualScheduler) dueTasks(target time.Time) []*virtualTask {
	var due []*virtualTask
	for _, t := range s.tasks {
		if !t.cancelled && !t.next.After(target) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next.Equal(due[j].next) {
			return due[i].id < due[j].id
		}
		return due[i].next.Before(due[j].next)
	})
	return due
}

// Teardown fires the teardown hooks, most recent first.
func (s *VirtualScheduler) Teardown() {
	s.mu.Lock()
	hooks := s.teardown
	s.teardown = nil
	s.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}
