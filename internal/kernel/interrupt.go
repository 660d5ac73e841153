package kernel

import (
	"os"
	"os/signal"
	"sync"
)

// InterruptSupervisor guarantees a cancellation signal is never lost and
// never corrupts in-flight state. Signals are captured on a buffered
// channel the moment they are delivered, so a signal arriving while the
// loop is blocked reading the next task line cannot drop that task: the
// read completes normally and the stale signal is discarded before
// dispatch. A signal arriving during execution invokes the registered
// abort hook, which cancels the running evaluation.
type InterruptSupervisor struct {
	signals chan os.Signal
	stopped chan struct{}
	done    chan struct{}

	mu     sync.Mutex
	active func()
}

// NewInterruptSupervisor starts supervising the interrupt signal.
func NewInterruptSupervisor() *InterruptSupervisor {
	s := newInterruptSupervisor(make(chan os.Signal, 8))
	signal.Notify(s.signals, os.Interrupt)
	return s
}

func newInterruptSupervisor(signals chan os.Signal) *InterruptSupervisor {
	s := &InterruptSupervisor{
		signals: signals,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *InterruptSupervisor) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.stopped:
			return
		case _, ok := <-s.signals:
			if !ok {
				return
			}
			s.mu.Lock()
			abort := s.active
			s.mu.Unlock()
			if abort != nil {
				abort()
			}
		}
	}
}

// Watch registers the abort hook for the task about to execute. The
// returned stop function deregisters it; call it as soon as the task
// boundary is reached so late signals do not abort the wrong task.
func (s *InterruptSupervisor) Watch(abort func()) (stop func()) {
	s.mu.Lock()
	s.active = abort
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}
}

// DrainPending discards signals that arrived while no task was executing.
// Called between reading a task line and dispatching it, so an interrupt
// aimed at an already-finished task is not replayed onto the next one.
func (s *InterruptSupervisor) DrainPending() {
	for {
		select {
		case <-s.signals:
		default:
			return
		}
	}
}

// Close stops signal delivery and waits for the supervisor goroutine.
func (s *InterruptSupervisor) Close() {
	signal.Stop(s.signals)
	close(s.stopped)
	<-s.done
}
