// Package host supervises kernel sessions from the outside of the wire:
// it spawns kernel processes, dispatches framed tasks over their stdio,
// forks warmed sessions through FIFOs and tears down session trees.
package host

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kernos-ai/kernos/internal/constants"
	"github.com/kernos-ai/kernos/internal/eventbus"
	"github.com/kernos-ai/kernos/internal/procutil"
	"github.com/kernos-ai/kernos/internal/protocol"
	"github.com/kernos-ai/kernos/internal/schema"
)

// SessionRecord is the persisted description of a spawned session.
type SessionRecord struct {
	ID       string
	Kernel   string
	Command  string
	PID      int
	ParentID string
	Started  time.Time
}

// Recorder persists session lifecycle transitions. A nil Recorder
// disables persistence.
type Recorder interface {
	RecordSessionStarted(ctx context.Context, rec SessionRecord) error
	RecordSessionStopped(ctx context.Context, id, reason string) error
}

// Manager owns all live kernel sessions of a host process.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	bus      *eventbus.Bus
	recorder Recorder
	runDir   string

	startupTimeout time.Duration
	taskTimeout    time.Duration
	graceTimeout   time.Duration
}

// Option customises a Manager.
type Option func(*Manager)

// WithBus publishes lifecycle, result and message events on the bus.
func WithBus(bus *eventbus.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithRecorder persists session history through the recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithRunDir sets the directory used for fork FIFOs.
func WithRunDir(dir string) Option {
	return func(m *Manager) { m.runDir = dir }
}

// WithStartupTimeout overrides the wait for the initial readiness pair.
func WithStartupTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.startupTimeout = d
		}
	}
}

// WithTaskTimeout overrides the default per-task deadline.
func WithTaskTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.taskTimeout = d
		}
	}
}

// WithGraceTimeout overrides the wait between closing a kernel's stdin
// and escalating to a kill.
func WithGraceTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.graceTimeout = d
		}
	}
}

// NewManager builds an empty session manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:       make(map[string]*Session),
		startupTimeout: constants.KernelStartupTimeout,
		taskTimeout:    constants.KernelTaskTimeout,
		graceTimeout:   constants.KernelGracefulShutdownTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SpawnSpec describes the kernel process to launch.
type SpawnSpec struct {
	Kernel  string // display name; defaults to the command basename
	Command string
	Args    []string
	Env     []string // appended to the inherited environment
	Dir     string
}

// Spawn launches a kernel process and waits for its readiness handshake.
func (m *Manager) Spawn(ctx context.Context, spec SpawnSpec) (*Session, error) {
	if spec.Command == "" {
		return nil, errors.New("host: spawn: command must not be empty")
	}
	kernel := spec.Kernel
	if kernel == "" {
		kernel = filepath.Base(spec.Command)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("host: spawn %s: stdin pipe: %w", kernel, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("host: spawn %s: stdout pipe: %w", kernel, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("host: spawn %s: stderr pipe: %w", kernel, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("host: spawn %s: %w", kernel, err)
	}

	s := &Session{
		ID:      uuid.NewString(),
		Kernel:  kernel,
		PID:     cmd.Process.Pid,
		Started: time.Now().UTC(),
		cmd:     cmd,
		stdin:   stdin,
		status:  StatusRunning,
		waitErr: make(chan error, 1),
	}
	s.startDrains(stdout, stderr)

	go m.reap(s)

	if err := s.awaitReady(ctx, m.startupTimeout); err != nil {
		m.killProcess(s)
		return nil, fmt.Errorf("host: spawn %s: %w", kernel, ErrKernelCrashed)
	}

	m.register(s)
	log.Printf("[KernelManager] session %s started (kernel=%s pid=%d)", s.ID, s.Kernel, s.PID)

	m.publishLifecycle(ctx, s, eventbus.KernelStateRunning, nil, "")
	m.recordStarted(ctx, s, spec.Command, "")
	return s, nil
}

// Session returns the live session with the given ID.
func (m *Manager) Session(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Sessions returns all live sessions.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Submit sends one task to a session and returns its collected outcome.
// A zero timeout applies the manager default. Deadline overruns and
// stream EOFs are fatal to the session: the whole tree is torn down.
func (m *Manager) Submit(ctx context.Context, id string, task protocol.Task, timeout time.Duration) (*TaskResult, error) {
	s, err := m.Session(id)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = m.taskTimeout
	}

	result, err := s.roundTrip(ctx, task, timeout)
	switch {
	case errors.Is(err, ErrTimeout):
		log.Printf("[KernelManager] session %s: %s task exceeded %s, terminating", s.ID, task.Tag, timeout)
		m.terminateTree(ctx, s, eventbus.KernelReasonTimeout)
		return nil, err
	case errors.Is(err, ErrKernelCrashed):
		log.Printf("[KernelManager] session %s: kernel crashed mid-task", s.ID)
		m.finish(ctx, s, eventbus.KernelStateCrashed, "kernel_crashed")
		return nil, err
	case err != nil:
		return nil, err
	}

	m.publishTaskEvents(ctx, s, task, result)
	return result, nil
}

// Exec runs source code in the session.
func (m *Manager) Exec(ctx context.Context, id, code string) (*TaskResult, error) {
	return m.Submit(ctx, id, protocol.Exec(code), 0)
}

// Eval evaluates a single expression in the session.
func (m *Manager) Eval(ctx context.Context, id, expression string) (*TaskResult, error) {
	return m.Submit(ctx, id, protocol.Eval(expression), 0)
}

// Interrupt delivers SIGINT to the kernel process. The in-kernel
// supervisor aborts the running evaluation; an idle kernel absorbs the
// signal before its next task.
func (m *Manager) Interrupt(id string) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	return procutil.InterruptByPID(s.PID)
}

// Terminate tears down a session and every session forked from it.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	s, err := m.Session(id)
	if err != nil {
		return err
	}
	m.terminateTree(ctx, s, eventbus.KernelReasonTerminated)
	return nil
}

// Shutdown terminates all live sessions.
func (m *Manager) Shutdown(ctx context.Context) {
	for _, s := range m.Sessions() {
		m.terminateTree(ctx, s, eventbus.KernelReasonTerminated)
	}
}

// terminateTree closes fork children depth-first, then the session
// itself. Children always die with their ancestor.
func (m *Manager) terminateTree(ctx context.Context, s *Session, reason string) {
	for _, child := range s.Children() {
		m.terminateTree(ctx, child, reason)
		s.removeChild(child.ID)
	}
	m.terminateOne(ctx, s, reason)
}

func (m *Manager) terminateOne(ctx context.Context, s *Session, reason string) {
	closers, ok := s.markClosed()
	if !ok {
		return
	}

	// Closing stdin ends the kernel's task loop; escalate if it lingers.
	_ = s.stdin.Close()
	m.waitOrKill(s)

	for _, c := range closers {
		_ = c.Close()
	}

	m.unregister(s.ID)
	log.Printf("[KernelManager] session %s terminated (%s)", s.ID, reason)
	m.publishLifecycle(ctx, s, eventbus.KernelStateStopped, nil, reason)
	m.recordStopped(ctx, s.ID, reason)
}

// waitOrKill waits out the grace period for a clean exit, then kills.
func (m *Manager) waitOrKill(s *Session) {
	if s.cmd != nil {
		select {
		case <-s.waitErr:
			return
		case <-time.After(m.graceTimeout):
			m.killProcess(s)
			<-s.waitErr
		}
		return
	}

	// Forked children are not our exec.Cmd: signal by PID and poll.
	_ = procutil.TerminateByPID(s.PID)
	deadline := time.Now().Add(m.graceTimeout)
	for time.Now().Before(deadline) {
		if !procutil.IsProcessAlive(s.PID) {
			return
		}
		time.Sleep(constants.Duration50Milliseconds)
	}
	_ = procutil.KillByPID(s.PID)
}

func (m *Manager) killProcess(s *Session) {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
}

// reap waits on the child process so the OS can release it, and flags
// sessions that die outside Terminate as crashed.
func (m *Manager) reap(s *Session) {
	err := s.cmd.Wait()
	s.waitErr <- err
	close(s.waitErr)

	if s.Status() == StatusRunning {
		log.Printf("[KernelManager] session %s exited unexpectedly: %v", s.ID, err)
		m.finish(context.Background(), s, eventbus.KernelStateCrashed, "kernel_crashed")
	}
}

// reapFork is the reap counterpart for forked children. They are not the
// manager's own exec.Cmd, so there is no Wait to block on, and the host
// holds both ends of the session FIFOs, so a dead child never produces
// EOF on the drains. Poll liveness by PID instead and flag the session
// as crashed the moment the process is gone.
func (m *Manager) reapFork(s *Session) {
	for s.Status() == StatusRunning {
		if !procutil.IsProcessAlive(s.PID) {
			if s.Status() != StatusRunning {
				return
			}
			log.Printf("[KernelManager] session %s (forked, pid=%d) exited unexpectedly", s.ID, s.PID)
			m.finish(context.Background(), s, eventbus.KernelStateCrashed, "kernel_crashed")
			return
		}
		time.Sleep(constants.KernelForkLivenessInterval)
	}
}

// finish closes the bookkeeping for a session that died on its own.
func (m *Manager) finish(ctx context.Context, s *Session, state eventbus.KernelState, reason string) {
	for _, child := range s.Children() {
		m.terminateTree(ctx, child, reason)
		s.removeChild(child.ID)
	}

	closers, ok := s.markClosed()
	if !ok {
		return
	}
	_ = s.stdin.Close()
	m.killProcess(s)
	for _, c := range closers {
		_ = c.Close()
	}

	m.unregister(s.ID)
	m.publishLifecycle(ctx, s, state, nil, reason)
	m.recordStopped(ctx, s.ID, reason)
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

func (m *Manager) unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func (m *Manager) publishLifecycle(ctx context.Context, s *Session, state eventbus.KernelState, exitCode *int, reason string) {
	eventbus.Publish(ctx, m.bus, eventbus.Kernels.Lifecycle, eventbus.SourceSessionManager, eventbus.KernelLifecycleEvent{
		SessionID: s.ID,
		Kernel:    s.Kernel,
		State:     state,
		PID:       s.PID,
		ExitCode:  exitCode,
		Reason:    reason,
	})
}

func (m *Manager) publishTaskEvents(ctx context.Context, s *Session, task protocol.Task, result *TaskResult) {
	if m.bus == nil {
		return
	}
	for _, value := range result.Values {
		eventbus.Publish(ctx, m.bus, eventbus.Kernels.Result, eventbus.SourceSessionManager, eventbus.KernelResultEvent{
			SessionID: s.ID,
			Task:      task.Tag.String(),
			Sequence:  s.seq.Add(1),
			Payload:   []byte(value),
		})
	}
	for _, msg := range result.Messages {
		eventbus.Publish(ctx, m.bus, eventbus.Kernels.Message, eventbus.SourceSessionManager, eventbus.KernelMessageEvent{
			SessionID: s.ID,
			Task:      task.Tag.String(),
			Level:     string(msg.Level),
			ErrorKind: msg.ErrorType,
			Message:   msg.Message,
		})
	}
}

func (m *Manager) recordStarted(ctx context.Context, s *Session, command, parentID string) {
	if m.recorder == nil {
		return
	}
	rec := SessionRecord{
		ID:       s.ID,
		Kernel:   s.Kernel,
		Command:  command,
		PID:      s.PID,
		ParentID: parentID,
		Started:  s.Started,
	}
	if err := m.recorder.RecordSessionStarted(ctx, rec); err != nil {
		log.Printf("[KernelManager] record session %s start: %v", s.ID, err)
	}
}

func (m *Manager) recordStopped(ctx context.Context, id, reason string) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordSessionStopped(ctx, id, reason); err != nil {
		log.Printf("[KernelManager] record session %s stop: %v", id, err)
	}
}

// TimeoutMessage is surfaced to gateway clients when a task deadline
// kills a session.
func TimeoutMessage(d time.Duration) schema.ExecutionMessage {
	return schema.ErrorMessage(schema.ErrorKindTimeout, fmt.Sprintf("task exceeded the %s deadline; session terminated", d))
}
