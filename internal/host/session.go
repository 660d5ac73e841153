package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kernos-ai/kernos/internal/protocol"
	"github.com/kernos-ai/kernos/internal/schema"
)

// Status describes the lifecycle state of a kernel session.
type Status string

const (
	StatusRunning Status = "running"
	StatusClosed  Status = "closed"
)

// TaskResult is the host-side outcome of one completed task: the value
// records drained from the result stream and the diagnostics drained
// from the error stream, both in arrival order.
type TaskResult struct {
	Values   []json.RawMessage
	Messages []schema.ExecutionMessage
}

// Session is one live kernel process driven over sentinel-framed stdio.
// Spawned sessions own an exec.Cmd; forked sessions are reached over
// FIFOs and tracked by PID only.
type Session struct {
	ID      string
	Kernel  string
	PID     int
	Started time.Time

	cmd   *exec.Cmd // nil for forked children
	stdin io.WriteCloser

	results  chan protocol.Record // kernel stdout
	messages chan protocol.Record // kernel stderr

	// submitMu serialises tasks: the wire protocol allows exactly one
	// task in flight per kernel.
	submitMu sync.Mutex

	mu       sync.RWMutex
	status   Status
	children map[string]*Session
	closers  []io.Closer

	waitErr chan error // closed after cmd.Wait returns; nil for forks
	seq     atomic.Uint64
}

// Status returns the session's lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Children returns the live sessions forked from this one.
func (s *Session) Children() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.children))
	for _, c := range s.children {
		out = append(out, c)
	}
	return out
}

func (s *Session) addChild(c *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.children == nil {
		s.children = make(map[string]*Session)
	}
	s.children[c.ID] = c
}

func (s *Session) removeChild(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.children, id)
}

// markClosed flips the session to closed and returns its closers.
// Returns nil, false when the session was already closed.
func (s *Session) markClosed() ([]io.Closer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return nil, false
	}
	s.status = StatusClosed
	closers := s.closers
	s.closers = nil
	return closers, true
}

// startDrains launches one goroutine per stream feeding the record
// channels. The channels close when the underlying stream does, which is
// how task collection detects a crashed kernel.
func (s *Session) startDrains(stdout, stderr io.Reader) {
	s.results = make(chan protocol.Record, 64)
	s.messages = make(chan protocol.Record, 64)
	go drainRecords(stdout, s.results)
	go drainRecords(stderr, s.messages)
}

func drainRecords(r io.Reader, ch chan<- protocol.Record) {
	defer close(ch)
	rs := protocol.NewRecordScanner(r)
	for rs.Scan() {
		ch <- rs.Record()
	}
}

// roundTrip writes one task line and collects records until a readiness
// token has arrived on both streams.
func (s *Session) roundTrip(ctx context.Context, task protocol.Task, timeout time.Duration) (*TaskResult, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.Status() != StatusRunning {
		return nil, ErrSessionClosed
	}

	line, err := protocol.EncodeTask(task)
	if err != nil {
		return nil, fmt.Errorf("host: encode %s task: %w", task.Tag, err)
	}
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return nil, fmt.Errorf("host: write %s task: %w", task.Tag, err)
	}

	return s.collect(ctx, timeout)
}

// awaitReady consumes the readiness pair a kernel emits when it comes
// up, discarding nothing: any value record before the handshake is a
// protocol violation and surfaces as a leftover in the first task.
func (s *Session) awaitReady(ctx context.Context, timeout time.Duration) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()
	_, err := s.collect(ctx, timeout)
	return err
}

// collect drains both streams until each has produced a readiness token.
// Callers hold submitMu.
func (s *Session) collect(ctx context.Context, timeout time.Duration) (*TaskResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	result := &TaskResult{}
	resultsReady, messagesReady := false, false
	for !resultsReady || !messagesReady {
		select {
		case rec, ok := <-s.results:
			if !ok {
				return nil, ErrKernelCrashed
			}
			if rec.Kind == protocol.RecordReady {
				resultsReady = true
				continue
			}
			result.Values = append(result.Values, json.RawMessage(rec.Payload))
		case rec, ok := <-s.messages:
			if !ok {
				return nil, ErrKernelCrashed
			}
			if rec.Kind == protocol.RecordReady {
				messagesReady = true
				continue
			}
			result.Messages = append(result.Messages, decodeMessage(rec.Payload))
		case <-timer.C:
			return nil, ErrTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return result, nil
}

// decodeMessage parses an error-stream record. Unparseable payloads are
// wrapped verbatim so raw kernel noise still reaches the caller.
func decodeMessage(payload []byte) schema.ExecutionMessage {
	var msg schema.ExecutionMessage
	if err := json.Unmarshal(payload, &msg); err != nil || msg.Type == "" {
		return schema.ErrorMessage(schema.ErrorKindMicrokernel, string(payload))
	}
	return msg
}
