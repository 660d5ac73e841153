package host

import "errors"

var (
	// ErrTimeout reports a task that exceeded its deadline. The affected
	// session and its forks are terminated: a kernel mid-task cannot be
	// trusted after the host stops listening.
	ErrTimeout = errors.New("host: task deadline exceeded")

	// ErrKernelCrashed reports a kernel that closed its streams without
	// completing the readiness handshake.
	ErrKernelCrashed = errors.New("host: kernel exited without completing the readiness handshake")

	// ErrSessionClosed reports a dispatch to a terminated session.
	ErrSessionClosed = errors.New("host: session is closed")

	// ErrSessionNotFound reports an unknown session ID.
	ErrSessionNotFound = errors.New("host: session not found")

	// ErrForkUnsupported reports fork on a platform without FIFO support.
	ErrForkUnsupported = errors.New("host: session forking is not supported on this platform")
)
