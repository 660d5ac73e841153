package constants

import "time"

// Shared duration vocabulary used by timeouts and polling loops. Keep
// these centralized to simplify system-wide timing tuning.
const (
	Duration50Milliseconds  = 50 * time.Millisecond
	Duration100Milliseconds = 100 * time.Millisecond

	Duration5Seconds  = 5 * time.Second
	Duration10Seconds = 10 * time.Second
	Duration30Seconds = 30 * time.Second
	Duration60Seconds = 60 * time.Second
)

// Domain-level timeout constants.
const (
	// KernelStartupTimeout bounds the wait for the initial readiness
	// handshake after spawning or forking a kernel process.
	KernelStartupTimeout = Duration10Seconds

	// KernelTaskTimeout is the default per-task deadline. Zero in a
	// Submit call means this value.
	KernelTaskTimeout = Duration60Seconds

	// KernelGracefulShutdownTimeout bounds the wait between closing a
	// kernel's stdin and escalating to SIGKILL.
	KernelGracefulShutdownTimeout = Duration5Seconds

	// KernelForkLivenessInterval is how often the manager polls a forked
	// child's PID. Forked kernels have no exec.Cmd to wait on and their
	// FIFOs never reach EOF at the host, so liveness is poll-based.
	KernelForkLivenessInterval = Duration100Milliseconds

	GatewayReadTimeout     = Duration30Seconds
	GatewayShutdownTimeout = Duration5Seconds
)
