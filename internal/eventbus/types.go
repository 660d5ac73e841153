package eventbus

import "time"

// Topic identifies a logical channel on the bus.
type Topic string

// Standard topics.
const (
	TopicKernelsLifecycle Topic = "kernels.lifecycle"
	TopicKernelsResult    Topic = "kernels.result"
	TopicKernelsMessage   Topic = "kernels.message"
	TopicKernelsForked    Topic = "kernels.forked"
)

// Source describes which component produced an event.
type Source string

const (
	SourceSessionManager Source = "session_manager"
	SourceGateway        Source = "gateway"
	SourceCLI            Source = "cli"
	SourceUnknown        Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   any
}

// KernelState summarises lifecycle changes of a kernel session.
type KernelState string

const (
	KernelStateStarting KernelState = "starting"
	KernelStateRunning  KernelState = "running"
	KernelStateStopped  KernelState = "stopped"
	KernelStateCrashed  KernelState = "crashed"
)

// KernelReasonTerminated is the Reason value set on lifecycle events
// published by a user-initiated terminate. Consumers can use it to
// suppress notifications for kills the user already knows about.
const KernelReasonTerminated = "session_terminated"

// KernelReasonTimeout marks sessions killed after a task deadline expired.
const KernelReasonTimeout = "task_timeout"

// KernelLifecycleEvent notifies consumers about session state transitions.
type KernelLifecycleEvent struct {
	SessionID string
	Kernel    string // kernelspec name or command basename
	State     KernelState
	PID       int
	ExitCode  *int
	Reason    string
}

// KernelResultEvent carries one value record produced by a task.
type KernelResultEvent struct {
	SessionID string
	Task      string // task tag name, e.g. "EXEC"
	Sequence  uint64
	Payload   []byte // wire JSON of the reported value
}

// KernelMessageEvent carries one ExecutionMessage from a task.
type KernelMessageEvent struct {
	SessionID string
	Task      string
	Level     string
	ErrorKind string
	Message   string
}

// KernelForkedEvent announces a new session cloned from a running one.
type KernelForkedEvent struct {
	ParentID string
	ChildID  string
	ChildPID int
}

// ---------------------------------------------------------------------------
// Typed topic descriptors
// ---------------------------------------------------------------------------
// Each TopicDef binds a Topic constant to its payload type, enabling
// compile-time enforcement via Publish[T] and SubscribeTo[T].

// Kernels groups kernel session topic descriptors.
var Kernels = struct {
	Lifecycle TopicDef[KernelLifecycleEvent]
	Result    TopicDef[KernelResultEvent]
	Message   TopicDef[KernelMessageEvent]
	Forked    TopicDef[KernelForkedEvent]
}{
	Lifecycle: NewTopicDef[KernelLifecycleEvent](TopicKernelsLifecycle),
	Result:    NewTopicDef[KernelResultEvent](TopicKernelsResult),
	Message:   NewTopicDef[KernelMessageEvent](TopicKernelsMessage),
	Forked:    NewTopicDef[KernelForkedEvent](TopicKernelsForked),
}
