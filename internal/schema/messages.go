package schema

// MessageLevel grades the severity of an execution message.
type MessageLevel string

const (
	LevelInfo    MessageLevel = "Info"
	LevelWarning MessageLevel = "Warning"
	LevelError   MessageLevel = "Error"
)

// Error kinds carried in ExecutionMessage.ErrorType. Guest-originated
// kinds are recovered inside the adapter; host kinds terminate a session.
const (
	ErrorKindSyntax           = "SyntaxError"
	ErrorKindRuntime          = "RuntimeError"
	ErrorKindInterrupt        = "Interrupt"
	ErrorKindPermissionDenied = "PermissionDenied"
	ErrorKindFrame            = "FrameError"
	ErrorKindMicrokernel      = "MicrokernelError"
	ErrorKindTimeout          = "Timeout"
	ErrorKindKernelCrashed    = "KernelCrashed"
)

// ExecutionMessage is a diagnostic emitted on the error stream, never the
// result stream.
type ExecutionMessage struct {
	Type       string       `json:"type"`
	Level      MessageLevel `json:"level"`
	Message    string       `json:"message"`
	ErrorType  string       `json:"errorType,omitempty"`
	StackTrace string       `json:"stackTrace,omitempty"`
}

// InfoMessage builds an informational message.
func InfoMessage(message string) ExecutionMessage {
	return ExecutionMessage{Type: "ExecutionMessage", Level: LevelInfo, Message: message}
}

// WarningMessage builds a warning message.
func WarningMessage(message string) ExecutionMessage {
	return ExecutionMessage{Type: "ExecutionMessage", Level: LevelWarning, Message: message}
}

// ErrorMessage builds an error message of the given kind.
func ErrorMessage(kind, message string) ExecutionMessage {
	return ExecutionMessage{Type: "ExecutionMessage", Level: LevelError, Message: message, ErrorType: kind}
}

// ErrorMessageWithTrace builds an error message carrying a stack trace.
func ErrorMessageWithTrace(kind, message, stackTrace string) ExecutionMessage {
	msg := ErrorMessage(kind, message)
	msg.StackTrace = stackTrace
	return msg
}

// Variable describes one binding of a kernel's evaluation environment as
// reported by a LIST task.
type Variable struct {
	Type       string   `json:"type"`
	Name       string   `json:"name"`
	NativeType string   `json:"nativeType"`
	NodeType   NodeType `json:"nodeType"`
	Hint       Hint     `json:"hint,omitempty"`
}

// NewVariable builds a Variable record with the fixed type tag.
func NewVariable(name, nativeType string, nodeType NodeType, hint Hint) Variable {
	return Variable{Type: "Variable", Name: name, NativeType: nativeType, NodeType: nodeType, Hint: hint}
}

// RuntimeInfo is the fixed-shape descriptor returned by an INFO task.
type RuntimeInfo struct {
	Type            string `json:"type"`
	Name            string `json:"name"`
	SoftwareVersion string `json:"softwareVersion"`
	OperatingSystem string `json:"operatingSystem"`
}

// NewRuntimeInfo builds a RuntimeInfo with the fixed type tag.
func NewRuntimeInfo(name, version, os string) RuntimeInfo {
	return RuntimeInfo{Type: "SoftwareApplication", Name: name, SoftwareVersion: version, OperatingSystem: os}
}

// PackageInfo is one installed guest-language library, as reported by a
// PKGS task.
type PackageInfo struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// NewPackageInfo builds a PackageInfo with the fixed type tag.
func NewPackageInfo(name, version string) PackageInfo {
	return PackageInfo{Type: "SoftwareSourceCode", Name: name, Version: version}
}
