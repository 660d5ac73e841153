// Package protocol implements the line-oriented framing codec spoken
// between the host session manager and every kernel adapter.
//
// A task line is a sequence of fields joined by a reserved separator
// codepoint and terminated by a newline. The first field is a single-rune
// task tag; the remaining fields are the task's arguments. All sentinel
// runes are drawn from Supplementary Private Use Area-B, so guest code and
// guest output never need escaping.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Reserved sentinel runes. These never occur in practical program text.
const (
	FieldSep         = '\U0010ACDC' // joins fields within a task line
	ResultTerminator = '\U0010CB40' // ends one record on stdout/stderr
	Ready            = '\U0010ABBA' // task complete, written on both streams
)

// TaskTag identifies a task variant on the wire. Each tag is one reserved rune.
type TaskTag rune

const (
	TagExec   TaskTag = '\U0010B522'
	TagEval   TaskTag = '\U0010B523'
	TagInfo   TaskTag = '\U0010B524'
	TagPkgs   TaskTag = '\U0010B525'
	TagList   TaskTag = '\U0010B526'
	TagGet    TaskTag = '\U0010B527'
	TagSet    TaskTag = '\U0010B528'
	TagRemove TaskTag = '\U0010B529'
	TagFork   TaskTag = '\U0010B52A'
	TagBox    TaskTag = '\U0010B52B'
)

// String returns the human-readable name of the tag.
func (t TaskTag) String() string {
	switch t {
	case TagExec:
		return "EXEC"
	case TagEval:
		return "EVAL"
	case TagInfo:
		return "INFO"
	case TagPkgs:
		return "PKGS"
	case TagList:
		return "LIST"
	case TagGet:
		return "GET"
	case TagSet:
		return "SET"
	case TagRemove:
		return "REMOVE"
	case TagFork:
		return "FORK"
	case TagBox:
		return "BOX"
	default:
		return fmt.Sprintf("UNKNOWN(%U)", rune(t))
	}
}

// Task is one unit of work sent to a kernel. Exactly one task is in
// flight per kernel process at a time.
type Task struct {
	Tag TaskTag

	// Code carries the source lines for Exec (one field per line).
	Code []string

	// Expression carries the single expression for Eval.
	Expression string

	// Name identifies the variable for Get, Set and Remove.
	Name string

	// Value carries the JSON payload for Set.
	Value string

	// Stdin, Stdout and Stderr are the filesystem paths a Fork child
	// rebinds its streams to. An empty string keeps the inherited stream.
	Stdin  string
	Stdout string
	Stderr string
}

// FrameError reports a malformed task line. It is recoverable: the
// adapter surfaces it as an ExecutionMessage and keeps serving tasks.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("protocol: malformed task line: %s", e.Reason)
}

// UnknownTagError reports a task tag the adapter does not recognise.
// Recoverable as well, surfaced as a MicrokernelError ExecutionMessage.
type UnknownTagError struct {
	Tag rune
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("protocol: unknown task tag %U", e.Tag)
}

// ErrEmptyLine signals a blank task line, which carries no task at all.
var ErrEmptyLine = errors.New("protocol: empty task line")

// EncodeTask renders a task as a single framed line (without the trailing
// newline; callers append it when writing).
func EncodeTask(task Task) (string, error) {
	var fields []string
	switch task.Tag {
	case TagExec:
		fields = task.Code
	case TagEval:
		fields = []string{task.Expression}
	case TagInfo, TagPkgs, TagList, TagBox:
		// No arguments.
	case TagGet, TagRemove:
		if task.Name == "" {
			return "", &FrameError{Reason: fmt.Sprintf("%s task requires a variable name", task.Tag)}
		}
		fields = []string{task.Name}
	case TagSet:
		if task.Name == "" {
			return "", &FrameError{Reason: "SET task requires a variable name"}
		}
		fields = []string{task.Name, task.Value}
	case TagFork:
		fields = []string{task.Stdin, task.Stdout, task.Stderr}
	default:
		return "", &UnknownTagError{Tag: rune(task.Tag)}
	}

	var sb strings.Builder
	sb.WriteRune(rune(task.Tag))
	for _, f := range fields {
		if strings.ContainsAny(f, "\n\r") {
			return "", &FrameError{Reason: fmt.Sprintf("%s task field contains a line break", task.Tag)}
		}
		sb.WriteRune(FieldSep)
		sb.WriteString(f)
	}
	return sb.String(), nil
}

// DecodeTask parses one framed line (newline already stripped) into a Task.
func DecodeTask(line string) (Task, error) {
	if line == "" {
		return Task{}, ErrEmptyLine
	}

	fields := strings.Split(line, string(FieldSep))
	tagField := fields[0]
	args := fields[1:]

	runes := []rune(tagField)
	if len(runes) != 1 {
		return Task{}, &FrameError{Reason: fmt.Sprintf("task tag field must be a single rune, got %q", tagField)}
	}
	tag := TaskTag(runes[0])

	task := Task{Tag: tag}
	switch tag {
	case TagExec:
		task.Code = args
	case TagEval:
		if len(args) != 1 {
			return Task{}, &FrameError{Reason: fmt.Sprintf("EVAL expects 1 argument, got %d", len(args))}
		}
		task.Expression = args[0]
	case TagInfo, TagPkgs, TagList, TagBox:
		if len(args) != 0 {
			return Task{}, &FrameError{Reason: fmt.Sprintf("%s expects no arguments, got %d", tag, len(args))}
		}
	case TagGet, TagRemove:
		if len(args) != 1 || args[0] == "" {
			return Task{}, &FrameError{Reason: fmt.Sprintf("%s expects a variable name", tag)}
		}
		task.Name = args[0]
	case TagSet:
		if len(args) != 2 || args[0] == "" {
			return Task{}, &FrameError{Reason: "SET expects a variable name and a JSON value"}
		}
		task.Name = args[0]
		task.Value = args[1]
	case TagFork:
		if len(args) != 3 {
			return Task{}, &FrameError{Reason: fmt.Sprintf("FORK expects 3 stream paths, got %d", len(args))}
		}
		task.Stdin, task.Stdout, task.Stderr = args[0], args[1], args[2]
	default:
		return Task{}, &UnknownTagError{Tag: rune(tag)}
	}
	return task, nil
}

// Exec builds an Exec task from raw source code, splitting it into one
// field per line so newlines never appear inside the frame. Carriage
// returns from CRLF sources are stripped with the newlines.
func Exec(code string) Task {
	lines := strings.Split(strings.TrimSuffix(code, "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return Task{Tag: TagExec, Code: lines}
}

// Eval builds an Eval task for a single expression.
func Eval(expression string) Task {
	return Task{Tag: TagEval, Expression: expression}
}
