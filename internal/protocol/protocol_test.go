package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestExecSplitsCodeIntoLineFields(t *testing.T) {
	task := Exec("let a = 1\nlet b = 2\n")
	if len(task.Code) != 2 {
		t.Fatalf("expected 2 code fields, got %d: %q", len(task.Code), task.Code)
	}

	line, err := EncodeTask(task)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.ContainsRune(line, '\n') {
		t.Fatal("encoded task line must not contain newlines")
	}

	decoded, err := DecodeTask(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Tag != TagExec {
		t.Fatalf("expected EXEC, got %s", decoded.Tag)
	}
	if strings.Join(decoded.Code, "\n") != "let a = 1\nlet b = 2" {
		t.Fatalf("code did not survive the round trip: %q", decoded.Code)
	}
}

func TestEncodeDecodeEval(t *testing.T) {
	line, err := EncodeTask(Eval("6 * 7"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	task, err := DecodeTask(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Tag != TagEval || task.Expression != "6 * 7" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestEncodeDecodeVariableTasks(t *testing.T) {
	line, err := EncodeTask(Task{Tag: TagSet, Name: "answer", Value: "42"})
	if err != nil {
		t.Fatalf("encode set: %v", err)
	}
	task, err := DecodeTask(line)
	if err != nil {
		t.Fatalf("decode set: %v", err)
	}
	if task.Name != "answer" || task.Value != "42" {
		t.Fatalf("unexpected set task: %+v", task)
	}

	line, err = EncodeTask(Task{Tag: TagGet, Name: "answer"})
	if err != nil {
		t.Fatalf("encode get: %v", err)
	}
	task, err = DecodeTask(line)
	if err != nil {
		t.Fatalf("decode get: %v", err)
	}
	if task.Tag != TagGet || task.Name != "answer" {
		t.Fatalf("unexpected get task: %+v", task)
	}
}

func TestEncodeDecodeFork(t *testing.T) {
	line, err := EncodeTask(Task{Tag: TagFork, Stdin: "/run/in", Stdout: "/run/out", Stderr: ""})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	task, err := DecodeTask(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Stdin != "/run/in" || task.Stdout != "/run/out" || task.Stderr != "" {
		t.Fatalf("fork paths did not survive: %+v", task)
	}
}

func TestEncodeRejectsLineBreaksInFields(t *testing.T) {
	// A raw newline in any field would split one task into several wire
	// lines, and each extra line produces its own readiness pair. The
	// encoder must refuse the task before it reaches the stream.
	cases := map[string]Task{
		"set value":       {Tag: TagSet, Name: "x", Value: "{\n  \"a\": 1\n}"},
		"set name":        {Tag: TagSet, Name: "x\ny", Value: "1"},
		"eval expression": {Tag: TagEval, Expression: "1 +\n2"},
		"get name":        {Tag: TagGet, Name: "x\rcarriage"},
		"exec field":      {Tag: TagExec, Code: []string{"let a = 1", "let b =\n2"}},
		"fork path":       {Tag: TagFork, Stdin: "/run/in\n", Stdout: "/run/out", Stderr: ""},
	}
	for name, task := range cases {
		var frameErr *FrameError
		if _, err := EncodeTask(task); !errors.As(err, &frameErr) {
			t.Errorf("%s: expected FrameError, got %v", name, err)
		}
	}
}

func TestExecNormalizesCarriageReturns(t *testing.T) {
	task := Exec("let a = 1\r\nlet b = 2\r\n")
	if len(task.Code) != 2 || task.Code[0] != "let a = 1" || task.Code[1] != "let b = 2" {
		t.Fatalf("CRLF source not normalized: %q", task.Code)
	}
	if _, err := EncodeTask(task); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func TestEncodeRejectsMissingName(t *testing.T) {
	var frameErr *FrameError
	if _, err := EncodeTask(Task{Tag: TagGet}); !errors.As(err, &frameErr) {
		t.Fatalf("expected FrameError for GET without name, got %v", err)
	}
	if _, err := EncodeTask(Task{Tag: TagSet, Value: "1"}); !errors.As(err, &frameErr) {
		t.Fatalf("expected FrameError for SET without name, got %v", err)
	}
}

func TestDecodeMalformedLines(t *testing.T) {
	if _, err := DecodeTask(""); !errors.Is(err, ErrEmptyLine) {
		t.Fatalf("expected ErrEmptyLine, got %v", err)
	}

	var frameErr *FrameError
	cases := []string{
		"xy",
		string(TagEval),
		string(TagEval) + string(FieldSep) + "a" + string(FieldSep) + "b",
		string(TagInfo) + string(FieldSep) + "unexpected",
		string(TagGet) + string(FieldSep),
		string(TagFork) + string(FieldSep) + "only-one",
	}
	for _, line := range cases {
		if _, err := DecodeTask(line); !errors.As(err, &frameErr) {
			t.Errorf("DecodeTask(%q): expected FrameError, got %v", line, err)
		}
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	var unknownErr *UnknownTagError
	if _, err := DecodeTask("Z"); !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownTagError, got %v", err)
	}
}

func TestGuestTextNeedsNoEscaping(t *testing.T) {
	// Arbitrary printable text, including protocol-looking strings, must
	// pass through the frame untouched.
	expr := `"ACDC" + '\n' + "FieldSep"`
	line, err := EncodeTask(Eval(expr))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	task, err := DecodeTask(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Expression != expr {
		t.Fatalf("expression mutated in transit: %q", task.Expression)
	}
}
