package protocol

import (
	"bufio"
	"bytes"
	"io"
)

// RecordKind classifies one record split off a kernel output stream.
type RecordKind int

const (
	// RecordValue is a discrete JSON payload terminated by ResultTerminator.
	RecordValue RecordKind = iota
	// RecordReady is the bare readiness token ending a task's output.
	RecordReady
)

// Record is one unit split off a kernel's stdout or stderr stream.
type Record struct {
	Kind    RecordKind
	Payload []byte // JSON bytes for RecordValue, empty for RecordReady
}

// maxRecordSize bounds a single record (64 MB). Larger values must be
// summarised via variable hints rather than transmitted whole.
const maxRecordSize = 64 << 20

var (
	resultTerminatorBytes = []byte(string(ResultTerminator))
	readyBytes            = []byte(string(Ready))
)

// RecordScanner splits a byte stream into records without waiting for
// line boundaries: a record ends at the first ResultTerminator, and a
// bare Ready token yields a RecordReady.
type RecordScanner struct {
	s *bufio.Scanner
}

// NewRecordScanner wraps r with record-boundary splitting.
func NewRecordScanner(r io.Reader) *RecordScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxRecordSize)
	s.Split(splitRecords)
	return &RecordScanner{s: s}
}

// Scan advances to the next record. It returns false at EOF or on error.
func (rs *RecordScanner) Scan() bool {
	return rs.s.Scan()
}

// Record returns the record produced by the last successful Scan.
func (rs *RecordScanner) Record() Record {
	tok := rs.s.Bytes()
	if bytes.HasSuffix(tok, readyBytes) {
		return Record{Kind: RecordReady}
	}
	payload := bytes.TrimSuffix(tok, resultTerminatorBytes)
	return Record{Kind: RecordValue, Payload: append([]byte(nil), payload...)}
}

// Err reports the first non-EOF error encountered while scanning.
func (rs *RecordScanner) Err() error {
	return rs.s.Err()
}

// splitRecords is a bufio.SplitFunc producing tokens that end with either
// ResultTerminator or Ready, whichever occurs first. Inter-record
// whitespace (the newline after a Ready token) is skipped.
func splitRecords(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := 0
	for start < len(data) && (data[start] == '\n' || data[start] == '\r') {
		start++
	}
	if start == len(data) {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	resIdx := bytes.Index(data[start:], resultTerminatorBytes)
	readyIdx := bytes.Index(data[start:], readyBytes)

	switch {
	case resIdx >= 0 && (readyIdx < 0 || resIdx < readyIdx):
		end := start + resIdx + len(resultTerminatorBytes)
		return end, data[start:end], nil
	case readyIdx >= 0:
		end := start + readyIdx + len(readyBytes)
		return end, data[start:end], nil
	}

	if atEOF {
		// Trailing bytes with no terminator: the stream was cut short.
		// Surface them as-is so the caller can detect the missing handshake.
		return len(data), data[start:], nil
	}
	return start, nil, nil
}

// StreamWriter writes framed records on an adapter output stream. Not
// safe for concurrent use; the task loop is single-threaded by design.
type StreamWriter struct {
	w *bufio.Writer
}

// NewStreamWriter wraps w for record-framed output.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: bufio.NewWriter(w)}
}

// WriteRecord emits one discrete payload followed by the result terminator.
func (sw *StreamWriter) WriteRecord(payload []byte) error {
	if _, err := sw.w.Write(payload); err != nil {
		return err
	}
	if _, err := sw.w.WriteRune(ResultTerminator); err != nil {
		return err
	}
	return nil
}

// WriteReady emits the bare readiness token and flushes the stream, making
// everything written for the current task visible to the host.
func (sw *StreamWriter) WriteReady() error {
	if _, err := sw.w.WriteRune(Ready); err != nil {
		return err
	}
	if _, err := sw.w.WriteRune('\n'); err != nil {
		return err
	}
	return sw.w.Flush()
}
