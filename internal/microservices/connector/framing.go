package connector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Messages are newline-delimited: one compact JSON object per line.

// DefaultMaxMessageSize bounds a single frame, delimiter included.
const DefaultMaxMessageSize = 1024 * 1024

var ErrMessageTooLarge = errors.New("message exceeds maximum frame size")

// FrameReader reads delimited frames from a stream. After any error the
// reader is finished and the underlying connection should be dropped.
type FrameReader struct {
	scanner *bufio.Scanner
}

func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	initial := 4096
	if maxSize < initial {
		initial = maxSize
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initial), maxSize)
	scanner.Split(bufio.ScanLines)
	return &FrameReader{scanner: scanner}
}

// ReadFrame returns the next frame without its delimiter. It returns io.EOF
// once the peer has closed the stream.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	if f.scanner.Scan() {
		frame := make([]byte, len(f.scanner.Bytes()))
		copy(frame, f.scanner.Bytes())
		return frame, nil
	}
	err := f.scanner.Err()
	switch {
	case err == nil:
		return nil, io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return nil, ErrMessageTooLarge
	default:
		return nil, err
	}
}

// EncodeFrame turns a payload into a single frame. Valid JSON is compacted;
// anything else has its line breaks flattened so it still occupies exactly
// one frame and reaches the peer's decoder.
func EncodeFrame(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 1)
	if json.Valid(payload) {
		_ = json.Compact(&buf, payload) // cannot fail on valid input
	} else {
		flat := bytes.ReplaceAll(payload, []byte("\r\n"), []byte(" "))
		flat = bytes.ReplaceAll(flat, []byte("\n"), []byte(" "))
		buf.Write(bytes.ReplaceAll(flat, []byte("\r"), []byte(" ")))
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}

// WriteFrame writes payload as one frame in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(EncodeFrame(payload)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// WriteJSON marshals v and writes it as one frame.
func WriteJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	return WriteFrame(w, data)
}
