package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// sentinel is the frame terminator byte. It cannot appear inside
// well-formed JSON, so framing needs no length prefix.
const sentinel = 0xFF

// ErrTruncatedFrame is returned when the stream ends in the middle of a
// frame (at least one byte was read but no sentinel followed).
var ErrTruncatedFrame = errors.New("ipc: connection closed mid-frame")

// ReadFrame reads up to and including the next sentinel byte and returns the
// bytes before it (the JSON payload). A clean close before any byte is read
// returns io.EOF. A close after some bytes but before a sentinel returns an
// error wrapping ErrTruncatedFrame (the underlying read error is included
// only as text). Any other read error is returned as is.
//
// The reader always consumes through the next sentinel (or EOF) even when
// the caller goes on to fail decoding the returned bytes as JSON, so a
// malformed frame never desynchronizes the stream.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	raw, err := r.ReadBytes(sentinel)
	if len(raw) == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrTruncatedFrame, err)
		}
		return nil, err
	}
	// Strip the trailing sentinel.
	return raw[:len(raw)-1], nil
}

// WriteFrame serializes v as JSON and appends the sentinel byte.
func WriteFrame(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: marshal frame: %w", err)
	}
	payload = append(payload, sentinel)
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: write frame: %w", err)
	}
	return nil
}

// ReadCommand reads one frame and decodes it as a Command. A clean close
// returns (Command{}, io.EOF); a close mid-frame returns an error wrapping
// ErrTruncatedFrame. A decode error is a plain wrapped error that matches
// neither, so the caller can tell it apart, swallow it and keep reading:
// the frame was already consumed through its sentinel.
func ReadCommand(r *bufio.Reader) (Command, error) {
	raw, err := ReadFrame(r)
	if err != nil {
		return Command{}, err
	}
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("ipc: decode command: %w", err)
	}
	return cmd, nil
}

// WriteResponse writes a framed Response.
func WriteResponse(w io.Writer, resp Response) error {
	return WriteFrame(w, resp)
}

// WriteCommand writes a framed Command (used by the control client).
func WriteCommand(w io.Writer, cmd Command) error {
	return WriteFrame(w, cmd)
}

// ReadResponse reads one frame and decodes it as a Response.
func ReadResponse(r *bufio.Reader) (Response, error) {
	raw, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("ipc: decode response: %w", err)
	}
	return resp, nil
}
