package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codefionn/relayd/internal/consts"
)

// ErrFrameTooLarge is reported when the accumulated buffer exceeds the frame
// size limit without a delimiter in sight. The buffer is discarded so the
// decoder can resynchronize on the next delimiter.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// Frame is one complete newline-delimited unit from the wire. Msg holds the
// parsed JSON value; when the line is not valid JSON, Err is set and Raw
// carries the original bytes for inspection (foreign-protocol probes).
type Frame struct {
	Raw []byte
	Msg json.RawMessage
	Err error
}

// Decoder reassembles newline-delimited JSON frames from an arbitrary
// sequence of byte chunks. A chunk may contain multiple frames, a partial
// frame, or the tail of a frame started in an earlier chunk; the decoder
// scans the accumulated buffer, not just the newest chunk.
type Decoder struct {
	buf      []byte
	maxFrame int
}

// NewDecoder creates a decoder with the given frame size limit. A limit of
// zero or less falls back to consts.MaxFrameSize.
func NewDecoder(maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = consts.MaxFrameSize
	}
	return &Decoder{maxFrame: maxFrame}
}

// Feed appends a chunk to the receive buffer and returns every complete frame
// now available, in wire order. Blank lines are silently discarded. Any
// trailing incomplete fragment stays buffered for the next chunk.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}

		line := make([]byte, idx)
		copy(line, d.buf[:idx])
		d.buf = d.buf[idx+1:]

		line = bytes.TrimRight(line, "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		frames = append(frames, decodeLine(line))
	}

	// A partial frame may legitimately span many chunks, but it must stay
	// under the frame limit or the stream is considered desynchronized.
	if len(d.buf) > d.maxFrame {
		d.buf = nil
		frames = append(frames, Frame{Err: fmt.Errorf("%w (limit %d bytes)", ErrFrameTooLarge, d.maxFrame)})
	}

	return frames
}

// Buffered returns the number of bytes waiting for a delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.buf = nil
}

func decodeLine(line []byte) Frame {
	if !json.Valid(line) {
		return Frame{Raw: line, Err: fmt.Errorf("invalid JSON frame (%d bytes)", len(line))}
	}
	return Frame{Raw: line, Msg: json.RawMessage(line)}
}

// EncodeFrame serializes a message and appends exactly one delimiter.
func EncodeFrame(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return append(data, '\n'), nil
}
