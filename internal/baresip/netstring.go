package baresip

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// maxNetstring bounds a single frame; ctrl_tcp messages are small JSON objects.
const maxNetstring = 1 << 20

// NetstringEncoder encodes data into netstring format
type NetstringEncoder struct {
	w io.Writer
}

// NewNetstringEncoder creates a new netstring encoder
func NewNetstringEncoder(w io.Writer) *NetstringEncoder {
	return &NetstringEncoder{w: w}
}

// Encode writes data as a netstring: <length>:<data>,
func (e *NetstringEncoder) Encode(data []byte) error {
	frame := make([]byte, 0, len(data)+12)
	frame = strconv.AppendInt(frame, int64(len(data)), 10)
	frame = append(frame, ':')
	frame = append(frame, data...)
	frame = append(frame, ',')
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write netstring: %w", err)
	}
	return nil
}

// NetstringDecoder decodes netstring-framed data from a stream
type NetstringDecoder struct {
	r      io.Reader
	buffer []byte
}

// NewNetstringDecoder creates a new netstring decoder
func NewNetstringDecoder(r io.Reader) *NetstringDecoder {
	return &NetstringDecoder{r: r}
}

// Decode reads and decodes the next netstring from the stream.
// Returns the payload without the framing. Malformed input is skipped one byte at a
// time until a valid frame starts.
func (d *NetstringDecoder) Decode() ([]byte, error) {
	chunk := make([]byte, 4096)
	for {
		payload, rest, status := parseNetstring(d.buffer)
		switch status {
		case frameOK:
			d.buffer = rest
			return payload, nil
		case frameInvalid:
			d.buffer = rest
			continue
		}

		n, err := d.r.Read(chunk)
		d.buffer = append(d.buffer, chunk[:n]...)
		if err != nil {
			if n > 0 && err == io.EOF {
				continue
			}
			return nil, err
		}
	}
}

type frameStatus int

const (
	frameIncomplete frameStatus = iota
	frameOK
	frameInvalid
)

// parseNetstring attempts to parse a complete netstring from buf.
// Returns (payload, remaining buffer, status).
func parseNetstring(buf []byte) ([]byte, []byte, frameStatus) {
	if len(buf) == 0 {
		return nil, buf, frameIncomplete
	}

	colonIdx := bytes.IndexByte(buf, ':')
	if colonIdx == -1 {
		if len(buf) > 10 || !isDigits(buf) {
			return nil, buf[1:], frameInvalid
		}
		return nil, buf, frameIncomplete
	}

	length, err := strconv.Atoi(string(buf[:colonIdx]))
	if err != nil || length < 0 || length > maxNetstring || !isDigits(buf[:colonIdx]) {
		return nil, buf[1:], frameInvalid
	}

	// Format: <length>:<data>,
	totalNeeded := colonIdx + 1 + length + 1
	if len(buf) < totalNeeded {
		return nil, buf, frameIncomplete
	}
	if buf[totalNeeded-1] != ',' {
		return nil, buf[1:], frameInvalid
	}

	payload := make([]byte, length)
	copy(payload, buf[colonIdx+1:colonIdx+1+length])
	return payload, buf[totalNeeded:], frameOK
}

func isDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
