package modbus

import (
	"bytes"
	"errors"
)

// ASCIIFrameStream accumulates an ASCII character buffer and extracts
// ':'-to-"\r\n" frames, LRC-validating and yielding each one's decoded
// bytes (payload, with the trailing LRC byte stripped).
type ASCIIFrameStream struct {
	buf       []byte
	lrcFailed bool
}

// NewASCIIFrameStream creates an empty scanner.
func NewASCIIFrameStream() *ASCIIFrameStream {
	return &ASCIIFrameStream{}
}

// Feed appends chunk (already ASCII/UTF-8 bytes) to the buffer and extracts
// every complete frame found. An invalid frame is skipped up to and
// including its "\r\n", and scanning resumes at the next ':'; bytes before
// that point are discarded.
func (s *ASCIIFrameStream) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)

	var frames [][]byte
	pos := 0
	for {
		start := bytes.IndexByte(s.buf[pos:], ':')
		if start == -1 {
			break
		}
		start += pos
		end := bytes.Index(s.buf[start:], asciiEnd)
		if end == -1 {
			break // wait for more data
		}
		end += start

		candidate := s.buf[start : end+len(asciiEnd)]
		pf, err := ParseASCII(candidate)
		if err == nil {
			frames = append(frames, reconstructBody(pf))
		} else if errors.Is(err, ErrBadLRC) {
			s.lrcFailed = true
		}
		pos = end + len(asciiEnd)
	}

	s.buf = cloneBytes(s.buf[pos:])
	return frames
}

// reconstructBody rebuilds the [slave, fc(|0x80), data...] byte sequence a
// successfully parsed ASCII frame decoded to, in the same shape an RTU
// frame's payload takes (minus the trailing CRC), so callers can treat
// frames from either stream uniformly.
func reconstructBody(pf *ParsedFrame) []byte {
	fc := pf.Function
	if pf.IsException {
		fc |= exceptionBit
	}
	if pf.IsException {
		return []byte{pf.SlaveID, byte(fc), pf.ExceptionCode}
	}
	if isReadFunction(pf.Function) {
		body := make([]byte, 3+len(pf.Data))
		body[0] = pf.SlaveID
		body[1] = byte(fc)
		body[2] = byte(len(pf.Data))
		copy(body[3:], pf.Data)
		return body
	}
	body := make([]byte, 2+len(pf.Data))
	body[0] = pf.SlaveID
	body[1] = byte(fc)
	copy(body[2:], pf.Data)
	return body
}

// TakeLRCFailure reports whether any frame was skipped for a bad LRC since
// the last call, clearing the flag. The facade variant uses this to decide
// when to drop its character accumulator outright.
func (s *ASCIIFrameStream) TakeLRCFailure() bool {
	failed := s.lrcFailed
	s.lrcFailed = false
	return failed
}

// Reset discards any buffered, not-yet-complete bytes.
func (s *ASCIIFrameStream) Reset() {
	s.buf = nil
	s.lrcFailed = false
}
