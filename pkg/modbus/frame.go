package modbus

import (
	"bytes"
	"encoding/hex"
)

// ParsedFrame is a decoded, checksum-validated ADU: the slave id, function
// code with the exception bit stripped, and the payload bytes without
// header or checksum.
type ParsedFrame struct {
	SlaveID       uint8
	Function      FunctionCode
	Data          []byte
	IsException   bool
	ExceptionCode uint8
}

// WrapRTU appends a little-endian CRC16 to pdu, producing an RTU ADU.
func WrapRTU(pdu []byte) []byte {
	crc := CRC16(pdu)
	adu := make([]byte, len(pdu)+2)
	copy(adu, pdu)
	adu[len(pdu)] = byte(crc)
	adu[len(pdu)+1] = byte(crc >> 8)
	return adu
}

var asciiEnd = []byte("\r\n")

// WrapASCII renders pdu as an ASCII ADU: ':' + uppercase hex of each byte +
// two hex digits of the LRC + "\r\n".
func WrapASCII(pdu []byte) []byte {
	lrc := LRC8(pdu)
	framed := make([]byte, 0, 1+2*(len(pdu)+1)+2)
	framed = append(framed, ':')
	framed = appendHex(framed, pdu)
	framed = appendHex(framed, []byte{lrc})
	framed = append(framed, asciiEnd...)
	return framed
}

func appendHex(dst []byte, data []byte) []byte {
	const hexDigits = "0123456789ABCDEF"
	for _, b := range data {
		dst = append(dst, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	return dst
}

// expectedLengthFor returns the total RTU ADU length implied by a function
// code and (for FC01-04) a byte count, or -1 if it cannot be determined from
// the bytes seen so far.
func expectedLengthFor(buf []byte) int {
	fc := FunctionCode(buf[1])
	if fc.IsException() {
		return 5
	}
	switch fc.Base() {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		if len(buf) < 3 {
			return -2 // need more bytes before the length is knowable
		}
		return 3 + int(buf[2]) + 2
	case FuncWriteSingleCoil, FuncWriteSingleRegister, FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return 8
	default:
		return -1
	}
}

// ExpectedRTULength returns the total length of the RTU frame starting at
// buf[0], or -1 if the function code is unrecognised (or more bytes are
// needed before that can be determined).
func ExpectedRTULength(buf []byte) int {
	if len(buf) < 2 {
		return -1
	}
	n := expectedLengthFor(buf)
	if n == -2 {
		return -1
	}
	return n
}

// checkRTUCRC reports whether the little-endian CRC at buf[n-2:n] matches
// the CRC computed over buf[:n-2].
func checkRTUCRC(buf []byte, n int) bool {
	got := uint16(buf[n-2]) | uint16(buf[n-1])<<8
	return CRC16(buf[:n-2]) == got
}

// ParseRTU decodes and validates an RTU ADU. Response framing is tried
// first; a buffer that only validates as a master-side request (which for
// FC01-04 carries no byte-count header, and for FC15/16 carries its
// payload inline) is accepted too, so building and parsing round-trip.
// The stream scanners always hand exact-length response candidates, so
// the request interpretation never fires there.
func ParseRTU(buf []byte) (*ParsedFrame, error) {
	if len(buf) < 5 {
		return nil, &FrameError{Kind: FrameTooShort}
	}
	fc := FunctionCode(buf[1])

	if fc.IsException() {
		if !checkRTUCRC(buf, 5) {
			return nil, ErrBadCRC
		}
		return &ParsedFrame{
			SlaveID:       buf[0],
			Function:      fc.Base(),
			IsException:   true,
			ExceptionCode: buf[2],
		}, nil
	}

	pf := &ParsedFrame{SlaveID: buf[0], Function: fc}
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		expected := 3 + int(buf[2]) + 2
		if len(buf) >= expected && checkRTUCRC(buf, expected) {
			pf.Data = cloneBytes(buf[3 : 3+int(buf[2])])
			return pf, nil
		}
		if len(buf) == 8 && checkRTUCRC(buf, 8) {
			pf.Data = cloneBytes(buf[2:6])
			return pf, nil
		}
		if len(buf) < expected {
			return nil, &FrameError{Kind: FrameIncomplete}
		}
		return nil, ErrBadCRC

	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		if len(buf) < 8 {
			return nil, &FrameError{Kind: FrameIncomplete}
		}
		if !checkRTUCRC(buf, 8) {
			return nil, ErrBadCRC
		}
		pf.Data = cloneBytes(buf[2:6])
		return pf, nil

	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		if len(buf) < 8 {
			return nil, &FrameError{Kind: FrameIncomplete}
		}
		// Echo: address + quantity, fixed 8 bytes.
		if len(buf) == 8 && checkRTUCRC(buf, 8) {
			pf.Data = cloneBytes(buf[2:6])
			return pf, nil
		}
		// Request: address + quantity + byte count + packed payload.
		if n := len(buf); n > 8 && int(buf[6]) == n-9 && checkRTUCRC(buf, n) {
			pf.Data = cloneBytes(buf[2 : n-2])
			return pf, nil
		}
		return nil, ErrBadCRC

	default:
		return nil, &FrameError{Kind: FrameUnknownFunctionCode}
	}
}

// ParseASCII decodes and validates an ASCII ADU, which may include its
// trailing "\r\n".
func ParseASCII(frame []byte) (*ParsedFrame, error) {
	frame = bytes.TrimSuffix(frame, asciiEnd)
	if len(frame) < 3 || frame[0] != ':' {
		return nil, &FrameError{Kind: FrameBadFormat}
	}
	hexPart := frame[1:]
	if len(hexPart)%2 != 0 {
		return nil, &FrameError{Kind: FrameBadHexLength}
	}
	raw := make([]byte, len(hexPart)/2)
	if _, err := hex.Decode(raw, hexPart); err != nil {
		return nil, &FrameError{Kind: FrameBadHex}
	}
	if len(raw) < 3 {
		return nil, &FrameError{Kind: FrameBadFormat}
	}

	body, gotLRC := raw[:len(raw)-1], raw[len(raw)-1]
	if LRC8(body) != gotLRC {
		return nil, ErrBadLRC
	}

	fc := FunctionCode(body[1])
	pf := &ParsedFrame{
		SlaveID:     body[0],
		Function:    fc.Base(),
		IsException: fc.IsException(),
	}
	switch {
	case fc.IsException():
		if len(body) < 3 {
			return nil, &FrameError{Kind: FrameBadFormat}
		}
		pf.ExceptionCode = body[2]
	case isReadFunction(fc.Base()):
		if len(body) < 3 {
			return nil, &FrameError{Kind: FrameBadFormat}
		}
		byteCount := int(body[2])
		if len(body) < 3+byteCount {
			return nil, &FrameError{Kind: FrameBadFormat}
		}
		pf.Data = cloneBytes(body[3 : 3+byteCount])
	default:
		pf.Data = cloneBytes(body[2:])
	}
	return pf, nil
}

// legalFunctions is the set of function codes this engine issues requests for.
var legalFunctions = map[FunctionCode]bool{
	FuncReadCoils: true, FuncReadDiscreteInputs: true,
	FuncReadHoldingRegisters: true, FuncReadInputRegisters: true,
	FuncWriteSingleCoil: true, FuncWriteSingleRegister: true,
	FuncWriteMultipleCoils: true, FuncWriteMultipleRegisters: true,
}

// IsPlausibleRTUStart reports whether buf[i:] could plausibly be the start
// of an RTU frame: a legal slave id followed by a legal (or exception-
// flagged legal) function code.
func IsPlausibleRTUStart(buf []byte, i int) bool {
	if i < 0 || i+1 >= len(buf) {
		return false
	}
	slave := buf[i]
	if slave < 1 || slave > 247 {
		return false
	}
	fc := FunctionCode(buf[i+1])
	return legalFunctions[fc.Base()]
}

// FindResyncPosition returns the smallest j >= 1 at which buf could
// plausibly restart framing, or -1 if none is found.
func FindResyncPosition(buf []byte) int {
	for j := 1; j < len(buf); j++ {
		if IsPlausibleRTUStart(buf, j) {
			return j
		}
	}
	return -1
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
