package modbus

import (
	"context"

	"github.com/commatea/modbus-engine/pkg/transport"
)

// Protocol selects the on-wire framing: RTU (binary + CRC16) or ASCII
// (hex-encoded + LRC8).
type Protocol int

const (
	RTU Protocol = iota
	ASCII
)

func (p Protocol) String() string {
	if p == ASCII {
		return "ascii"
	}
	return "rtu"
}

// frameScanner is satisfied by both RTUFrameStream and ASCIIFrameStream:
// each turns freshly arrived bytes into zero or more already-validated raw
// frames starting [slave, fc(|0x80), payload...]. RTU frames keep their
// trailing CRC bytes; ASCII frames carry no checksum.
type frameScanner interface {
	Feed(chunk []byte) [][]byte
}

func newScanner(proto Protocol) frameScanner {
	if proto == ASCII {
		return NewASCIIFrameStream()
	}
	return NewRTUFrameStream()
}

// Exchange sends requestADU over tr and waits for the first frame whose
// slave id and function code (or its exception variant) match. It owns its
// accumulation buffer for the duration of the call; the transport is never
// owned, only borrowed.
func Exchange(ctx context.Context, tr transport.Transport, proto Protocol, requestADU []byte, expectedSlave uint8, expectedFC FunctionCode) (*ParsedFrame, error) {
	select {
	case <-ctx.Done():
		return nil, &CancelledError{Reason: ctx.Err()}
	default:
	}

	if !tr.Connected() {
		return nil, ErrTransportNotConnected
	}

	if err := tr.Send(ctx, requestADU); err != nil {
		return nil, &TransportSendError{Err: err}
	}

	events := tr.Events(ctx)
	chunks := adaptByteStream(ctx, events)
	scanner := newScanner(proto)

	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		for _, raw := range scanner.Feed(chunk.Data) {
			if len(raw) < 3 || raw[0] != expectedSlave {
				continue
			}
			fc := FunctionCode(raw[1])
			if fc.Base() != expectedFC {
				continue
			}
			if fc.IsException() {
				return nil, &Exception{Code: raw[2]}
			}
			if proto == RTU {
				// RTU frames arrive as full ADUs; ParseRTU re-derives the
				// payload boundaries and strips the CRC.
				return ParseRTU(raw)
			}
			return ParseScannedBody(raw)
		}
	}

	if ctx.Err() != nil {
		return nil, &CancelledError{Reason: ctx.Err()}
	}
	return nil, ErrStreamEnded
}

// ParseScannedBody turns the checksum-free [slave, fc(|0x80), payload...]
// shape yielded by ASCIIFrameStream (and rebuilt by the facade variant)
// into a ParsedFrame, decoding the payload per function code.
func ParseScannedBody(raw []byte) (*ParsedFrame, error) {
	if len(raw) < 2 {
		return nil, &FrameError{Kind: FrameTooShort}
	}
	fc := FunctionCode(raw[1])
	pf := &ParsedFrame{
		SlaveID:     raw[0],
		Function:    fc.Base(),
		IsException: fc.IsException(),
	}
	if fc.IsException() {
		if len(raw) < 3 {
			return nil, &FrameError{Kind: FrameTooShort}
		}
		pf.ExceptionCode = raw[2]
		return pf, nil
	}
	if isReadFunction(fc.Base()) {
		if len(raw) < 3 {
			return nil, &FrameError{Kind: FrameTooShort}
		}
		byteCount := int(raw[2])
		if len(raw) < 3+byteCount {
			return nil, &FrameError{Kind: FrameIncomplete}
		}
		pf.Data = cloneBytes(raw[3 : 3+byteCount])
		return pf, nil
	}
	// Write echo: address + value/quantity fields, not decoded further.
	pf.Data = cloneBytes(raw[2:])
	return pf, nil
}

// DecodeRegisters decodes an FC03/FC04 payload into big-endian u16 registers.
func DecodeRegisters(data []byte) []uint16 {
	regs := make([]uint16, len(data)/2)
	for i := range regs {
		regs[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return regs
}

// DecodeBits decodes an FC01/FC02 payload into exactly quantity bits, LSB of
// byte 0 is bit 0.
func DecodeBits(data []byte, quantity uint16) []uint8 {
	bits := make([]uint8, quantity)
	for i := range bits {
		byteIdx, bitIdx := i/8, uint(i%8)
		if byteIdx >= len(data) {
			break
		}
		bits[i] = (data[byteIdx] >> bitIdx) & 1
	}
	return bits
}
