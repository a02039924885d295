package modbus

import "fmt"

// FunctionCode identifies a Modbus PDU operation.
type FunctionCode uint8

// Function codes implemented by this engine (FC01-FC06, FC15-FC16).
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10

	exceptionBit = 0x80
)

// IsException reports whether the function code has the exception bit set.
func (f FunctionCode) IsException() bool { return f&exceptionBit != 0 }

// Base strips the exception bit, returning the underlying function code.
func (f FunctionCode) Base() FunctionCode { return f &^ exceptionBit }

// String renders the function code as "FCnn", with an "+exc" suffix when
// the exception bit is set, e.g. for metrics labels and log fields.
func (f FunctionCode) String() string {
	suffix := ""
	if f.IsException() {
		suffix = "+exc"
	}
	return fmt.Sprintf("FC%02d%s", f.Base(), suffix)
}

// ReadRequest describes a single FC01-FC04 read.
type ReadRequest struct {
	SlaveID  uint8
	Function FunctionCode
	Address  uint16
	Quantity uint16
}

// WriteRequest describes a single FC05/06/15/16 write. Value shape depends
// on Function:
//
//	FC05: bool, 0/1 int, or a single-element []bool
//	FC06: uint16, an int in 0..65535, or a single-element []uint16
//	FC15: []bool
//	FC16: []uint16
type WriteRequest struct {
	SlaveID  uint8
	Function FunctionCode
	Address  uint16
	Value    any
}

func isReadFunction(fc FunctionCode) bool {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs, FuncReadHoldingRegisters, FuncReadInputRegisters:
		return true
	default:
		return false
	}
}

func validSlaveID(id uint8) bool { return id >= 1 && id <= 247 }

// BuildReadPDU encodes req into a read PDU:
// slave | fc | addr_hi addr_lo | qty_hi qty_lo.
func BuildReadPDU(req ReadRequest) ([]byte, error) {
	if !isReadFunction(req.Function) {
		return nil, ErrInvalidFunctionCode
	}
	if !validSlaveID(req.SlaveID) {
		return nil, ErrValueOutOfRange
	}
	if req.Quantity == 0 {
		return nil, ErrValueOutOfRange
	}
	switch req.Function {
	case FuncReadCoils, FuncReadDiscreteInputs:
		if req.Quantity > 2000 {
			return nil, ErrValueOutOfRange
		}
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		if req.Quantity > 125 {
			return nil, ErrValueOutOfRange
		}
	}

	pdu := make([]byte, 6)
	pdu[0] = req.SlaveID
	pdu[1] = byte(req.Function)
	pdu[2] = byte(req.Address >> 8)
	pdu[3] = byte(req.Address)
	pdu[4] = byte(req.Quantity >> 8)
	pdu[5] = byte(req.Quantity)
	return pdu, nil
}

// BuildWritePDU encodes req into a write PDU:
// slave | fc | addr_hi addr_lo | value fields.
func BuildWritePDU(req WriteRequest) ([]byte, error) {
	if !validSlaveID(req.SlaveID) {
		return nil, ErrValueOutOfRange
	}
	switch req.Function {
	case FuncWriteSingleCoil:
		on, err := coerceSingleBit(req.Value)
		if err != nil {
			return nil, err
		}
		valHi, valLo := byte(0x00), byte(0x00)
		if on {
			valHi = 0xFF
		}
		return []byte{
			req.SlaveID, byte(req.Function),
			byte(req.Address >> 8), byte(req.Address),
			valHi, valLo,
		}, nil

	case FuncWriteSingleRegister:
		val, err := coerceRegister(req.Value)
		if err != nil {
			return nil, err
		}
		return []byte{
			req.SlaveID, byte(req.Function),
			byte(req.Address >> 8), byte(req.Address),
			byte(val >> 8), byte(val),
		}, nil

	case FuncWriteMultipleCoils:
		bits, ok := req.Value.([]bool)
		if !ok {
			return nil, ErrInvalidValueShape
		}
		if len(bits) == 0 || len(bits) > 1968 {
			return nil, ErrValueOutOfRange
		}
		byteCount := (len(bits) + 7) / 8
		pdu := make([]byte, 7+byteCount)
		pdu[0] = req.SlaveID
		pdu[1] = byte(req.Function)
		pdu[2] = byte(req.Address >> 8)
		pdu[3] = byte(req.Address)
		pdu[4] = byte(len(bits) >> 8)
		pdu[5] = byte(len(bits))
		pdu[6] = byte(byteCount)
		packBits(pdu[7:], bits)
		return pdu, nil

	case FuncWriteMultipleRegisters:
		regs, ok := req.Value.([]uint16)
		if !ok {
			return nil, ErrInvalidValueShape
		}
		if len(regs) == 0 || len(regs) > 123 {
			return nil, ErrValueOutOfRange
		}
		byteCount := 2 * len(regs)
		pdu := make([]byte, 7+byteCount)
		pdu[0] = req.SlaveID
		pdu[1] = byte(req.Function)
		pdu[2] = byte(req.Address >> 8)
		pdu[3] = byte(req.Address)
		pdu[4] = byte(len(regs) >> 8)
		pdu[5] = byte(len(regs))
		pdu[6] = byte(byteCount)
		for i, r := range regs {
			pdu[7+2*i] = byte(r >> 8)
			pdu[8+2*i] = byte(r)
		}
		return pdu, nil

	default:
		return nil, ErrInvalidFunctionCode
	}
}

// coerceSingleBit accepts the scalar-or-single-element-sequence shapes FC05
// allows: bool, an int 0/1, or a single-element []bool. Other integer
// types are rejected with ErrInvalidValueShape.
func coerceSingleBit(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int:
		return coerceIntBit(t)
	case []bool:
		if len(t) == 0 {
			return false, ErrInvalidValueShape
		}
		return t[0], nil
	default:
		return false, ErrInvalidValueShape
	}
}

func coerceIntBit(i int) (bool, error) {
	switch i {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ErrValueOutOfRange
	}
}

// coerceRegister accepts FC06's scalar-or-single-element-sequence shapes:
// a uint16, an int in 0..65535, or a single-element []uint16. Other integer
// types are rejected with ErrInvalidValueShape.
func coerceRegister(v any) (uint16, error) {
	switch t := v.(type) {
	case uint16:
		return t, nil
	case int:
		if t < 0 || t > 0xFFFF {
			return 0, ErrValueOutOfRange
		}
		return uint16(t), nil
	case []uint16:
		if len(t) == 0 {
			return 0, ErrInvalidValueShape
		}
		return t[0], nil
	default:
		return 0, ErrInvalidValueShape
	}
}

// packBits packs bits LSB-first into dst: bit i lives in byte i/8, bit
// position i mod 8.
func packBits(dst []byte, bits []bool) {
	for i, b := range bits {
		if b {
			dst[i/8] |= 1 << uint(i%8)
		}
	}
}
