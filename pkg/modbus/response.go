package modbus

import "time"

// Response is the typed result of a successful read or write exchange.
// Address is a caller-side annotation only: the wire protocol
// does not always echo it (writes do; reads don't carry it at all), so
// callers populate it from the originating request rather than the frame.
type Response struct {
	SlaveID  uint8
	Function FunctionCode

	// Registers holds decoded FC03/FC04 values, big-endian on the wire.
	Registers []uint16

	// Bits holds decoded FC01/FC02 values, exactly Quantity long.
	Bits []uint8

	// Address echoes the originating request's address. Caller-side
	// annotation only; it is never read back off the wire.
	Address uint16

	// CorrelationID ties this response to the outbound request that
	// produced it, for logging/observability. Never placed on the wire.
	CorrelationID string

	Timestamp time.Time
}

// NewReadResponse builds a Response from a matched read ParsedFrame,
// decoding registers or bits according to fc.
func NewReadResponse(pf *ParsedFrame, req ReadRequest, correlationID string) *Response {
	resp := &Response{
		SlaveID:       pf.SlaveID,
		Function:      pf.Function,
		Address:       req.Address,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
	switch req.Function {
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		resp.Registers = DecodeRegisters(pf.Data)
	case FuncReadCoils, FuncReadDiscreteInputs:
		resp.Bits = DecodeBits(pf.Data, req.Quantity)
	}
	return resp
}

// NewWriteResponse builds a Response acknowledging a successful write echo.
// No payload decoding is performed; a write response's only meaning is
// that the echo matched.
func NewWriteResponse(pf *ParsedFrame, req WriteRequest, correlationID string) *Response {
	return &Response{
		SlaveID:       pf.SlaveID,
		Function:      pf.Function,
		Address:       req.Address,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
}
