package client

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/commatea/modbus-engine/pkg/metrics"
	"github.com/commatea/modbus-engine/pkg/modbus"
)

// inlinePending extends pendingRequest with the bits HandleResponse needs
// to decode and deliver a result once a matching frame is found: the
// original request (for address/quantity context) and the channel its
// waiter blocks on.
type inlinePending struct {
	pendingRequest
	readReq  *modbus.ReadRequest
	writeReq *modbus.WriteRequest
	resultCh chan inlineResult
	started  time.Time
}

type inlineResult struct {
	resp *modbus.Response
	err  error
}

// BeginRead sends a read request and installs it as the pending request,
// but does not wait for a response: bytes are expected to arrive via
// HandleResponse, e.g. because the transport delivers them out of band
// rather than through Events. Returns ErrBusy immediately if a request is
// already pending.
func (c *Client) BeginRead(ctx context.Context, req modbus.ReadRequest) error {
	pdu, err := modbus.BuildReadPDU(req)
	if err != nil {
		return err
	}
	return c.beginInline(ctx, pdu, req.SlaveID, req.Function, &req, nil)
}

// BeginWrite is BeginRead's write counterpart.
func (c *Client) BeginWrite(ctx context.Context, req modbus.WriteRequest) error {
	pdu, err := modbus.BuildWritePDU(req)
	if err != nil {
		return err
	}
	return c.beginInline(ctx, pdu, req.SlaveID, req.Function, nil, &req)
}

func (c *Client) beginInline(ctx context.Context, pdu []byte, slaveID uint8, fc modbus.FunctionCode, readReq *modbus.ReadRequest, writeReq *modbus.WriteRequest) error {
	c.mu.Lock()
	proto := c.protocol
	busy := c.pending != nil
	c.mu.Unlock()
	if busy {
		return modbus.ErrBusy
	}

	var adu []byte
	if proto == modbus.ASCII {
		adu = modbus.WrapASCII(pdu)
	} else {
		adu = modbus.WrapRTU(pdu)
	}

	ip := &inlinePending{
		pendingRequest: pendingRequest{slaveID: slaveID, function: fc, state: stateAwaiting},
		readReq:        readReq,
		writeReq:       writeReq,
		resultCh:       make(chan inlineResult, 1),
		started:        time.Now(),
	}

	ip.cancel = func() { c.cancelInline(ip) }

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return modbus.ErrBusy
	}
	c.pending = &ip.pendingRequest
	c.inline = ip
	c.mu.Unlock()
	metrics.SetPending(c.device, true)

	if err := c.tr.Send(ctx, adu); err != nil {
		c.release()
		c.mu.Lock()
		c.inline = nil
		c.mu.Unlock()
		return &modbus.TransportSendError{Err: err}
	}
	select {
	case c.outbound <- adu:
	default:
	}
	return nil
}

// cancelInline clears ip's pending slot and delivers a CancelledError to
// its waiter; installed as the pendingRequest's cancellation hook so
// CancelPending works uniformly for both facade variants.
func (c *Client) cancelInline(ip *inlinePending) {
	c.mu.Lock()
	if c.inline != ip || ip.state != stateAwaiting {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.inline = nil
	c.rtuBuf = nil
	c.mu.Unlock()
	metrics.SetPending(c.device, false)

	select {
	case ip.resultCh <- inlineResult{err: &modbus.CancelledError{}}:
	default:
	}
}

// AwaitPending blocks until the currently inline-pending request
// completes or ctx is done, returning its decoded result. A request that
// HandleResponse already completed is returned immediately.
func (c *Client) AwaitPending(ctx context.Context) (*modbus.Response, error) {
	c.mu.Lock()
	ip := c.inline
	c.mu.Unlock()
	if ip == nil {
		return nil, modbus.ErrStreamEnded
	}
	select {
	case res := <-ip.resultCh:
		c.mu.Lock()
		if c.inline == ip {
			c.inline = nil
		}
		c.mu.Unlock()
		return res.resp, res.err
	case <-ctx.Done():
		return nil, &modbus.CancelledError{Reason: ctx.Err()}
	}
}

// HandleResponse feeds bytes arriving out of band into the facade's own
// buffer and drives one scanner step, completing the pending inline
// request on a match. On each RTU CRC failure with a request pending it
// shifts the buffer to modbus.FindResyncPosition and keeps scanning from
// there; if no plausible restart is found, the whole buffer is dropped. An
// ASCII LRC failure clears the buffer outright.
func (c *Client) HandleResponse(data []byte) {
	c.mu.Lock()
	proto := c.protocol
	ip := c.inline
	if ip != nil && ip.state != stateAwaiting {
		ip = nil // completed; only AwaitPending's collection is outstanding
	}
	c.mu.Unlock()
	if ip == nil {
		return
	}

	if proto == modbus.ASCII {
		c.handleASCII(ip, data)
		return
	}
	c.handleRTU(ip, data)
}

func (c *Client) handleRTU(ip *inlinePending, data []byte) {
	c.mu.Lock()
	c.rtuBuf = append(c.rtuBuf, data...)
	buf := c.rtuBuf
	c.mu.Unlock()

	for len(buf) >= 5 {
		n := modbus.ExpectedRTULength(buf)
		if n == -1 {
			// Unrecognised function code: drop one byte and keep scanning,
			// same as RTUFrameStream.Feed's continuous resync.
			buf = buf[1:]
			c.mu.Lock()
			c.rtuBuf = buf
			c.mu.Unlock()
			continue
		}
		if len(buf) < n {
			return
		}
		candidate := buf[:n]
		pf, err := modbus.ParseRTU(candidate)
		if err != nil {
			// n != -1 and len(buf) >= n means ParseRTU computed the same
			// expected length and so can only fail on a bad CRC here.
			if j := modbus.FindResyncPosition(buf); j != -1 {
				buf = buf[j:]
				c.mu.Lock()
				c.rtuBuf = buf
				c.mu.Unlock()
				continue // rescan from the shifted buffer
			}
			c.mu.Lock()
			c.rtuBuf = nil
			c.mu.Unlock()
			return
		}

		buf = buf[n:]
		c.mu.Lock()
		c.rtuBuf = buf
		c.mu.Unlock()
		if c.completeInline(ip, pf) {
			return
		}
		// Valid frame for another slave or function: keep scanning.
	}
}

func (c *Client) handleASCII(ip *inlinePending, data []byte) {
	c.mu.Lock()
	if c.asciiStream == nil {
		c.asciiStream = modbus.NewASCIIFrameStream()
	}
	frames := c.asciiStream.Feed(data)
	// An LRC failure drops the whole character accumulator; the next ':'
	// restarts framing from scratch.
	if c.asciiStream.TakeLRCFailure() {
		c.asciiStream.Reset()
	}
	c.mu.Unlock()

	for _, raw := range frames {
		pf, err := modbus.ParseScannedBody(raw)
		if err != nil {
			continue
		}
		if c.completeInline(ip, pf) {
			return
		}
	}
}

// completeInline matches pf against the pending request's slave/function,
// decodes it, and delivers the result, clearing the pending slot. It
// reports whether the request completed; a non-matching frame is discarded
// silently and scanning continues.
func (c *Client) completeInline(ip *inlinePending, pf *modbus.ParsedFrame) bool {
	if pf.SlaveID != ip.slaveID || pf.Function != ip.function {
		return false
	}

	correlationID := uuid.New().String()
	var res inlineResult
	switch {
	case pf.IsException:
		res.err = &modbus.Exception{Code: pf.ExceptionCode}
	case ip.readReq != nil:
		res.resp = modbus.NewReadResponse(pf, *ip.readReq, correlationID)
	case ip.writeReq != nil:
		res.resp = modbus.NewWriteResponse(pf, *ip.writeReq, correlationID)
	}

	elapsed := time.Since(ip.started).Seconds()
	outcome := metrics.OutcomeOK
	if res.err != nil {
		outcome = metrics.OutcomeException
	}
	metrics.ObserveExchange(c.Protocol().String(), ip.function.String(), outcome, elapsed)

	c.mu.Lock()
	if c.inline != ip || ip.state != stateAwaiting {
		// Cancelled between the scan and now; the waiter already has its
		// CancelledError.
		c.mu.Unlock()
		return true
	}
	// c.inline keeps pointing at ip until AwaitPending collects the result.
	c.pending = nil
	ip.state = stateIdle
	c.rtuBuf = nil
	c.mu.Unlock()
	metrics.SetPending(c.device, false)

	if res.err != nil {
		select {
		case c.errors <- res.err:
		default:
		}
	} else {
		select {
		case c.responses <- res.resp:
		default:
		}
	}
	select {
	case ip.resultCh <- res:
	default:
	}
	return true
}
