// Package client implements the stateful master-side facade: a single
// transport/protocol pairing with at-most-one in-flight request and an
// optional polling loop, built on top of pkg/modbus's exchange and
// frame-stream primitives.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commatea/modbus-engine/pkg/logger"
	"github.com/commatea/modbus-engine/pkg/metrics"
	"github.com/commatea/modbus-engine/pkg/modbus"
	"github.com/commatea/modbus-engine/pkg/transport"
)

// ErrBusySettingProtocol is returned by SetProtocol when a request is
// currently pending.
var ErrBusySettingProtocol = errors.New("client: cannot change protocol while a request is pending")

// pendingState is a pending request's lifecycle.
type pendingState int

const (
	stateIdle pendingState = iota
	stateAwaiting
	stateCompleting
)

// pendingRequest tracks the single in-flight exchange a Client allows.
type pendingRequest struct {
	slaveID  uint8
	function modbus.FunctionCode
	cancel   context.CancelFunc
	state    pendingState
}

// Client is the master-side facade: one transport, one protocol selection,
// one pending request at a time. All exported methods are safe for
// concurrent use.
type Client struct {
	mu       sync.Mutex
	tr       transport.Transport
	protocol modbus.Protocol
	device   string
	pending  *pendingRequest

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}

	responses chan *modbus.Response
	errors    chan error
	outbound  chan []byte

	log *logger.Logger

	// State for the out-of-band HandleResponse variant; see inline.go.
	inline      *inlinePending
	rtuBuf      []byte
	asciiStream *modbus.ASCIIFrameStream
}

// New creates a Client over tr speaking proto. device labels metrics and
// log lines (e.g. a serial port path); it has no protocol meaning.
func New(tr transport.Transport, proto modbus.Protocol, device string) *Client {
	return &Client{
		tr:        tr,
		protocol:  proto,
		device:    device,
		responses: make(chan *modbus.Response, 16),
		errors:    make(chan error, 16),
		outbound:  make(chan []byte, 16),
		log:       logger.Global().WithDevice(device),
	}
}

// Responses returns the channel on which every read's decoded Response is
// published, including those produced by StartMonitoring.
func (c *Client) Responses() <-chan *modbus.Response { return c.responses }

// Errors returns the channel on which every failed exchange's error is
// published, for callers using the event surface instead of the return
// value.
func (c *Client) Errors() <-chan error { return c.errors }

// Outbound returns the channel on which each request's raw ADU is
// published at send time, before a response has arrived.
func (c *Client) Outbound() <-chan []byte { return c.outbound }

// SetProtocol changes the protocol used by subsequent exchanges. It fails
// with ErrBusySettingProtocol while a request is pending.
func (c *Client) SetProtocol(p modbus.Protocol) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return ErrBusySettingProtocol
	}
	c.protocol = p
	return nil
}

// Protocol returns the currently selected protocol.
func (c *Client) Protocol() modbus.Protocol {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.protocol
}

// acquire installs a pendingRequest or reports Busy; it is the single
// choke point enforcing at most one request per facade.
func (c *Client) acquire(slaveID uint8, fc modbus.FunctionCode, cancel context.CancelFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		return modbus.ErrBusy
	}
	c.pending = &pendingRequest{slaveID: slaveID, function: fc, cancel: cancel, state: stateAwaiting}
	metrics.SetPending(c.device, true)
	return nil
}

func (c *Client) release() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	metrics.SetPending(c.device, false)
}

// CancelPending cancels the currently in-flight request, if any, via its
// stored cancellation hook; Read/Write then return a CancelledError. It is
// a no-op when no request is pending.
func (c *Client) CancelPending() {
	c.mu.Lock()
	p := c.pending
	c.mu.Unlock()
	if p != nil && p.cancel != nil {
		p.cancel()
	}
}

// Pending reports whether a request is currently in flight.
func (c *Client) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// Read issues an FC01-FC04 request and blocks until a matching response,
// exception, or terminal error. Returns ErrBusy immediately, without
// touching the transport, if a request is already pending.
func (c *Client) Read(ctx context.Context, req modbus.ReadRequest) (*modbus.Response, error) {
	pdu, err := modbus.BuildReadPDU(req)
	if err != nil {
		return nil, err
	}
	pf, correlationID, err := c.exchange(ctx, pdu, req.SlaveID, req.Function)
	if err != nil {
		return nil, err
	}
	resp := modbus.NewReadResponse(pf, req, correlationID)
	select {
	case c.responses <- resp:
	default:
	}
	return resp, nil
}

// Write issues an FC05/06/15/16 request and blocks until the echo, an
// exception, or a terminal error. Returns ErrBusy immediately, without
// touching the transport, if a request is already pending.
func (c *Client) Write(ctx context.Context, req modbus.WriteRequest) (*modbus.Response, error) {
	pdu, err := modbus.BuildWritePDU(req)
	if err != nil {
		return nil, err
	}
	pf, correlationID, err := c.exchange(ctx, pdu, req.SlaveID, req.Function)
	if err != nil {
		return nil, err
	}
	resp := modbus.NewWriteResponse(pf, req, correlationID)
	select {
	case c.responses <- resp:
	default:
	}
	return resp, nil
}

// exchange wraps the PDU per the selected protocol, enforces the Busy
// rule, emits the outbound event, runs modbus.Exchange, and records
// metrics around it.
func (c *Client) exchange(ctx context.Context, pdu []byte, slaveID uint8, fc modbus.FunctionCode) (*modbus.ParsedFrame, string, error) {
	c.mu.Lock()
	proto := c.protocol
	c.mu.Unlock()

	var adu []byte
	if proto == modbus.ASCII {
		adu = modbus.WrapASCII(pdu)
	} else {
		adu = modbus.WrapRTU(pdu)
	}

	exCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := c.acquire(slaveID, fc, cancel); err != nil {
		return nil, "", err
	}
	defer c.release()

	correlationID := uuid.New().String()
	log := c.log.WithExchange(correlationID)
	log.Debug("modbus exchange starting", "protocol", proto, "function", fc)

	select {
	case c.outbound <- adu:
	default:
	}

	start := time.Now()
	pf, err := modbus.Exchange(exCtx, c.tr, proto, adu, slaveID, fc)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		outcome := metrics.OutcomeError
		var exc *modbus.Exception
		if errors.As(err, &exc) {
			outcome = metrics.OutcomeException
		}
		metrics.ObserveExchange(proto.String(), fc.String(), outcome, elapsed)
		metrics.ObserveError(errorKind(err))
		log.Error("modbus exchange failed", "error", err)
		select {
		case c.errors <- err:
		default:
		}
		return nil, "", err
	}

	metrics.ObserveExchange(proto.String(), fc.String(), metrics.OutcomeOK, elapsed)
	return pf, correlationID, nil
}

// errorKind maps an error to a stable label for the error counter.
func errorKind(err error) string {
	switch {
	case errors.Is(err, modbus.ErrTransportNotConnected):
		return "transport_not_connected"
	case errors.Is(err, modbus.ErrStreamEnded):
		return "stream_ended"
	case errors.Is(err, modbus.ErrBadCRC):
		return "bad_crc"
	case errors.Is(err, modbus.ErrBadLRC):
		return "bad_lrc"
	case modbus.IsCancelled(err):
		return "cancelled"
	default:
		var exc *modbus.Exception
		if errors.As(err, &exc) {
			return "exception"
		}
		var fe *modbus.FrameError
		if errors.As(err, &fe) {
			return "frame_error"
		}
		return "other"
	}
}
