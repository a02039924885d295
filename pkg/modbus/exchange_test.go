package modbus_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/commatea/modbus-engine/pkg/modbus"
	"github.com/commatea/modbus-engine/pkg/transport/mock"
)

func TestExchangeRTUReadSuccess(t *testing.T) {
	tr := mock.New()
	req := modbus.ReadRequest{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Address: 0, Quantity: 2}
	pdu, err := modbus.BuildReadPDU(req)
	if err != nil {
		t.Fatal(err)
	}
	adu := modbus.WrapRTU(pdu)

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(10 * time.Millisecond)
		resp := modbus.WrapRTU([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02})
		tr.Inject(resp)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pf, err := modbus.Exchange(ctx, tr, modbus.RTU, adu, req.SlaveID, req.Function)
	<-done
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	regs := modbus.DecodeRegisters(pf.Data)
	if len(regs) != 2 || regs[0] != 1 || regs[1] != 2 {
		t.Fatalf("decoded registers = %v, want [1 2]", regs)
	}
}

func TestExchangeException(t *testing.T) {
	tr := mock.New()
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Inject(modbus.WrapRTU([]byte{0x01, 0x83, 0x02}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := modbus.Exchange(ctx, tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)

	var exc *modbus.Exception
	if !errors.As(err, &exc) || exc.Code != 2 {
		t.Fatalf("Exchange = %v, want Exception(code=2)", err)
	}
}

func TestExchangeResynchronisesPastNoise(t *testing.T) {
	tr := mock.New()
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02})

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Inject([]byte{0xFF, 0xFF, 0x00})
		tr.Inject(modbus.WrapRTU([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pf, err := modbus.Exchange(ctx, tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	regs := modbus.DecodeRegisters(pf.Data)
	if len(regs) != 2 || regs[0] != 1 || regs[1] != 2 {
		t.Fatalf("decoded registers = %v, want [1 2]", regs)
	}
}

func TestExchangeSkipsOtherSlaves(t *testing.T) {
	tr := mock.New()
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Inject(modbus.WrapRTU([]byte{0x02, 0x03, 0x02, 0x00, 0x63})) // wrong slave
		tr.Inject(modbus.WrapRTU([]byte{0x01, 0x01, 0x01, 0x00}))       // wrong function
		tr.Inject(modbus.WrapRTU([]byte{0x01, 0x03, 0x02, 0x00, 0x2A}))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pf, err := modbus.Exchange(ctx, tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	regs := modbus.DecodeRegisters(pf.Data)
	if len(regs) != 1 || regs[0] != 42 {
		t.Fatalf("decoded registers = %v, want [42]", regs)
	}
}

func TestExchangeStreamError(t *testing.T) {
	tr := mock.New()
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})

	streamErr := errors.New("port yanked")
	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.InjectError(streamErr)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := modbus.Exchange(ctx, tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)
	var tse *modbus.TransportStreamError
	if !errors.As(err, &tse) || !errors.Is(err, streamErr) {
		t.Fatalf("Exchange = %v, want TransportStreamError wrapping %v", err, streamErr)
	}
}

func TestExchangeStreamEnded(t *testing.T) {
	tr := mock.New()
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := modbus.Exchange(ctx, tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)
	if !errors.Is(err, modbus.ErrStreamEnded) {
		t.Fatalf("Exchange after close = %v, want ErrStreamEnded", err)
	}
}

func TestExchangeSendFailure(t *testing.T) {
	tr := mock.New()
	tr.SendErr = errors.New("write refused")
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	_, err := modbus.Exchange(context.Background(), tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)
	var tse *modbus.TransportSendError
	if !errors.As(err, &tse) {
		t.Fatalf("Exchange with failing Send = %v, want TransportSendError", err)
	}
}

func TestExchangeNotConnected(t *testing.T) {
	tr := mock.New()
	if err := tr.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	_, err := modbus.Exchange(context.Background(), tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)
	if !errors.Is(err, modbus.ErrTransportNotConnected) {
		t.Fatalf("Exchange on disconnected transport = %v, want ErrTransportNotConnected", err)
	}
}

func TestExchangeCancelledBeforeSend(t *testing.T) {
	tr := mock.New()
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := modbus.Exchange(ctx, tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)
	if !modbus.IsCancelled(err) {
		t.Fatalf("Exchange with pre-cancelled context = %v, want Cancelled", err)
	}
	if len(tr.Sent) != 0 {
		t.Fatal("pre-cancelled exchange must not touch the transport")
	}
}

func TestExchangeCancelledWhileWaiting(t *testing.T) {
	tr := mock.New()
	adu := modbus.WrapRTU([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := modbus.Exchange(ctx, tr, modbus.RTU, adu, 1, modbus.FuncReadHoldingRegisters)
	if !modbus.IsCancelled(err) {
		t.Fatalf("Exchange cancelled mid-wait = %v, want Cancelled", err)
	}
}

func TestExchangeASCII(t *testing.T) {
	tr := mock.New()
	req := modbus.ReadRequest{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Address: 0, Quantity: 1}
	pdu, err := modbus.BuildReadPDU(req)
	if err != nil {
		t.Fatal(err)
	}
	adu := modbus.WrapASCII(pdu)
	if string(adu) != ":010300000001FB\r\n" {
		t.Fatalf("ASCII request = %q, want %q", adu, ":010300000001FB\r\n")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		tr.Inject([]byte(":010302000AF0\r\n"))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pf, err := modbus.Exchange(ctx, tr, modbus.ASCII, adu, req.SlaveID, req.Function)
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	regs := modbus.DecodeRegisters(pf.Data)
	if len(regs) != 1 || regs[0] != 10 {
		t.Fatalf("decoded registers = %v, want [10]", regs)
	}
}
