package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/commatea/modbus-engine/pkg/client"
	"github.com/commatea/modbus-engine/pkg/modbus"
	"github.com/commatea/modbus-engine/pkg/transport/mock"
)

func TestInlineReadCompletesViaHandleResponse(t *testing.T) {
	tr := mock.New()
	c := client.New(tr, modbus.RTU, "test-device")

	req := modbus.ReadRequest{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Address: 0, Quantity: 2}
	if err := c.BeginRead(context.Background(), req); err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	if len(tr.Sent) != 1 {
		t.Fatalf("BeginRead sent %d frames, want 1", len(tr.Sent))
	}

	c.HandleResponse(modbus.WrapRTU([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.AwaitPending(ctx)
	if err != nil {
		t.Fatalf("AwaitPending: %v", err)
	}
	if len(resp.Registers) != 2 || resp.Registers[0] != 1 || resp.Registers[1] != 2 {
		t.Fatalf("resp.Registers = %v, want [1 2]", resp.Registers)
	}
	if c.Pending() {
		t.Fatal("pending slot must clear after completion")
	}
}

func TestInlineReadHandlesSplitChunks(t *testing.T) {
	tr := mock.New()
	c := client.New(tr, modbus.RTU, "test-device")

	req := modbus.ReadRequest{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Address: 0, Quantity: 2}
	if err := c.BeginRead(context.Background(), req); err != nil {
		t.Fatalf("BeginRead: %v", err)
	}

	frame := modbus.WrapRTU([]byte{0x01, 0x03, 0x04, 0x00, 0x01, 0x00, 0x02})
	c.HandleResponse(frame[:4])
	if !c.Pending() {
		t.Fatal("partial frame must not complete the request")
	}
	c.HandleResponse(frame[4:])

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.AwaitPending(ctx)
	if err != nil {
		t.Fatalf("AwaitPending: %v", err)
	}
	if len(resp.Registers) != 2 {
		t.Fatalf("resp.Registers = %v, want 2 registers", resp.Registers)
	}
}

func TestInlineBusyThenCancelThenAccepted(t *testing.T) {
	tr := mock.New()
	c := client.New(tr, modbus.RTU, "test-device")

	req := modbus.ReadRequest{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Address: 0, Quantity: 1}
	if err := c.BeginRead(context.Background(), req); err != nil {
		t.Fatalf("BeginRead: %v", err)
	}

	if err := c.BeginRead(context.Background(), req); !errors.Is(err, modbus.ErrBusy) {
		t.Fatalf("second BeginRead = %v, want ErrBusy", err)
	}
	if len(tr.Sent) != 1 {
		t.Fatalf("Busy rejection must not touch the transport; Sent = %d, want 1", len(tr.Sent))
	}

	c.CancelPending()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.AwaitPending(ctx); err != nil {
		// The cancelled waiter already drained its result; a fresh
		// AwaitPending with no inline request reports the stream ended.
		if !errors.Is(err, modbus.ErrStreamEnded) && !modbus.IsCancelled(err) {
			t.Fatalf("AwaitPending after cancel = %v, want Cancelled or ErrStreamEnded", err)
		}
	}

	if err := c.BeginRead(context.Background(), req); err != nil {
		t.Fatalf("BeginRead after cancel = %v, want accepted", err)
	}
}

func TestInlineRTUResyncOnBadCRC(t *testing.T) {
	tr := mock.New()
	c := client.New(tr, modbus.RTU, "test-device")

	req := modbus.ReadRequest{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Address: 0, Quantity: 1}
	if err := c.BeginRead(context.Background(), req); err != nil {
		t.Fatalf("BeginRead: %v", err)
	}

	good := modbus.WrapRTU([]byte{0x01, 0x03, 0x02, 0x00, 0x2A})
	bad := modbus.WrapRTU([]byte{0x01, 0x03, 0x02, 0x00, 0x63})
	bad[len(bad)-1] ^= 0xFF // corrupt CRC
	c.HandleResponse(append(append([]byte{}, bad...), good...))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.AwaitPending(ctx)
	if err != nil {
		t.Fatalf("AwaitPending: %v", err)
	}
	if len(resp.Registers) != 1 || resp.Registers[0] != 42 {
		t.Fatalf("resp.Registers = %v, want [42] from the frame after resync", resp.Registers)
	}
}

func TestInlineASCIIRead(t *testing.T) {
	tr := mock.New()
	c := client.New(tr, modbus.ASCII, "test-device")

	req := modbus.ReadRequest{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Address: 0, Quantity: 1}
	if err := c.BeginRead(context.Background(), req); err != nil {
		t.Fatalf("BeginRead: %v", err)
	}
	if string(tr.Sent[0]) != ":010300000001FB\r\n" {
		t.Fatalf("ASCII request = %q, want %q", tr.Sent[0], ":010300000001FB\r\n")
	}

	c.HandleResponse([]byte(":010302000AF0\r\n"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := c.AwaitPending(ctx)
	if err != nil {
		t.Fatalf("AwaitPending: %v", err)
	}
	if len(resp.Registers) != 1 || resp.Registers[0] != 10 {
		t.Fatalf("resp.Registers = %v, want [10]", resp.Registers)
	}
}

func TestInlineExceptionDeliveredAsError(t *testing.T) {
	tr := mock.New()
	c := client.New(tr, modbus.RTU, "test-device")

	req := modbus.ReadRequest{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Address: 0, Quantity: 1}
	if err := c.BeginRead(context.Background(), req); err != nil {
		t.Fatalf("BeginRead: %v", err)
	}

	c.HandleResponse(modbus.WrapRTU([]byte{0x01, 0x83, 0x02}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.AwaitPending(ctx)
	var exc *modbus.Exception
	if !errors.As(err, &exc) || exc.Code != 2 {
		t.Fatalf("AwaitPending = %v, want Exception(code=2)", err)
	}
	if c.Pending() {
		t.Fatal("pending slot must clear after an exception")
	}
}

func TestInlineWriteEcho(t *testing.T) {
	tr := mock.New()
	c := client.New(tr, modbus.RTU, "test-device")

	req := modbus.WriteRequest{SlaveID: 1, Function: modbus.FuncWriteSingleRegister, Address: 1, Value: uint16(0xCD)}
	if err := c.BeginWrite(context.Background(), req); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}

	// Echo the request ADU back.
	c.HandleResponse(append([]byte{}, tr.Sent[0]...))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.AwaitPending(ctx); err != nil {
		t.Fatalf("AwaitPending: %v", err)
	}
}

func TestInlineIgnoresBytesWhenIdle(t *testing.T) {
	tr := mock.New()
	c := client.New(tr, modbus.RTU, "test-device")
	c.HandleResponse(modbus.WrapRTU([]byte{0x01, 0x03, 0x02, 0x00, 0x2A}))
	if c.Pending() {
		t.Fatal("HandleResponse on an idle facade must not create a pending request")
	}
}
