package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/commatea/modbus-engine/pkg/config"
	"github.com/commatea/modbus-engine/pkg/modbus"
	"github.com/commatea/modbus-engine/pkg/transport/mock"
)

func TestRunPollsEveryJob(t *testing.T) {
	tr := mock.New()
	b := New(config.MQTTConfig{BrokerURL: "tcp://127.0.0.1:1883", TopicRoot: "modbus"}, nil)

	polls := []config.PollConfig{
		{Name: "temps", Function: 3, Address: 0x0000, Quantity: 2, IntervalMS: 10},
		{Name: "alarms", Function: 1, Address: 0x0100, Quantity: 8, IntervalMS: 10},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := b.Run(ctx, tr, modbus.RTU, 1, polls); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want context deadline after the poll window", err)
	}

	// Each job gets its own client, so both must have issued at least one
	// request; with one shared client only the last job would ever poll.
	var sawTemps, sawAlarms bool
	for _, adu := range tr.Sent {
		if len(adu) < 4 {
			continue
		}
		switch modbus.FunctionCode(adu[1]) {
		case modbus.FuncReadHoldingRegisters:
			sawTemps = true
		case modbus.FuncReadCoils:
			sawAlarms = true
		}
	}
	if !sawTemps || !sawAlarms {
		t.Fatalf("sent %d ADUs, temps=%v alarms=%v; every poll job must issue requests", len(tr.Sent), sawTemps, sawAlarms)
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	b := New(config.MQTTConfig{BrokerURL: "tcp://127.0.0.1:1883", TopicRoot: "modbus"}, nil)
	resp := &modbus.Response{SlaveID: 1, Function: modbus.FuncReadHoldingRegisters, Registers: []uint16{1}}
	if err := b.Publish("modbus/temps", resp); err == nil {
		t.Fatal("Publish before Connect must fail")
	}
}
