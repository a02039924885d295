package client

import (
	"context"
	"time"

	"github.com/commatea/modbus-engine/pkg/modbus"
)

// StartMonitoring runs Read(req) every interval until ctx is cancelled or
// StopMonitoring is called, publishing each response on Responses() and
// each error on Errors(). Calling StartMonitoring while a monitor is
// already running replaces it.
func (c *Client) StartMonitoring(ctx context.Context, req modbus.ReadRequest, interval time.Duration) {
	c.StopMonitoring()

	monCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.monitorCancel = cancel
	c.monitorDone = done
	c.mu.Unlock()

	go c.monitorLoop(ctx, monCtx, req, interval, done)
}

func (c *Client) monitorLoop(readCtx, ctx context.Context, req modbus.ReadRequest, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// An in-flight read runs to completion even if the monitor is
			// stopped mid-poll; only the next scheduled read is skipped.
			// Read already publishes both outcomes on Responses()/Errors();
			// StartMonitoring only needs to stop polling on cancellation.
			_, err := c.Read(readCtx, req)
			if err != nil && modbus.IsCancelled(err) {
				return
			}
		}
	}
}

// StopMonitoring cancels any running monitor loop and waits for it to exit,
// which includes waiting for a read already in flight to finish (or for
// the ctx given to StartMonitoring to end). It is idempotent: on an idle
// facade it is a no-op.
func (c *Client) StopMonitoring() {
	c.mu.Lock()
	cancel := c.monitorCancel
	done := c.monitorDone
	c.monitorCancel = nil
	c.monitorDone = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}
