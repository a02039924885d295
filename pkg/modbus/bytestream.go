package modbus

import (
	"context"

	"github.com/commatea/modbus-engine/pkg/transport"
)

// Chunk is one item pulled from an adapted byte stream: either a slice of
// newly received bytes, or a terminal error that ends the stream.
type Chunk struct {
	Data []byte
	Err  error
}

// adaptByteStream converts a transport's event channel into a lazy sequence
// of byte chunks. Message events are forwarded as-is (never split or
// coalesced); a close ends the sequence normally (the returned channel is
// simply closed); an error event or context cancellation ends it with a
// terminal Chunk carrying the corresponding error.
func adaptByteStream(ctx context.Context, events <-chan transport.Event) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				select {
				case out <- Chunk{Err: &CancelledError{Reason: ctx.Err()}}:
				case <-ctx.Done():
				}
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Kind {
				case transport.EventMessage:
					select {
					case out <- Chunk{Data: ev.Data}:
					case <-ctx.Done():
						return
					}
				case transport.EventClosed:
					return
				case transport.EventErr:
					select {
					case out <- Chunk{Err: &TransportStreamError{Err: ev.Err}}:
					case <-ctx.Done():
					}
					return
				}
			}
		}
	}()
	return out
}
