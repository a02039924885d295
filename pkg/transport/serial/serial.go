// Package serial provides a serial port transport.Transport implementation
// for RS232/RS485 communication, used by the CLI/bridge layer to drive the
// protocol engine over a real port.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/commatea/modbus-engine/pkg/transport"
	"go.bug.st/serial"
)

// Common errors.
var (
	ErrPortNotOpen   = errors.New("serial: port not open")
	ErrInvalidConfig = errors.New("serial: invalid configuration")
)

// Config holds serial-specific configuration, populated either directly
// (cmd/modbusctl fills it from config.DeviceConfig) or from a
// transport.Config and its Options by New.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyUSB0", "COM1").
	Port string `yaml:"port" json:"port"`

	// BaudRate is the baud rate (e.g., 9600, 19200, 115200).
	BaudRate int `yaml:"baudrate" json:"baudrate"`

	// DataBits is the number of data bits (5, 6, 7, 8).
	DataBits int `yaml:"databits" json:"databits"`

	// Parity is the parity mode ("none", "odd", "even", "mark", "space").
	Parity string `yaml:"parity" json:"parity"`

	// StopBits is the number of stop bits (1, 1.5, 2).
	StopBits float64 `yaml:"stopbits" json:"stopbits"`

	// ReadTimeout bounds each underlying port Read call; it governs how
	// quickly the read loop notices ctx cancellation, not protocol timing.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// BufferSize is the read buffer size per port.Read call.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// RS485 enables RS485 transceiver control, when the underlying port
	// supports it.
	RS485 *RS485Config `yaml:"rs485" json:"rs485"`
}

// RS485Config mirrors go.bug.st/serial's RS485Config.
type RS485Config struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	DelayRtsBeforeSend time.Duration `yaml:"delay_rts_before_send" json:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `yaml:"delay_rts_after_send" json:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `yaml:"rts_high_during_send" json:"rts_high_during_send"`
	RtsHighAfterSend   bool          `yaml:"rts_high_after_send" json:"rts_high_after_send"`
}

// DefaultConfig returns a serial configuration matching common Modbus RTU
// device defaults (9600 8N1).
func DefaultConfig() Config {
	return Config{
		BaudRate:    9600,
		DataBits:    8,
		Parity:      "none",
		StopBits:    1,
		ReadTimeout: 100 * time.Millisecond,
		BufferSize:  256,
	}
}

// Transport implements transport.Transport over a real serial port. A
// single background goroutine owns the port's Read calls and fans each
// chunk out to every live Events subscriber; Send is safe to call
// concurrently with that loop.
type Transport struct {
	mu     sync.Mutex
	config Config

	port serial.Port

	connected   bool
	connectedAt *time.Time
	stats       transport.Statistics
	lastErr     error

	subs []chan transport.Event

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// New creates a serial transport from the abstract transport.Config: the
// address becomes the port path, and baud/parity/etc. are read out of
// Options when present, falling back to Modbus RTU defaults otherwise.
func New(cfg transport.Config) (*Transport, error) {
	sc := DefaultConfig()
	sc.Port = cfg.Address
	if sc.Port == "" {
		return nil, ErrInvalidConfig
	}
	if opts := cfg.Options; opts != nil {
		if v, ok := opts["baudrate"].(int); ok {
			sc.BaudRate = v
		}
		if v, ok := opts["databits"].(int); ok {
			sc.DataBits = v
		}
		if v, ok := opts["parity"].(string); ok {
			sc.Parity = v
		}
		if v, ok := opts["stopbits"].(float64); ok {
			sc.StopBits = v
		}
	}
	if cfg.Timeout > 0 {
		sc.ReadTimeout = cfg.Timeout
	}
	return &Transport{config: sc}, nil
}

// NewWithConfig creates a serial transport from an explicit Config,
// bypassing the generic transport.Config translation.
func NewWithConfig(sc Config) *Transport {
	return &Transport{config: sc}
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect opens the port and starts the background read loop. Calling
// Connect while already connected is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: t.config.DataBits,
		Parity:   parseParity(t.config.Parity),
		StopBits: parseStopBits(t.config.StopBits),
	}
	port, err := serial.Open(t.config.Port, mode)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", t.config.Port, err)
	}
	if err := port.SetReadTimeout(t.config.ReadTimeout); err != nil {
		port.Close()
		return err
	}
	if t.config.RS485 != nil && t.config.RS485.Enabled {
		if err := port.SetRS485Config(&serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: t.config.RS485.DelayRtsBeforeSend,
			DelayRtsAfterSend:  t.config.RS485.DelayRtsAfterSend,
			RtsHighDuringSend:  t.config.RS485.RtsHighDuringSend,
			RtsHighAfterSend:   t.config.RS485.RtsHighAfterSend,
		}); err != nil {
			port.Close()
			return err
		}
	}

	t.port = port
	t.connected = true
	now := time.Now()
	t.connectedAt = &now

	loopCtx, cancel := context.WithCancel(context.Background())
	t.loopCancel = cancel
	t.loopDone = make(chan struct{})
	go t.readLoop(loopCtx, port, t.loopDone)

	return nil
}

// Disconnect stops the read loop, closes the port, and ends every active
// Events subscription with a normal close.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.connected = false
	t.connectedAt = nil
	cancel := t.loopCancel
	done := t.loopDone
	port := t.port
	t.port = nil
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if port != nil {
		err = port.Close()
	}
	if done != nil {
		<-done
	}
	for _, s := range subs {
		s <- transport.Event{Kind: transport.EventClosed}
		close(s)
	}
	return err
}

// Send writes data to the port. The underlying serial.Port.Write blocks
// until the bytes are handed to the OS, matching the contract's
// send-is-not-a-reply guarantee.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	port := t.port
	connected := t.connected
	t.mu.Unlock()
	if !connected || port == nil {
		return ErrPortNotOpen
	}
	n, err := port.Write(data)
	t.mu.Lock()
	if err != nil {
		t.stats.Errors++
	} else {
		t.stats.BytesSent += uint64(n)
		t.stats.MessagesSent++
	}
	t.mu.Unlock()
	return err
}

// Events registers a new subscriber channel that receives every chunk read
// from the port until ctx is cancelled or the transport disconnects.
func (t *Transport) Events(ctx context.Context) <-chan transport.Event {
	ch := make(chan transport.Event, 32)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s == ch {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				close(s)
				return
			}
		}
	}()
	return ch
}

func (t *Transport) Info() transport.Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	state := transport.StateDisconnected
	if t.connected {
		state = transport.StateConnected
	}
	info := transport.Info{
		ID:          fmt.Sprintf("serial-%s", t.config.Port),
		Type:        "serial",
		Address:     t.config.Port,
		State:       state,
		Statistics:  t.stats,
		ConnectedAt: t.connectedAt,
	}
	if t.lastErr != nil {
		info.LastError = t.lastErr.Error()
	}
	return info
}

// readLoop owns port.Read for the lifetime of one connection, fanning each
// non-empty chunk out to every subscriber registered at the time.
func (t *Transport) readLoop(ctx context.Context, port serial.Port, done chan struct{}) {
	defer close(done)
	buf := make([]byte, t.config.BufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := port.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			t.mu.Lock()
			t.stats.Errors++
			t.lastErr = err
			subs := append([]chan transport.Event(nil), t.subs...)
			t.mu.Unlock()
			for _, s := range subs {
				select {
				case s <- transport.Event{Kind: transport.EventErr, Err: err}:
				case <-ctx.Done():
				}
			}
			return
		}
		if n == 0 {
			continue // read timeout elapsed with nothing to report
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		t.mu.Lock()
		t.stats.BytesReceived += uint64(n)
		t.stats.MessagesReceived++
		subs := append([]chan transport.Event(nil), t.subs...)
		t.mu.Unlock()

		for _, s := range subs {
			select {
			case s <- transport.Event{Kind: transport.EventMessage, Data: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func parseParity(p string) serial.Parity {
	switch p {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

func parseStopBits(sb float64) serial.StopBits {
	switch sb {
	case 1.5:
		return serial.OnePointFiveStopBits
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}
