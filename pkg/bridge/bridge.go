// Package bridge republishes decoded Modbus responses to an MQTT broker,
// driving the client facade's polling loop for each configured poll job and
// marshalling every Response it observes to JSON under a per-poll topic.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/commatea/modbus-engine/pkg/client"
	"github.com/commatea/modbus-engine/pkg/config"
	"github.com/commatea/modbus-engine/pkg/logger"
	"github.com/commatea/modbus-engine/pkg/modbus"
	"github.com/commatea/modbus-engine/pkg/transport"
)

// Bridge drives a client.Client's polling and republishes its responses and
// errors as MQTT messages under cfg.TopicRoot.
type Bridge struct {
	cfg config.MQTTConfig
	log *logger.Logger

	mu        sync.Mutex
	mqttCli   mqtt.Client
	connected bool
}

// New creates a Bridge bound to cfg. It does not connect.
func New(cfg config.MQTTConfig, log *logger.Logger) *Bridge {
	if log == nil {
		log = logger.Global()
	}
	return &Bridge{cfg: cfg, log: log}
}

// Connect dials the configured broker. It blocks until the connection
// succeeds, fails, or ctx is cancelled.
func (b *Bridge) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.BrokerURL)
	clientID := b.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("modbus-engine-%d", time.Now().UnixNano())
	}
	opts.SetClientID(clientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		b.log.Error("mqtt connection lost", "error", err)
	})

	cli := mqtt.NewClient(opts)
	token := cli.Connect()

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := token.Error(); err != nil {
			return fmt.Errorf("bridge: connect: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mqttCli = cli
	b.connected = true
	b.log.Info("mqtt bridge connected", "broker", b.cfg.BrokerURL, "client_id", clientID)
	return nil
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mqttCli != nil && b.mqttCli.IsConnected() {
		b.mqttCli.Disconnect(250)
	}
	b.connected = false
}

// payload is the JSON shape published for each decoded response.
type payload struct {
	SlaveID       uint8     `json:"slave_id"`
	Function      string    `json:"function"`
	Registers     []uint16  `json:"registers,omitempty"`
	Bits          []uint8   `json:"bits,omitempty"`
	Address       uint16    `json:"address"`
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

func toPayload(r *modbus.Response) payload {
	return payload{
		SlaveID:       r.SlaveID,
		Function:      r.Function.String(),
		Registers:     r.Registers,
		Bits:          r.Bits,
		Address:       r.Address,
		CorrelationID: r.CorrelationID,
		Timestamp:     r.Timestamp,
	}
}

// errPayload is the JSON shape published for a poll that failed.
type errPayload struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Publish marshals resp and publishes it to topic.
func (b *Bridge) Publish(topic string, resp *modbus.Response) error {
	data, err := json.Marshal(toPayload(resp))
	if err != nil {
		return fmt.Errorf("bridge: marshal response: %w", err)
	}
	return b.publishRaw(topic, data)
}

// PublishError marshals err and publishes it to topic.
func (b *Bridge) PublishError(topic string, pollErr error) error {
	data, mErr := json.Marshal(errPayload{Error: pollErr.Error(), Timestamp: time.Now()})
	if mErr != nil {
		return fmt.Errorf("bridge: marshal error: %w", mErr)
	}
	return b.publishRaw(topic, data)
}

func (b *Bridge) publishRaw(topic string, data []byte) error {
	b.mu.Lock()
	cli := b.mqttCli
	connected := b.connected
	b.mu.Unlock()

	if !connected || cli == nil {
		return fmt.Errorf("bridge: not connected")
	}

	token := cli.Publish(topic, b.cfg.QoS, false, data)
	token.Wait()
	return token.Error()
}

// Run starts one client.Client per PollConfig (addressed to slaveID) over
// the shared transport, each driving its own monitoring loop, and
// republishes every response/error under the job's topic until ctx is
// cancelled. One client per job is required: a Client tracks a single
// pending request, so all jobs sharing one would cancel each other's
// monitors. It blocks until ctx.Done().
func (b *Bridge) Run(ctx context.Context, tr transport.Transport, proto modbus.Protocol, slaveID uint8, polls []config.PollConfig) error {
	var wg sync.WaitGroup
	clients := make([]*client.Client, 0, len(polls))
	for _, p := range polls {
		c := client.New(tr, proto, p.Name)
		clients = append(clients, c)

		req := modbus.ReadRequest{
			SlaveID:  slaveID,
			Function: modbus.FunctionCode(p.Function),
			Address:  p.Address,
			Quantity: p.Quantity,
		}
		c.StartMonitoring(ctx, req, p.Interval())

		topic := p.Topic
		if topic == "" {
			topic = fmt.Sprintf("%s/%s", b.cfg.TopicRoot, p.Name)
		}
		wg.Add(1)
		go func(c *client.Client, topic string) {
			defer wg.Done()
			b.republishLoop(ctx, c, topic)
		}(c, topic)
	}

	<-ctx.Done()
	for _, c := range clients {
		c.StopMonitoring()
	}
	wg.Wait()
	return ctx.Err()
}

// republishLoop drains one client's Responses/Errors channels and
// republishes everything under the poll job's topic; errors go to a
// per-job errors subtopic.
func (b *Bridge) republishLoop(ctx context.Context, c *client.Client, topic string) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-c.Responses():
			if !ok {
				return
			}
			if err := b.Publish(topic, resp); err != nil {
				b.log.Error("bridge: publish failed", "topic", topic, "error", err)
			}
		case err, ok := <-c.Errors():
			if !ok {
				return
			}
			if pubErr := b.PublishError(topic+"/errors", err); pubErr != nil {
				b.log.Error("bridge: publish error failed", "topic", topic, "error", pubErr)
			}
		}
	}
}
