package emitter

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/camden-git/facewatch/models"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

// MQTTPublisher publishes events to {base}/{camera}/{known|unknown} at QoS 1
type MQTTPublisher struct {
	Client    mqtt.Client
	BaseTopic string

	mu        sync.RWMutex
	connected bool
	published uint64
	errors    uint64
}

var _ Publisher = (*MQTTPublisher)(nil)

func NewMQTTPublisher(broker, clientID, baseTopic string) *MQTTPublisher {
	p := &MQTTPublisher{BaseTopic: strings.TrimRight(baseTopic, "/")}

	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c mqtt.Client) {
		p.setConnected(true)
		log.Printf("emitter: mqtt connected to %s as %s", broker, clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		p.setConnected(false)
		log.Printf("emitter: mqtt connection lost, will auto-reconnect: %v", err)
	}
	p.Client = mqtt.NewClient(opts)
	return p
}

// Connect waits briefly for the first connection. With connect-retry enabled a
// timeout is not fatal; publishing resumes once the client reconnects.
func (p *MQTTPublisher) Connect() error {
	token := p.Client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	p.setConnected(true)
	return nil
}

func (p *MQTTPublisher) Topic(rec models.RecognitionLog) string {
	kind := "unknown"
	if rec.Known {
		kind = "known"
	}
	return fmt.Sprintf("%s/%s/%s", p.BaseTopic, topicSegment(rec.CameraName), kind)
}

func (p *MQTTPublisher) Publish(ctx context.Context, rec models.RecognitionLog) error {
	if !p.isConnected() {
		p.countError()
		return fmt.Errorf("mqtt not connected")
	}
	payload, err := FromLog(rec).ToJSON()
	if err != nil {
		p.countError()
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	token := p.Client.Publish(p.Topic(rec), 1, false, payload)
	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		p.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		p.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

func (p *MQTTPublisher) Close() error {
	if p.Client != nil && p.Client.IsConnected() {
		p.Client.Disconnect(250)
		log.Println("emitter: mqtt disconnected")
	}
	p.setConnected(false)
	return nil
}

// Stats returns published and failed counts
func (p *MQTTPublisher) Stats() (published, failed uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published, p.errors
}

func (p *MQTTPublisher) setConnected(v bool) {
	p.mu.Lock()
	p.connected = v
	p.mu.Unlock()
}

func (p *MQTTPublisher) isConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected
}

func (p *MQTTPublisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}
