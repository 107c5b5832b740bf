package mqtt

import (
	"context"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
)

const subscribeTimeoutSeconds = 15
const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4

type MqttHandler interface {
	MqttHandle(pub *paho.Publish)
	MqttSubscribeTopic() string
}

type Publisher interface {
	Publish(topic string, payload []byte) error
}

type MqttClient struct {
	config autopaho.ClientConfig
	conn   *autopaho.ConnectionManager
	logger *log.Logger

	lock     sync.RWMutex
	handlers map[string][]MqttHandler
}

// Publish sends a retained QoS 1 message so late subscribers get the last
// position.
func (mc *MqttClient) Publish(topic string, payload []byte) error {
	return mc.publish(topic, payload, true)
}

// Send publishes a command, it is not retained so a reconnecting consumer
// does not replay it.
func (mc *MqttClient) Send(topic string, payload []byte) error {
	return mc.publish(topic, payload, false)
}

func (mc *MqttClient) publish(topic string, payload []byte, retain bool) (err error) {
	if mc.conn == nil {
		return errors.New("mqtt client not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	_, err = mc.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Retain:  retain,
		Payload: payload,
	})
	return
}

func (mc *MqttClient) topics() []string {
	mc.lock.RLock()
	defer mc.lock.RUnlock()

	topics := []string{}
	for topic := range mc.handlers {
		topics = append(topics, topic)
	}
	return topics
}

func (mc *MqttClient) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	mc.logger.Info("Connected to MQTT broker")

	subs := []paho.SubscribeOptions{}
	for _, topic := range mc.topics() {
		subs = append(subs, paho.SubscribeOptions{
			QoS:   1,
			Topic: topic,
		})
	}
	if len(subs) == 0 {
		return
	}

	mc.logger.Debug("subscribing mqtt", "subs", subs)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeoutSeconds*time.Second)
	defer cancel()

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	})
	if err != nil {
		mc.logger.Error("Failed to subscribe to topics", "err", err)
	}
}

func (mc *MqttClient) onConnError(err error) {
	mc.logger.Error("Received Mqtt connection error", "err", err)
}

func (mc *MqttClient) onSrvDisconnect(d *paho.Disconnect) {
	mc.logger.Info("Disconnected from MQTT broker")
}

// route hands an incoming publish to the handlers subscribed to its exact
// topic.
func (mc *MqttClient) route(pr paho.PublishReceived) (bool, error) {
	mc.lock.RLock()
	handlers := mc.handlers[pr.Packet.Topic]
	mc.lock.RUnlock()

	mc.logger.Debug("received message", "topic", pr.Packet.Topic, "payload", string(pr.Packet.Payload), "handlers", len(handlers))
	for _, h := range handlers {
		h.MqttHandle(pr.Packet)
	}
	return len(handlers) > 0, nil
}

func (mc *MqttClient) setHandlers(handlers []MqttHandler) {
	mc.lock.Lock()
	defer mc.lock.Unlock()

	mc.handlers = make(map[string][]MqttHandler)
	for _, h := range handlers {
		mc.logger.Debug("setting up mqtt topics config", "topic", h.MqttSubscribeTopic())
		mc.handlers[h.MqttSubscribeTopic()] = append(mc.handlers[h.MqttSubscribeTopic()], h)
	}
}

func (mc *MqttClient) Connect(handlers []MqttHandler) (err error) {
	mc.setHandlers(handlers)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeoutSeconds*time.Second)
	defer cancel()

	// the connection manager keeps reconnecting in the background, it must
	// outlive the connect timeout
	mc.conn, err = autopaho.NewConnection(context.Background(), mc.config)
	if err != nil {
		return errors.Wrap(err, "failed to create mqtt connection")
	}

	err = mc.conn.AwaitConnection(ctx)
	if err != nil {
		return errors.Wrap(err, "mqtt connection not established")
	}
	return nil
}

func (mc *MqttClient) Disconnect(ctx context.Context) error {
	mc.setHandlers(nil)
	if mc.conn == nil {
		return nil
	}
	return mc.conn.Disconnect(ctx)
}

func NewMqttClient(broker string, clientId string) (mc *MqttClient, err error) {
	addr, err := url.Parse(broker)
	if err != nil {
		return
	}

	mc = &MqttClient{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "MqttClient: ",
			Level:  log.GetLevel(),
		}),
		handlers: make(map[string][]MqttHandler),
	}

	mc.config = autopaho.ClientConfig{
		ServerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        mc.onConnUp,
		OnConnectError:        mc.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientId,
			OnClientError:      mc.onConnError,
			OnServerDisconnect: mc.onSrvDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){mc.route},
		},
	}

	return
}
