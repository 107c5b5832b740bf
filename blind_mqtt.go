package leapkit

import (
	"context"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/leapkit/mqtt"
)

const mqttSetTimeout = 10 * time.Second

type blindMqttHandler struct {
	blind *TiltBlind
	topic string
}

func (bh *blindMqttHandler) MqttSubscribeTopic() string {
	return bh.topic
}

func (bh *blindMqttHandler) MqttHandle(pub *paho.Publish) {
	ctx, cancel := context.WithTimeout(context.Background(), mqttSetTimeout)
	defer cancel()

	err := bh.blind.SetTargetPosition(ctx, pub.Payload)
	if err != nil {
		bh.blind.logger.Error("mqtt set failed", "topic", pub.Topic, "payload", string(pub.Payload), "err", err)
	}
}

func (tb *TiltBlind) mqttTopic(prefix string) string {
	return prefix + "/" + tb.Serial() + "/tilt"
}

// SetMqtt publishes every mirrored position and returns the handler that
// accepts new targets on the "/set" topic.
func (tb *TiltBlind) SetMqtt(publisher mqtt.Publisher, prefix string) []mqtt.MqttHandler {
	stateTopic := tb.mqttTopic(prefix)
	tb.OnPositionChange(func(blind *TiltBlind, position int, source string) {
		err := publisher.Publish(stateTopic, []byte(strconv.Itoa(position)))
		if err != nil {
			blind.logger.Warn("mqtt publish failed", "topic", stateTopic, "err", err)
		}
	})

	return []mqtt.MqttHandler{&blindMqttHandler{blind: tb, topic: stateTopic + "/set"}}
}
