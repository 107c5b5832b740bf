package mqtt

import (
	"testing"

	"github.com/eclipse/paho.golang/paho"
)

type recordingHandler struct {
	topic    string
	received [][]byte
}

func (rh *recordingHandler) MqttSubscribeTopic() string {
	return rh.topic
}

func (rh *recordingHandler) MqttHandle(pub *paho.Publish) {
	rh.received = append(rh.received, pub.Payload)
}

func assertInts(t testing.TB, got, want int) {
	t.Helper()

	if got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
}

func TestNewMqttClient(t *testing.T) {
	mc, err := NewMqttClient("mqtt://10.100.10.55:1883", "leapkit-test")
	if err != nil {
		t.Fatalf("NewMqttClient returned error: %v", err)
	}

	if len(mc.config.ServerUrls) != 1 || mc.config.ServerUrls[0].Host != "10.100.10.55:1883" {
		t.Errorf("unexpected server urls %v", mc.config.ServerUrls)
	}
	if mc.config.ClientConfig.ClientID != "leapkit-test" {
		t.Errorf("got client id %s", mc.config.ClientConfig.ClientID)
	}
}

func TestRouteByTopic(t *testing.T) {
	mc, _ := NewMqttClient("mqtt://localhost:1883", "leapkit-test")

	living := &recordingHandler{topic: "leapkit/100/tilt/set"}
	bedroom := &recordingHandler{topic: "leapkit/200/tilt/set"}
	mc.setHandlers([]MqttHandler{living, bedroom})

	handled, err := mc.route(paho.PublishReceived{Packet: &paho.Publish{Topic: "leapkit/100/tilt/set", Payload: []byte("42")}})
	if err != nil || !handled {
		t.Errorf("route returned handled=%v err=%v", handled, err)
	}
	assertInts(t, len(living.received), 1)
	assertInts(t, len(bedroom.received), 0)

	handled, _ = mc.route(paho.PublishReceived{Packet: &paho.Publish{Topic: "other/topic", Payload: []byte("1")}})
	if handled {
		t.Error("message on unknown topic reported as handled")
	}

	topics := mc.topics()
	assertInts(t, len(topics), 2)
}

func TestPublishWithoutConnection(t *testing.T) {
	mc, _ := NewMqttClient("mqtt://localhost:1883", "leapkit-test")
	if err := mc.Publish("leapkit/100/tilt", []byte("50")); err == nil {
		t.Error("got nil error publishing without connection")
	}
	if err := mc.Send("leapkit/100/tilt/set", []byte("50")); err == nil {
		t.Error("got nil error sending without connection")
	}
}
