package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/paho"

	"github.com/hubertat/leapkit/mqtt"
)

const clientID = "leapkit-mqtttilt"

var (
	broker  = flag.String("broker", "mqtt://localhost:1883", "mqtt broker url")
	prefix  = flag.String("prefix", "leapkit", "topic prefix configured in leapkit")
	serial  = flag.String("serial", "", "serial number of the blind")
	value   = flag.String("tilt", "", "tilt to set (0-100), empty only watches the position")
	timeout = flag.Duration("timeout", 30*time.Second, "how long to wait for position updates")
)

type positionHandler struct {
	topic    string
	received chan string
}

func (h *positionHandler) MqttSubscribeTopic() string {
	return h.topic
}

func (h *positionHandler) MqttHandle(pub *paho.Publish) {
	log.Info("position", "topic", pub.Topic, "tilt", string(pub.Payload))
	select {
	case h.received <- string(pub.Payload):
	default:
	}
}

func main() {
	flag.Parse()
	if len(*serial) == 0 {
		log.Error("-serial is required")
		os.Exit(2)
	}

	stateTopic := *prefix + "/" + *serial + "/tilt"
	handler := &positionHandler{topic: stateTopic, received: make(chan string, 1)}

	mc, err := mqtt.NewMqttClient(*broker, clientID)
	if err != nil {
		log.Fatal("failed to create mqtt client", "error", err)
	}
	err = mc.Connect([]mqtt.MqttHandler{handler})
	if err != nil {
		log.Fatal("failed to connect to mqtt broker", "error", err)
	}
	defer mc.Disconnect(context.Background())
	log.Info("mqtt client connected", "watching", stateTopic)

	if len(*value) > 0 {
		err = mc.Send(stateTopic+"/set", []byte(*value))
		if err != nil {
			log.Fatal("failed to send tilt", "error", err)
		}
		log.Info("tilt sent", "tilt", *value)
	}

	deadline := time.After(*timeout)
	for {
		select {
		case tilt := <-handler.received:
			if len(*value) > 0 && tilt == *value {
				log.Info("blind reached requested tilt")
				return
			}
		case <-deadline:
			return
		}
	}
}
