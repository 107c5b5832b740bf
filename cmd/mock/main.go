package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/leapkit"
	"github.com/hubertat/leapkit/leap"
)

var (
	Version string
	Build   string

	apiAddr     = flag.String("api", ":8088", "address of the status api, empty to disable")
	eventPeriod = flag.Duration("events", 30*time.Second, "how often the mock bridge moves a blind on its own")
)

func mockDevice(serial uint64, name string, zone string) leap.Device {
	return leap.Device{
		Href:               "/device/" + zone[len("/zone/"):],
		FullyQualifiedName: []string{"Mock", name},
		SerialNumber:       serial,
		ModelNumber:        "MOCK-TILT",
		DeviceType:         leap.DeviceTypeTiltOnlyWoodBlind,
		LocalZones:         []leap.Href{{Href: zone}},
	}
}

func main() {
	flag.Parse()
	log.SetLevel(log.DebugLevel)
	log.Info("leapkit mock started, no bridge needed", "version", Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lk := &leapkit.LeapKit{
		Name:        "leapkit mock",
		HkPin:       "88008800",
		HkDirectory: "./mock_homekit",
		ApiAddr:     *apiAddr,
		Blinds: []*leapkit.TiltBlind{
			{Device: mockDevice(1001, "left blind", "/zone/11")},
			{Device: mockDevice(1002, "right blind", "/zone/12")},
		},
	}

	bridge := leapkit.NewMockBridge()
	for _, blind := range lk.Blinds {
		bridge.SetTilt(blind.Device.ZoneHref(), leapkit.FlatPosition)
	}
	bridge.MonitorTiltChanges(os.Stdout)

	events := make(chan *leap.Response)
	bridge.EmitZoneStatus(events)
	lk.UseBridge(ctx, bridge, events)
	defer lk.Close()

	err := lk.InitBlinds()
	if err != nil {
		log.Fatal("failed to init blinds", "err", err)
	}
	if len(lk.ApiAddr) > 0 {
		err = lk.StartApi()
		if err != nil {
			log.Error("api disabled", "err", err)
		}
	}

	go func() {
		ticker := time.NewTicker(*eventPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				blind := lk.Blinds[rand.Intn(len(lk.Blinds))]
				zone := blind.Device.ZoneHref()
				bridge.SetTilt(zone, rand.Intn(leapkit.MaxPosition+1))
				events <- bridge.ZoneStatus(zone)
			}
		}
	}()

	lk.PrintStatus(os.Stdout)

	log.Info("starting mock with HomeKit service")
	err = lk.StartHomeKit(ctx, "mock: "+Version)
	if err != nil {
		log.Fatal("HomeKit server stopped", "err", err)
	}
}
