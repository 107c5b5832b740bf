package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/leapkit"
)

const discoverTimeout = 20 * time.Second

var (
	Version string
	Build   string

	config       = flag.String("config", "config.json", "path of the configuration file (json or yaml)")
	flagInstall  = flag.Bool("install", false, "Install service in os")
	flagDiscover = flag.Bool("discover", false, "list tilt blinds known by the bridge and exit")
	flagDebug    = flag.Bool("debug", false, "enable debug logging")

	lkService = servicemaker.ServiceMaker{
		User:               "leapkit",
		ServicePath:        "/etc/systemd/system/leapkit.service",
		ServiceDescription: "LeapKit service: HomeKit bridge for Lutron tilt-only blinds. github.com/hubertat/leapkit",
		ExecDir:            "/srv/leapkit",
		ExecName:           "leapkit",
	}
)

func main() {
	flag.Parse()
	log.Info("leapkit started", "version", Version, "build", Build)

	if *flagInstall {
		err := lkService.InstallService()
		if err != nil {
			log.Fatal("service install failed", "err", err)
		}
		log.Info("service installed!")
		return
	}

	var lk *leapkit.LeapKit
	var err error
	if *flagDiscover {
		lk, err = leapkit.ReadConfig(*config)
		if err == nil {
			err = lk.ValidateBridge()
		}
	} else {
		lk, err = leapkit.LoadConfig(*config)
	}
	if err != nil {
		log.Fatal("can't load config, will terminate", "err", err)
	}
	if *flagDebug || lk.HkDebug {
		lk.EnableDebug()
	}

	ctx, cancel := leapkit.ShutdownContext(context.Background())
	defer cancel()

	if *flagDiscover {
		discoverCtx, cancelDiscover := context.WithTimeout(ctx, discoverTimeout)
		defer cancelDiscover()

		devices, err := leapkit.DiscoverBlinds(discoverCtx, lk.Bridge)
		if err != nil {
			log.Fatal("discovery failed", "err", err)
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		encoder.Encode(devices)
		return
	}

	log.Info("will connect to bridge...", "host", lk.Bridge.Host)
	lk.ConnectBridge(ctx)
	defer lk.Close()

	err = lk.InitBlinds()
	if err != nil {
		log.Fatal("failed to init blinds", "err", err)
	}

	if len(lk.MqttBroker) > 0 {
		err = lk.InitMqtt()
		if err != nil {
			log.Error("mqtt disabled", "err", err)
		}
	}
	if lk.Influx != nil {
		err = lk.InitHistory()
		if err != nil {
			log.Error("history disabled", "err", err)
		}
	}
	if len(lk.ApiAddr) > 0 {
		err = lk.StartApi()
		if err != nil {
			log.Error("api disabled", "err", err)
		}
	}

	go func() {
		err := lk.StartTicker(ctx)
		if err != nil {
			log.Error("refresh ticker stopped", "err", err)
		}
	}()

	lk.PrintStatus(os.Stdout)

	if len(lk.HkPin) == 8 {
		log.Info("Starting with HomeKit server")
		err = lk.StartHomeKit(ctx, Version)
		if err != nil {
			log.Error("HomeKit server stopped", "err", err)
		}
		return
	}

	log.Info("HomeKit not configured, disabled")
	<-ctx.Done()
}
