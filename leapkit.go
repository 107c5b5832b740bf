package leapkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	dnslog "github.com/brutella/dnssd/log"
	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	hklog "github.com/brutella/hap/log"
	"github.com/charmbracelet/log"
	pkgerrors "github.com/pkg/errors"

	"github.com/hubertat/leapkit/api"
	"github.com/hubertat/leapkit/history"
	"github.com/hubertat/leapkit/leap"
	"github.com/hubertat/leapkit/mqtt"
)

const defaultHomeKitDirectory = "./homekit"
const homeKitBridgeName = "leapkit"
const homeKitBridgeAuthor = "github.com/hubertat"
const defaultMqttPrefix = "leapkit"
const defaultPingInterval = 30 * time.Second
const bridgeCallTimeout = 10 * time.Second

type LeapKit struct {
	Name string

	Bridge          leap.Config
	Blinds          []*TiltBlind
	RefreshInterval string

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool

	MqttBroker string
	MqttPrefix string

	ApiAddr  string
	ApiToken string

	Influx *history.InfluxRecorder

	handle     *BridgeHandle
	router     *NotificationRouter
	mqttClient *mqtt.MqttClient
	api        *api.Server
	ticker     *time.Ticker
	logger     *log.Logger

	lock    sync.Mutex
	closers []io.Closer
}

func (lk *LeapKit) getLogger() *log.Logger {
	if lk.logger == nil {
		lk.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "LeapKit: ",
			Level:  log.GetLevel(),
		})
	}
	return lk.logger
}

// EnableDebug has to run before Init, component loggers copy the level
// when they are created.
func (lk *LeapKit) EnableDebug() {
	log.SetLevel(log.DebugLevel)
	hklog.Debug.Enable()
	dnslog.Debug.Enable()
}

func (lk *LeapKit) addCloser(closer io.Closer) {
	lk.lock.Lock()
	defer lk.lock.Unlock()
	lk.closers = append(lk.closers, closer)
}

func (lk *LeapKit) getRouter() *NotificationRouter {
	if lk.router == nil {
		lk.router = NewNotificationRouter()
	}
	return lk.router
}

// ConnectBridge dials the bridge in the background. Blinds can be
// initialized right away, their calls wait for the connection.
func (lk *LeapKit) ConnectBridge(ctx context.Context) *BridgeHandle {
	router := lk.getRouter()
	lk.handle = ConnectBridgeHandle(ctx, func(ctx context.Context) (Bridge, error) {
		client, err := leap.Dial(ctx, lk.Bridge)
		if err != nil {
			lk.getLogger().Error("bridge connection failed", "host", lk.Bridge.Host, "err", err)
			return nil, err
		}
		lk.addCloser(client)

		subCtx, cancel := context.WithTimeout(ctx, bridgeCallTimeout)
		defer cancel()
		err = client.Subscribe(subCtx, leap.ZoneStatusUrl)
		if err != nil {
			lk.getLogger().Warn("zone status subscription failed, relying on unsolicited responses", "err", err)
		}

		go router.Run(ctx, client.Unsolicited())
		go lk.startHealthCheck(ctx, client)

		lk.getLogger().Info("bridge connected", "host", lk.Bridge.Host)
		return client, nil
	})
	return lk.handle
}

// UseBridge settles the handle with an existing bridge and routes events
// from it, used by the mock binary and tests.
func (lk *LeapKit) UseBridge(ctx context.Context, bridge Bridge, events <-chan *leap.Response) *BridgeHandle {
	lk.handle = NewBridgeHandle()
	lk.handle.Resolve(bridge)
	if events != nil {
		router := lk.getRouter()
		go router.Run(ctx, events)
	}
	return lk.handle
}

func (lk *LeapKit) startHealthCheck(ctx context.Context, client *leap.Client) {
	interval := defaultPingInterval
	if len(lk.Bridge.PingInterval) > 0 {
		parsed, err := time.ParseDuration(lk.Bridge.PingInterval)
		if err == nil && parsed > 0 {
			interval = parsed
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			lk.getLogger().Error("bridge connection lost", "err", client.Err())
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, bridgeCallTimeout)
			err := client.Ping(pingCtx)
			cancel()
			if err != nil {
				lk.getLogger().Warn("bridge is not healthy", "err", err)
			}
		}
	}
}

func (lk *LeapKit) InitBlinds() error {
	if lk.handle == nil {
		return errors.New("bridge handle not set, connect bridge first")
	}

	for _, blind := range lk.Blinds {
		err := blind.Init(lk.handle, lk.getRouter())
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to init blind %s", blind.Device.Href)
		}
	}
	return nil
}

func (lk *LeapKit) InitMqtt() (err error) {
	if len(lk.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}
	prefix := lk.MqttPrefix
	if len(prefix) == 0 {
		prefix = defaultMqttPrefix
	}
	clientId := lk.Name
	if len(clientId) == 0 {
		clientId = homeKitBridgeName
	}

	mc, err := mqtt.NewMqttClient(lk.MqttBroker, clientId)
	if err != nil {
		err = pkgerrors.Wrap(err, "failed to create mqtt client")
		return
	}
	lk.mqttClient = mc

	mqttHandlers := []mqtt.MqttHandler{}
	for _, blind := range lk.Blinds {
		mqttHandlers = append(mqttHandlers, blind.SetMqtt(mc, prefix)...)
	}

	err = mc.Connect(mqttHandlers)
	if err != nil {
		err = pkgerrors.Wrap(err, "failed to connect to mqtt broker")
	}
	return
}

func (lk *LeapKit) InitHistory() error {
	if lk.Influx == nil {
		return errors.New("influx not configured")
	}
	if !lk.Influx.IsReady() {
		err := lk.Influx.Setup()
		if err != nil {
			return pkgerrors.Wrap(err, "failed to set up influx history")
		}
	}
	lk.addCloser(lk.Influx)

	for _, blind := range lk.Blinds {
		blind.OnPositionChange(func(blind *TiltBlind, position int, source string) {
			lk.Influx.Record(blind.Name, blind.Serial(), position, source)
		})
	}
	return nil
}

// HttpStatus maps blind errors for the API.
func HttpStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidPosition):
		return http.StatusBadRequest
	case errors.Is(err, ErrBridgeUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func (lk *LeapKit) StartApi() error {
	if len(lk.ApiAddr) == 0 {
		return errors.New("api address not set")
	}

	blinds := []api.Blind{}
	for _, blind := range lk.Blinds {
		blinds = append(blinds, blind)
	}
	lk.api = api.NewServer(lk.ApiAddr, lk.ApiToken, blinds)
	lk.api.ErrorStatus = HttpStatus

	for _, blind := range lk.Blinds {
		blind.OnPositionChange(func(blind *TiltBlind, position int, source string) {
			lk.api.Broadcast(api.PositionUpdate{
				Serial:   blind.Serial(),
				Name:     blind.Name,
				Position: position,
				Source:   source,
				At:       time.Now(),
			})
		})
	}

	lk.addCloser(lk.api)
	return lk.api.Start()
}

func (lk *LeapKit) refreshAll(ctx context.Context) {
	for _, blind := range lk.Blinds {
		refreshCtx, cancel := context.WithTimeout(ctx, bridgeCallTimeout)
		err := blind.Refresh(refreshCtx)
		cancel()
		if err != nil {
			lk.getLogger().Warn("refresh failed", "blind", blind.Name, "err", err)
		}
	}
}

// StartTicker refreshes every blind on RefreshInterval, it returns at once
// when no interval is configured.
func (lk *LeapKit) StartTicker(ctx context.Context) error {
	if len(lk.RefreshInterval) == 0 {
		return nil
	}
	interval, err := time.ParseDuration(lk.RefreshInterval)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse RefreshInterval")
	}
	if interval <= 0 {
		return nil
	}

	lk.ticker = time.NewTicker(interval)
	defer lk.ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-lk.ticker.C:
			lk.refreshAll(ctx)
		}
	}
}

func (lk *LeapKit) GetHkAccessories(firmwareVersion string) (acc []*accessory.A) {
	acc = []*accessory.A{}

	for _, blind := range lk.Blinds {
		a := blind.GetHk()
		if a != nil {
			if a.Info != nil && a.Info.FirmwareRevision != nil {
				a.Info.FirmwareRevision.SetValue(firmwareVersion)
			}
			a.Id = blind.GetUniqueId()
			acc = append(acc, a)
		}
	}

	return
}

func (lk *LeapKit) StartHomeKit(ctx context.Context, firmwareVersion string) error {
	hkName := lk.Name
	if len(hkName) < 1 {
		hkName = homeKitBridgeName
	}
	bridge := accessory.NewBridge(accessory.Info{
		Name:         hkName,
		Manufacturer: homeKitBridgeAuthor,
		Firmware:     firmwareVersion,
	})

	store := hap.NewFsStore(lk.homeKitDirectory())
	hkServer, err := hap.NewServer(store, bridge.A, lk.GetHkAccessories(firmwareVersion)...)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to create HomeKit server")
	}
	hkServer.Pin = lk.HkPin
	if len(lk.HkAddress) > 0 {
		hkServer.Addr = lk.HkAddress
	}

	ctx, cancel := ShutdownContext(ctx)
	defer cancel()

	return hkServer.ListenAndServe(ctx)
}

func (lk *LeapKit) homeKitDirectory() string {
	if len(lk.HkDirectory) > 0 {
		return lk.HkDirectory
	}
	return defaultHomeKitDirectory
}

// ShutdownContext is cancelled on SIGINT or SIGTERM.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (lk *LeapKit) Close() (err error) {
	if lk.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), bridgeCallTimeout)
		defer cancel()
		if disconnectErr := lk.mqttClient.Disconnect(ctx); disconnectErr != nil {
			err = errors.Join(err, disconnectErr)
		}
	}
	lk.lock.Lock()
	closers := lk.closers
	lk.closers = nil
	lk.lock.Unlock()

	for _, closer := range closers {
		if closeErr := closer.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}
	return
}

func (lk *LeapKit) PrintStatus(writer io.Writer) {
	bridgeState := "pending"
	if lk.handle != nil && lk.handle.Ready() {
		bridgeState = "ready"
	} else if lk.handle != nil && lk.handle.Err() != nil {
		bridgeState = "failed: " + lk.handle.Err().Error()
	}

	fmt.Fprintln(writer)
	fmt.Fprintf(writer, "=== bridge %s: %s ===\n", lk.Bridge.Host, bridgeState)
	for _, blind := range lk.Blinds {
		current, target := blind.Position()
		fmt.Fprintln(writer, "________")
		fmt.Fprintf(writer, "| blind: %s (serial %s)\n", blind.Name, blind.Serial())
		fmt.Fprintf(writer, "| zone: %s\n", blind.Device.ZoneHref())
		fmt.Fprintf(writer, "| position: current %d, target %d\n", current, target)
		fmt.Fprintln(writer, "--------")
	}
	if lk.router != nil {
		stats := lk.router.Stats()
		fmt.Fprintf(writer, "notifications: matched %d, ignored %d, malformed %d\n", stats.Matched, stats.Ignored, stats.Malformed)
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

// DiscoverBlinds lists the tilt-only blinds the bridge knows about.
func DiscoverBlinds(ctx context.Context, cfg leap.Config) ([]leap.Device, error) {
	client, err := leap.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	devices, err := client.GetDevices(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to list devices")
	}
	return leap.TiltBlinds(devices), nil
}
