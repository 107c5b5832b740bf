package leapkit

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/charmbracelet/log"

	"github.com/hubertat/leapkit/leap"
)

const lutronManufacturer = "Lutron Electronics Co., Inc"

// HAP status reported to controllers when the bridge call fails.
const hapStatusCommunicationFailure = -70402

const (
	SourceBridge  = "bridge"
	SourceRefresh = "refresh"
	SourceHomeKit = "homekit"
)

// PositionListener is called after both position slots were overwritten.
type PositionListener func(blind *TiltBlind, position int, source string)

// TiltBlind exposes a tilt-only wood blind as a HomeKit window covering.
// Position 0 is closed, 100 is open the other way, 50 is flat; the bridge
// tilt uses the same scale.
type TiltBlind struct {
	Name           string
	Device         leap.Device
	DisableHomekit bool

	bridge *BridgeHandle
	hk     *TiltCovering
	logger *log.Logger

	lock      sync.Mutex
	current   int
	target    int
	listeners []PositionListener
}

func (tb *TiltBlind) Init(bridge *BridgeHandle, router *NotificationRouter) error {
	err := tb.Device.Validate()
	if err != nil {
		return errors.Join(errors.New("Init failed, bad device identity"), err)
	}

	if len(tb.Name) == 0 {
		tb.Name = tb.Device.DisplayName()
	}
	tb.bridge = bridge
	tb.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "Blind " + tb.Name + ": ",
		Level:  log.GetLevel(),
	})

	if router != nil {
		err = router.Register(tb.Device.ZoneHref(), tb)
		if err != nil {
			return errors.Join(errors.New("Init failed, cannot subscribe to zone status"), err)
		}
	}

	if !tb.DisableHomekit {
		tb.setupHk()
	}
	return nil
}

func (tb *TiltBlind) Serial() string {
	if tb.Device.SerialNumber > 0 {
		return strconv.FormatUint(tb.Device.SerialNumber, 10)
	}
	return tb.Device.Href
}

func (tb *TiltBlind) GetName() string {
	return tb.Name
}

func (tb *TiltBlind) GetUniqueId() uint64 {
	hash := fnv.New64()
	hash.Write([]byte("TiltBlind_" + tb.Serial()))
	return hash.Sum64()
}

func (tb *TiltBlind) setupHk() {
	info := accessory.Info{
		Name:         tb.Name,
		SerialNumber: tb.Serial(),
		Manufacturer: lutronManufacturer,
		Model:        tb.Device.ModelNumber,
	}
	tb.hk = NewTiltCovering(info)

	wc := tb.hk.WindowCovering
	wc.CurrentPosition.ValueRequestFunc = tb.hkPositionGet
	wc.TargetPosition.ValueRequestFunc = tb.hkPositionGet
	wc.TargetPosition.OnSetRemoteValue(tb.hkTargetSet)
	wc.PositionState.ValueRequestFunc = func(*http.Request) (interface{}, int) {
		return tb.GetPositionState(), 0
	}
}

func (tb *TiltBlind) GetHk() *accessory.A {
	if tb.hk == nil {
		return nil
	}
	return tb.hk.A
}

// hkPositionGet serves both CurrentPosition and TargetPosition reads, so a
// successful read leaves both slots equal.
func (tb *TiltBlind) hkPositionGet(r *http.Request) (interface{}, int) {
	ctx := context.Background()
	if r != nil {
		ctx = r.Context()
	}

	pos, err := tb.GetCurrentPosition(ctx)
	if err != nil {
		tb.logger.Error("reading position failed", "err", err)
		return nil, hapStatusCommunicationFailure
	}

	tb.mirror(pos, SourceHomeKit)
	return pos, 0
}

func (tb *TiltBlind) hkTargetSet(value int) error {
	err := tb.SetTargetPosition(context.Background(), value)
	if err != nil {
		tb.logger.Error("setting position failed", "value", value, "err", err)
	}
	return err
}

// GetCurrentPosition reads the tilt from the bridge and returns it as is.
func (tb *TiltBlind) GetCurrentPosition(ctx context.Context) (pos int, err error) {
	defer func() {
		bridgeCallsTotal.WithLabelValues(tb.Name, "read", callResult(err)).Inc()
	}()
	tb.logger.Info("asked for current or target position")

	bridge, err := tb.awaitBridge(ctx)
	if err != nil {
		return 0, err
	}

	pos, err = bridge.ReadBlindsTilt(ctx, tb.Device)
	if err != nil {
		return 0, errors.Join(ErrDeviceCommunication, err)
	}
	return pos, nil
}

// SetTargetPosition coerces value and sends exactly one tilt command. It
// does not touch the position slots, those follow the bridge notification.
func (tb *TiltBlind) SetTargetPosition(ctx context.Context, value interface{}) (err error) {
	defer func() {
		bridgeCallsTotal.WithLabelValues(tb.Name, "set", callResult(err)).Inc()
	}()

	pos, err := ParsePosition(value)
	if err != nil {
		return err
	}
	tb.logger.Info("set to value", "value", pos)

	bridge, err := tb.awaitBridge(ctx)
	if err != nil {
		return err
	}

	err = bridge.SetBlindsTilt(ctx, tb.Device, pos)
	if err != nil {
		return errors.Join(ErrDeviceCommunication, err)
	}
	return nil
}

// GetPositionState is always stopped, the bridge reports no movement.
func (tb *TiltBlind) GetPositionState() int {
	return characteristic.PositionStateStopped
}

func (tb *TiltBlind) awaitBridge(ctx context.Context) (Bridge, error) {
	if tb.bridge == nil {
		return nil, fmt.Errorf("%w: blind %s not initialized", ErrBridgeUnavailable, tb.Name)
	}
	return tb.bridge.Await(ctx)
}

// HandleZoneStatus mirrors a pushed tilt into both slots, the bridge wins
// over whatever was requested before.
func (tb *TiltBlind) HandleZoneStatus(status ZoneStatusNotification) {
	tb.logger.Info("got zone status", "zone", status.Zone, "tilt", status.Tilt)
	tb.mirror(status.Tilt, SourceBridge)
}

// Refresh reads the tilt and mirrors it like a pushed status.
func (tb *TiltBlind) Refresh(ctx context.Context) error {
	pos, err := tb.GetCurrentPosition(ctx)
	if err != nil {
		return err
	}
	tb.mirror(pos, SourceRefresh)
	return nil
}

func (tb *TiltBlind) mirror(pos int, source string) {
	tb.lock.Lock()
	tb.target = pos
	tb.current = pos
	if tb.hk != nil {
		tb.hk.WindowCovering.TargetPosition.SetValue(pos)
		tb.hk.WindowCovering.CurrentPosition.SetValue(pos)
	}
	listeners := append([]PositionListener(nil), tb.listeners...)
	tb.lock.Unlock()

	blindPosition.WithLabelValues(tb.Name).Set(float64(pos))
	for _, listener := range listeners {
		listener(tb, pos, source)
	}
}

// Position returns the current and target slots.
func (tb *TiltBlind) Position() (current int, target int) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	return tb.current, tb.target
}

func (tb *TiltBlind) OnPositionChange(listener PositionListener) {
	tb.lock.Lock()
	defer tb.lock.Unlock()
	tb.listeners = append(tb.listeners, listener)
}
