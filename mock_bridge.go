package leapkit

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hubertat/leapkit/leap"
)

type MockCall struct {
	Op   string
	Zone string
	Tilt int
}

// MockBridge keeps tilts in memory per zone. It records every call and can
// be told to fail.
type MockBridge struct {
	ReadErr error
	SetErr  error

	lock    sync.Mutex
	tilts   map[string]int
	calls   []MockCall
	writeTo io.Writer
	emit    chan<- *leap.Response
}

func NewMockBridge() *MockBridge {
	return &MockBridge{tilts: make(map[string]int)}
}

func (mb *MockBridge) ReadBlindsTilt(ctx context.Context, device leap.Device) (int, error) {
	mb.lock.Lock()
	defer mb.lock.Unlock()

	mb.calls = append(mb.calls, MockCall{Op: "read", Zone: device.ZoneHref()})
	if mb.ReadErr != nil {
		return 0, mb.ReadErr
	}
	tilt, found := mb.tilts[device.ZoneHref()]
	if !found {
		return 0, fmt.Errorf("mock zone %s not found", device.ZoneHref())
	}
	return tilt, nil
}

func (mb *MockBridge) SetBlindsTilt(ctx context.Context, device leap.Device, tilt int) error {
	mb.lock.Lock()
	mb.calls = append(mb.calls, MockCall{Op: "set", Zone: device.ZoneHref(), Tilt: tilt})
	if mb.SetErr != nil {
		mb.lock.Unlock()
		return mb.SetErr
	}
	if mb.writeTo != nil && mb.tilts[device.ZoneHref()] != tilt {
		fmt.Fprintf(mb.writeTo, "[zone %s] tilt changed to %d\n", device.ZoneHref(), tilt)
	}
	mb.tilts[device.ZoneHref()] = tilt
	emit := mb.emit
	mb.lock.Unlock()

	if emit != nil {
		select {
		case emit <- MockZoneStatus(device.ZoneHref(), tilt):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// EmitZoneStatus makes every accepted set push a zone status to events,
// the way the bridge confirms a command.
func (mb *MockBridge) EmitZoneStatus(events chan<- *leap.Response) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.emit = events
}

func (mb *MockBridge) SetTilt(zone string, tilt int) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.tilts[zone] = tilt
}

func (mb *MockBridge) Tilt(zone string) (int, bool) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	tilt, found := mb.tilts[zone]
	return tilt, found
}

func (mb *MockBridge) Calls() []MockCall {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	return append([]MockCall(nil), mb.calls...)
}

// ZoneStatus builds the unsolicited message the bridge would push for zone.
func (mb *MockBridge) ZoneStatus(zone string) *leap.Response {
	tilt, _ := mb.Tilt(zone)
	return MockZoneStatus(zone, tilt)
}

func (mb *MockBridge) MonitorTiltChanges(writer io.Writer) {
	mb.lock.Lock()
	defer mb.lock.Unlock()
	mb.writeTo = writer
}

func MockZoneStatus(zone string, tilt int) *leap.Response {
	body := fmt.Sprintf(`{"ZoneStatus":{"href":"%s/status","Tilt":%d,"Zone":{"href":"%s"},"StatusAccuracy":"Good"}}`, zone, tilt, zone)
	return &leap.Response{
		CommuniqueType: leap.ReadResponse,
		Header: leap.Header{
			Url:             zone + "/status",
			StatusCode:      "200 OK",
			MessageBodyType: leap.BodyTypeOneZoneStatus,
		},
		Body: []byte(body),
	}
}
