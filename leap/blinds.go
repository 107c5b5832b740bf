package leap

import (
	"context"

	"github.com/pkg/errors"
)

const ZoneStatusUrl = "/zone/status"
const pingUrl = "/server/1/status/ping"
const deviceUrl = "/device"

// ReadBlindsTilt reads the tilt of the device's first local zone.
func (c *Client) ReadBlindsTilt(ctx context.Context, device Device) (int, error) {
	if err := device.Validate(); err != nil {
		return 0, err
	}

	resp, err := c.Request(ctx, ReadRequest, device.ZoneHref()+"/status", nil)
	if err != nil {
		return 0, err
	}

	status := OneZoneStatus{}
	err = resp.UnmarshalBody(&status)
	if err != nil {
		return 0, errors.Wrap(err, "failed to decode zone status")
	}
	if status.ZoneStatus == nil || status.ZoneStatus.Tilt == nil {
		return 0, errors.Errorf("zone status for %s carries no tilt", device.ZoneHref())
	}

	return *status.ZoneStatus.Tilt, nil
}

// SetBlindsTilt sends a GoToTilt command to the device's first local zone.
func (c *Client) SetBlindsTilt(ctx context.Context, device Device, tilt int) error {
	if err := device.Validate(); err != nil {
		return err
	}

	body := CommandBody{
		Command: Command{
			CommandType:    "GoToTilt",
			TiltParameters: &TiltParameters{Tilt: tilt},
		},
	}
	_, err := c.Request(ctx, CreateRequest, device.ZoneHref()+"/commandprocessor", body)
	return err
}

func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	resp, err := c.Request(ctx, ReadRequest, deviceUrl, nil)
	if err != nil {
		return nil, err
	}

	devices := MultipleDeviceDefinition{}
	err = resp.UnmarshalBody(&devices)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode device list")
	}
	return devices.Devices, nil
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Request(ctx, ReadRequest, pingUrl, nil)
	return err
}

func TiltBlinds(devices []Device) (blinds []Device) {
	for _, dev := range devices {
		if dev.DeviceType == DeviceTypeTiltOnlyWoodBlind && dev.Validate() == nil {
			blinds = append(blinds, dev)
		}
	}
	return
}
