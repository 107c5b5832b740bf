package leap

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	ReadRequest      = "ReadRequest"
	CreateRequest    = "CreateRequest"
	UpdateRequest    = "UpdateRequest"
	SubscribeRequest = "SubscribeRequest"

	ReadResponse      = "ReadResponse"
	CreateResponse    = "CreateResponse"
	UpdateResponse    = "UpdateResponse"
	SubscribeResponse = "SubscribeResponse"
	ExceptionResponse = "ExceptionResponse"
)

const (
	BodyTypeOneZoneStatus            = "OneZoneStatus"
	BodyTypeMultipleDeviceDefinition = "MultipleDeviceDefinition"
	BodyTypeOnePingResponse          = "OnePingResponse"
	BodyTypeExceptionDetail          = "ExceptionDetail"
)

const DeviceTypeTiltOnlyWoodBlind = "SerenaTiltOnlyWoodBlind"

type Header struct {
	ClientTag       string `json:"ClientTag,omitempty"`
	Url             string `json:"Url,omitempty"`
	StatusCode      string `json:"StatusCode,omitempty"`
	MessageBodyType string `json:"MessageBodyType,omitempty"`
}

// StatusCodeInt returns the numeric part of a "200 OK" style status code,
// 0 when the header carries none.
func (h Header) StatusCodeInt() int {
	code, _, _ := strings.Cut(strings.TrimSpace(h.StatusCode), " ")
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}

type Request struct {
	CommuniqueType string      `json:"CommuniqueType"`
	Header         Header      `json:"Header"`
	Body           interface{} `json:"Body,omitempty"`
}

type Response struct {
	CommuniqueType string          `json:"CommuniqueType"`
	Header         Header          `json:"Header"`
	Body           json.RawMessage `json:"Body,omitempty"`
}

func (r *Response) UnmarshalBody(v interface{}) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("response %s %s has no body", r.CommuniqueType, r.Header.Url)
	}
	return json.Unmarshal(r.Body, v)
}

type Href struct {
	Href string `json:"href"`
}

type Device struct {
	Href               string   `json:"href"`
	Name               string   `json:"Name,omitempty"`
	FullyQualifiedName []string `json:"FullyQualifiedName,omitempty"`
	SerialNumber       uint64   `json:"SerialNumber,omitempty"`
	ModelNumber        string   `json:"ModelNumber,omitempty"`
	DeviceType         string   `json:"DeviceType,omitempty"`
	LocalZones         []Href   `json:"LocalZones,omitempty"`
}

func (d Device) DisplayName() string {
	if len(d.FullyQualifiedName) > 0 {
		return strings.Join(d.FullyQualifiedName, " ")
	}
	return d.Name
}

// ZoneHref is the href used to correlate zone status events with the device.
func (d Device) ZoneHref() string {
	if len(d.LocalZones) == 0 {
		return ""
	}
	return d.LocalZones[0].Href
}

func (d Device) Validate() error {
	if len(d.LocalZones) == 0 {
		return fmt.Errorf("device %q has no local zones", d.DisplayName())
	}
	if d.ZoneHref() == "" {
		return fmt.Errorf("device %q first local zone has empty href", d.DisplayName())
	}
	return nil
}

type ZoneStatus struct {
	Href           string `json:"href,omitempty"`
	Level          *int   `json:"Level,omitempty"`
	Tilt           *int   `json:"Tilt,omitempty"`
	Zone           *Href  `json:"Zone,omitempty"`
	StatusAccuracy string `json:"StatusAccuracy,omitempty"`
}

type OneZoneStatus struct {
	ZoneStatus *ZoneStatus `json:"ZoneStatus"`
}

type MultipleDeviceDefinition struct {
	Devices []Device `json:"Devices"`
}

type ExceptionDetail struct {
	Message string `json:"Message"`
}

type TiltParameters struct {
	Tilt int `json:"Tilt"`
}

type Command struct {
	CommandType    string          `json:"CommandType"`
	TiltParameters *TiltParameters `json:"TiltParameters,omitempty"`
}

type CommandBody struct {
	Command Command `json:"Command"`
}
