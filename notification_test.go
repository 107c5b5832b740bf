package leapkit

import (
	"context"
	"testing"
	"time"

	"github.com/hubertat/leapkit/leap"
)

type recordingHandler struct {
	got []ZoneStatusNotification
}

func (rh *recordingHandler) HandleZoneStatus(n ZoneStatusNotification) {
	rh.got = append(rh.got, n)
}

func TestParseNotification(t *testing.T) {
	got, err := ParseNotification(MockZoneStatus("/zone/2", 73))
	if err != nil {
		t.Fatalf("ParseNotification returned error: %v", err)
	}
	if got.Zone != "/zone/2" {
		t.Errorf("got zone %s", got.Zone)
	}
	assertInts(t, got.Tilt, 73)
}

func TestParseNotificationWithoutBodyType(t *testing.T) {
	resp := MockZoneStatus("/zone/2", 5)
	resp.Header.MessageBodyType = ""

	got, err := ParseNotification(resp)
	if err != nil {
		t.Fatalf("ParseNotification returned error: %v", err)
	}
	assertInts(t, got.Tilt, 5)
}

func TestParseNotificationMalformed(t *testing.T) {
	cases := map[string]*leap.Response{
		"nil": nil,
		"other body type": {
			Header: leap.Header{MessageBodyType: "MultipleDeviceDefinition"},
			Body:   []byte(`{"Devices":[]}`),
		},
		"no body": {
			Header: leap.Header{MessageBodyType: leap.BodyTypeOneZoneStatus},
		},
		"not json": {
			Header: leap.Header{MessageBodyType: leap.BodyTypeOneZoneStatus},
			Body:   []byte(`[1,2`),
		},
		"no zone status": {
			Body: []byte(`{"Something":{}}`),
		},
		"no zone": {
			Header: leap.Header{MessageBodyType: leap.BodyTypeOneZoneStatus},
			Body:   []byte(`{"ZoneStatus":{"Tilt":50}}`),
		},
		"empty zone href": {
			Header: leap.Header{MessageBodyType: leap.BodyTypeOneZoneStatus},
			Body:   []byte(`{"ZoneStatus":{"Tilt":50,"Zone":{"href":""}}}`),
		},
		"dimmer level without tilt": {
			Header: leap.Header{MessageBodyType: leap.BodyTypeOneZoneStatus},
			Body:   []byte(`{"ZoneStatus":{"Level":80,"Zone":{"href":"/zone/2"}}}`),
		},
		"tilt of wrong type": {
			Header: leap.Header{MessageBodyType: leap.BodyTypeOneZoneStatus},
			Body:   []byte(`{"ZoneStatus":{"Tilt":"open","Zone":{"href":"/zone/2"}}}`),
		},
	}

	for name, resp := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNotification(resp)
			assertErrorIs(t, err, ErrMalformedNotification)
		})
	}
}

func TestRouterStats(t *testing.T) {
	router := NewNotificationRouter()
	handler := &recordingHandler{}
	if err := router.Register("/zone/2", handler); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	router.Dispatch(MockZoneStatus("/zone/2", 1))
	router.Dispatch(MockZoneStatus("/zone/3", 1))
	router.Dispatch(&leap.Response{Body: []byte(`{}`)})

	stats := router.Stats()
	assertInts(t, int(stats.Matched), 1)
	assertInts(t, int(stats.Ignored), 1)
	assertInts(t, int(stats.Malformed), 1)
	assertInts(t, len(handler.got), 1)
}

func TestRouterUnregister(t *testing.T) {
	router := NewNotificationRouter()
	handler := &recordingHandler{}
	router.Register("/zone/2", handler)
	router.Unregister("/zone/2")

	assertBools(t, router.Dispatch(MockZoneStatus("/zone/2", 1)), false)

	if err := router.Register("", handler); err == nil {
		t.Error("registered handler for empty zone")
	}
}

func TestRouterRunStopsOnContext(t *testing.T) {
	router := NewNotificationRouter()
	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan struct{})
	go func() {
		router.Run(ctx, make(chan *leap.Response))
		close(finished)
	}()

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRouterRunKeepsOrder(t *testing.T) {
	router := NewNotificationRouter()
	handler := &recordingHandler{}
	router.Register("/zone/2", handler)

	messages := make(chan *leap.Response, 5)
	for _, tilt := range []int{10, 20, 30, 40, 50} {
		messages <- MockZoneStatus("/zone/2", tilt)
	}
	close(messages)
	router.Run(context.Background(), messages)

	assertInts(t, len(handler.got), 5)
	for i, n := range handler.got {
		assertInts(t, n.Tilt, (i+1)*10)
	}
}
