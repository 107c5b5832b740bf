package leapkit

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/hubertat/leapkit/leap"
)

// ZoneStatusNotification is the only unsolicited message shape a blind
// reacts to: a single zone reporting its tilt.
type ZoneStatusNotification struct {
	Zone string
	Tilt int
}

// ParseNotification validates an unsolicited message and extracts the zone
// status. Anything not shaped like a single zone status with a zone href and
// a tilt is ErrMalformedNotification.
func ParseNotification(resp *leap.Response) (ZoneStatusNotification, error) {
	if resp == nil {
		return ZoneStatusNotification{}, fmt.Errorf("%w: empty message", ErrMalformedNotification)
	}

	bodyType := resp.Header.MessageBodyType
	if len(bodyType) > 0 && bodyType != leap.BodyTypeOneZoneStatus {
		return ZoneStatusNotification{}, fmt.Errorf("%w: body type %s", ErrMalformedNotification, bodyType)
	}

	body := leap.OneZoneStatus{}
	if err := resp.UnmarshalBody(&body); err != nil {
		return ZoneStatusNotification{}, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}

	status := body.ZoneStatus
	switch {
	case status == nil:
		return ZoneStatusNotification{}, fmt.Errorf("%w: no ZoneStatus", ErrMalformedNotification)
	case status.Zone == nil || len(status.Zone.Href) == 0:
		return ZoneStatusNotification{}, fmt.Errorf("%w: ZoneStatus without zone", ErrMalformedNotification)
	case status.Tilt == nil:
		return ZoneStatusNotification{}, fmt.Errorf("%w: ZoneStatus for %s without tilt", ErrMalformedNotification, status.Zone.Href)
	}

	return ZoneStatusNotification{Zone: status.Zone.Href, Tilt: *status.Tilt}, nil
}

type ZoneStatusHandler interface {
	HandleZoneStatus(ZoneStatusNotification)
}

type NotificationStats struct {
	Matched   uint64
	Ignored   uint64
	Malformed uint64
}

// NotificationRouter parses each unsolicited message once and hands it to
// the handler registered for exactly that zone href.
type NotificationRouter struct {
	lock     sync.RWMutex
	handlers map[string]ZoneStatusHandler
	stats    NotificationStats

	logger *log.Logger
}

func NewNotificationRouter() *NotificationRouter {
	return &NotificationRouter{
		handlers: make(map[string]ZoneStatusHandler),
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "Notifications: ",
			Level:  log.GetLevel(),
		}),
	}
}

func (nr *NotificationRouter) Register(zone string, handler ZoneStatusHandler) error {
	if len(zone) == 0 {
		return fmt.Errorf("cannot register handler for empty zone href")
	}

	nr.lock.Lock()
	defer nr.lock.Unlock()

	if _, exists := nr.handlers[zone]; exists {
		return fmt.Errorf("zone %s already has a handler", zone)
	}
	nr.handlers[zone] = handler
	return nil
}

func (nr *NotificationRouter) Unregister(zone string) {
	nr.lock.Lock()
	defer nr.lock.Unlock()
	delete(nr.handlers, zone)
}

// Dispatch routes a single message and reports whether a handler took it.
func (nr *NotificationRouter) Dispatch(resp *leap.Response) bool {
	notification, err := ParseNotification(resp)
	if err != nil {
		nr.count(&nr.stats.Malformed)
		notificationsTotal.WithLabelValues("malformed").Inc()
		nr.logger.Debug("ignoring message", "reason", err)
		return false
	}

	nr.lock.RLock()
	handler, found := nr.handlers[notification.Zone]
	nr.lock.RUnlock()

	if !found {
		nr.count(&nr.stats.Ignored)
		notificationsTotal.WithLabelValues("ignored").Inc()
		nr.logger.Debug("no blind for zone", "zone", notification.Zone, "tilt", notification.Tilt)
		return false
	}

	nr.count(&nr.stats.Matched)
	notificationsTotal.WithLabelValues("matched").Inc()
	handler.HandleZoneStatus(notification)
	return true
}

// Run dispatches messages in arrival order until the channel closes or ctx
// is done.
func (nr *NotificationRouter) Run(ctx context.Context, messages <-chan *leap.Response) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-messages:
			if !ok {
				nr.logger.Info("unsolicited stream closed")
				return
			}
			nr.Dispatch(resp)
		}
	}
}

func (nr *NotificationRouter) count(counter *uint64) {
	nr.lock.Lock()
	*counter++
	nr.lock.Unlock()
}

func (nr *NotificationRouter) Stats() NotificationStats {
	nr.lock.RLock()
	defer nr.lock.RUnlock()
	return nr.stats
}
