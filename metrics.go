package leapkit

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bridgeCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leapkit_bridge_calls_total",
		Help: "Blind reads and writes sent to the bridge, by result.",
	}, []string{"blind", "op", "result"})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leapkit_notifications_total",
		Help: "Unsolicited bridge messages, by routing outcome.",
	}, []string{"outcome"})

	blindPosition = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leapkit_blind_position",
		Help: "Last known tilt position of each blind.",
	}, []string{"blind"})
)

func callResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrBridgeUnavailable):
		return "bridge_unavailable"
	case errors.Is(err, ErrInvalidPosition):
		return "invalid"
	default:
		return "device_error"
	}
}
