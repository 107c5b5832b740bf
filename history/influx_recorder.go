package history

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/pkg/errors"
)

const measurement = "blind_tilt"
const writeTimeout = 5 * time.Second

type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxRecorder stores every position a blind settles on.
type InfluxRecorder struct {
	Host         string
	Organization string
	Bucket       string
	Token        string

	client influxdb2.Client
	writer PointWriter
	logger *log.Logger
	ready  bool
}

func (ir *InfluxRecorder) Setup() error {
	if len(ir.Host) == 0 || len(ir.Bucket) == 0 {
		return errors.New("influx Host and Bucket must be set")
	}

	ir.client = influxdb2.NewClient(ir.Host, ir.Token)
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	ok, err := ir.client.Ready(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to reach influx")
	}
	if !ok {
		return errors.Errorf("influx at %s not ready", ir.Host)
	}

	return ir.SetWriter(ir.client.WriteAPIBlocking(ir.Organization, ir.Bucket))
}

// SetWriter replaces the influx write API, used with a fake in tests.
func (ir *InfluxRecorder) SetWriter(writer PointWriter) error {
	if writer == nil {
		return errors.New("nil point writer")
	}
	ir.writer = writer
	ir.logger = log.NewWithOptions(os.Stderr, log.Options{
		Prefix: "InfluxRecorder: ",
		Level:  log.GetLevel(),
	})
	ir.ready = true
	return nil
}

func (ir *InfluxRecorder) IsReady() bool {
	return ir.ready
}

func NewPoint(blind string, serial string, tilt int, source string, at time.Time) *write.Point {
	return influxdb2.NewPoint(measurement,
		map[string]string{
			"blind":  blind,
			"serial": serial,
			"source": source,
		},
		map[string]interface{}{
			"tilt": tilt,
		},
		at)
}

func (ir *InfluxRecorder) Record(blind string, serial string, tilt int, source string) error {
	if !ir.ready {
		return errors.New("influx recorder not set up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := ir.writer.WritePoint(ctx, NewPoint(blind, serial, tilt, source, time.Now()))
	if err != nil {
		ir.logger.Warn("failed to write point", "blind", blind, "err", err)
		return errors.Wrapf(err, "failed to record tilt of %s", blind)
	}
	return nil
}

func (ir *InfluxRecorder) Close() error {
	if ir.client != nil {
		ir.client.Close()
	}
	ir.ready = false
	return nil
}
