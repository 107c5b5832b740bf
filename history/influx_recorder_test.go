package history

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type fakeWriter struct {
	points []*write.Point
	err    error
}

func (fw *fakeWriter) WritePoint(ctx context.Context, point ...*write.Point) error {
	if fw.err != nil {
		return fw.err
	}
	fw.points = append(fw.points, point...)
	return nil
}

func TestNewPoint(t *testing.T) {
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	point := NewPoint("Living Room Blinds", "71520611", 73, "bridge", at)

	if point.Name() != measurement {
		t.Errorf("got measurement %s", point.Name())
	}

	tags := map[string]string{}
	for _, tag := range point.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["blind"] != "Living Room Blinds" || tags["serial"] != "71520611" || tags["source"] != "bridge" {
		t.Errorf("unexpected tags %v", tags)
	}

	fields := point.FieldList()
	if len(fields) != 1 || fields[0].Key != "tilt" || fields[0].Value != int64(73) {
		t.Errorf("unexpected fields %v", fields)
	}
	if !point.Time().Equal(at) {
		t.Errorf("got time %v", point.Time())
	}
}

func TestRecord(t *testing.T) {
	ir := &InfluxRecorder{}
	if err := ir.Record("blind", "1", 50, "bridge"); err == nil {
		t.Error("Record on not set up recorder returned nil error")
	}

	fw := &fakeWriter{}
	if err := ir.SetWriter(fw); err != nil {
		t.Fatalf("SetWriter returned error: %v", err)
	}

	if err := ir.Record("blind", "1", 50, "bridge"); err != nil {
		t.Errorf("Record returned error: %v", err)
	}
	if len(fw.points) != 1 {
		t.Errorf("got %d points want 1", len(fw.points))
	}

	fw.err = errors.New("bucket not found")
	if err := ir.Record("blind", "1", 60, "bridge"); err == nil {
		t.Error("write failure not reported")
	}
}

func TestSetupRequiresHost(t *testing.T) {
	ir := &InfluxRecorder{Bucket: "blinds"}
	if err := ir.Setup(); err == nil {
		t.Error("Setup without host returned nil error")
	}
}

func TestSetupChecksReadiness(t *testing.T) {
	readyCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ready" {
			http.NotFound(w, r)
			return
		}
		readyCalls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ready","started":"2024-01-01T00:00:00Z","up":"1m0s"}`))
	}))
	defer server.Close()

	ir := &InfluxRecorder{Host: server.URL, Organization: "home", Bucket: "blinds", Token: "t"}
	if err := ir.Setup(); err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	defer ir.Close()

	if readyCalls != 1 {
		t.Errorf("got %d readiness checks", readyCalls)
	}
	if !ir.IsReady() {
		t.Error("recorder not ready after Setup")
	}
}

func TestSetupUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	server.Close()

	ir := &InfluxRecorder{Host: server.URL, Bucket: "blinds"}
	if err := ir.Setup(); err == nil {
		t.Error("expected error for unreachable influx")
	}
	if ir.IsReady() {
		t.Error("recorder ready without influx")
	}
}
