package app

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/medconnect/internal/gateway"
	"github.com/MrWong99/medconnect/internal/observe"
)

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func activeSessions(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "medconnect.active_sessions" {
				continue
			}
			var total int64
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func info(id string, at time.Time) gateway.SessionInfo {
	return gateway.SessionInfo{ConnectionID: id, ClientID: "c-" + id, DoctorID: "doc-1", StartedAt: at}
}

func noClose(context.Context) error { return nil }

func TestSessionManager_AddRemove(t *testing.T) {
	m, reader := newTestMetrics(t)
	sm := NewSessionManager(m)
	now := time.Now()

	removeB, err := sm.Add(info("b", now.Add(time.Second)), noClose)
	if err != nil {
		t.Fatalf("Add b: %v", err)
	}
	if _, err := sm.Add(info("a", now), noClose); err != nil {
		t.Fatalf("Add a: %v", err)
	}
	if _, err := sm.Add(info("a", now), noClose); err == nil {
		t.Error("duplicate connection id accepted")
	}

	if got := sm.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	list := sm.List()
	if len(list) != 2 || list[0].ConnectionID != "a" || list[1].ConnectionID != "b" {
		t.Errorf("List = %+v, want a then b", list)
	}
	if got := activeSessions(t, reader); got != 2 {
		t.Errorf("active sessions = %d, want 2", got)
	}

	removeB()
	removeB()
	if got := sm.Count(); got != 1 {
		t.Errorf("Count after remove = %d, want 1", got)
	}
	if got := activeSessions(t, reader); got != 1 {
		t.Errorf("active sessions after remove = %d, want 1", got)
	}
}

func TestSessionManager_CloseAll(t *testing.T) {
	sm := NewSessionManager(nil)
	closed := make(chan string, 3)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := sm.Add(info(id, time.Now()), func(context.Context) error {
			closed <- id
			if id == "c" {
				return errors.New("stuck")
			}
			return nil
		}); err != nil {
			t.Fatal(err)
		}
	}

	err := sm.CloseAll(context.Background())
	if err == nil {
		t.Error("CloseAll = nil, want the error of c")
	}
	if len(closed) != 3 {
		t.Errorf("closed %d sessions, want 3", len(closed))
	}

	if _, err := sm.Add(info("d", time.Now()), noClose); !errors.Is(err, gateway.ErrShuttingDown) {
		t.Errorf("Add after CloseAll = %v, want ErrShuttingDown", err)
	}
}

func TestSessionManager_CloseAllEmpty(t *testing.T) {
	if err := NewSessionManager(nil).CloseAll(context.Background()); err != nil {
		t.Errorf("CloseAll = %v", err)
	}
}
