package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/septivank/raven-tracer/internal/db"
	"github.com/septivank/raven-tracer/internal/repository"
)

const (
	testRavenMAC = "00:11:22:33:44:55"
	testMeterMAC = "13:AA:BB:CC:DD:EE"
)

func newTestRepository(t *testing.T) *repository.SQLiteRepository {
	t.Helper()

	sqlDB, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "traces.db"), true)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	return repository.NewSQLiteRepository(sqlDB)
}

func TestSQLiteRepository_InsertDevice(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	exists, err := repo.DeviceExists(ctx, db.KindRaven, testRavenMAC)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if exists {
		t.Error("Expected raven to be unknown before insert")
	}

	if err := repo.InsertDevice(ctx, db.KindRaven, db.Device{MACAddress: testRavenMAC}); err != nil {
		t.Fatalf("Failed to insert raven: %v", err)
	}

	exists, err = repo.DeviceExists(ctx, db.KindRaven, testRavenMAC)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !exists {
		t.Error("Expected raven to exist after insert")
	}

	// kinds do not share a table
	exists, _ = repo.DeviceExists(ctx, db.KindSmartMeter, testRavenMAC)
	if exists {
		t.Error("Expected raven MAC to be unknown as a smart meter")
	}
}

func TestSQLiteRepository_InsertDuplicateDevice(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	nick := "kitchen"
	if err := repo.InsertDevice(ctx, db.KindSmartMeter, db.Device{MACAddress: testMeterMAC, Nick: &nick}); err != nil {
		t.Fatalf("Failed to insert meter: %v", err)
	}

	err := repo.InsertDevice(ctx, db.KindSmartMeter, db.Device{MACAddress: testMeterMAC})
	if !errors.Is(err, db.ErrDuplicateDevice) {
		t.Fatalf("Expected ErrDuplicateDevice, got %v", err)
	}

	devices, err := repo.ListDevices(ctx, db.KindSmartMeter)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("Expected 1 meter, got %d", len(devices))
	}
	if devices[0].Nick == nil || *devices[0].Nick != "kitchen" {
		t.Error("Expected duplicate insert to leave the nickname untouched")
	}
}

func TestSQLiteRepository_UpdateDeviceNick(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	nick := "garage"
	err := repo.UpdateDeviceNick(ctx, db.KindRaven, testRavenMAC, &nick)
	if !errors.Is(err, db.ErrDeviceNotFound) {
		t.Fatalf("Expected ErrDeviceNotFound, got %v", err)
	}

	if err := repo.InsertDevice(ctx, db.KindRaven, db.Device{MACAddress: testRavenMAC}); err != nil {
		t.Fatalf("Failed to insert raven: %v", err)
	}
	if err := repo.UpdateDeviceNick(ctx, db.KindRaven, testRavenMAC, &nick); err != nil {
		t.Fatalf("Failed to rename raven: %v", err)
	}

	devices, err := repo.ListDevices(ctx, db.KindRaven)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(devices) != 1 || devices[0].Nick == nil || *devices[0].Nick != "garage" {
		t.Errorf("Expected renamed raven, got %+v", devices)
	}
}

func TestSQLiteRepository_TraceLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	repo.InsertDevice(ctx, db.KindRaven, db.Device{MACAddress: testRavenMAC})
	repo.InsertDevice(ctx, db.KindSmartMeter, db.Device{MACAddress: testMeterMAC})

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	traceID, err := repo.StartTrace(ctx, testRavenMAC, testMeterMAC, start)
	if err != nil {
		t.Fatalf("Failed to start trace: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := repo.InsertInstant(ctx, db.Instant{
			TraceID:   traceID,
			ReadTime:  start.Add(time.Duration(i) * time.Minute),
			ReadValue: uint64(500 + i),
		})
		if err != nil {
			t.Fatalf("Failed to insert instant: %v", err)
		}
	}
	if err := repo.InsertSummary(ctx, db.Summary{TraceID: traceID, ReadTime: start, ReadValue: 12345678}); err != nil {
		t.Fatalf("Failed to insert summary: %v", err)
	}

	trace, err := repo.GetTrace(ctx, traceID)
	if err != nil {
		t.Fatalf("Failed to load trace: %v", err)
	}
	if trace.EndTime != nil {
		t.Error("Expected open trace to have no end time")
	}
	if !trace.StartTime.Equal(start) {
		t.Errorf("Expected start %v, got %v", start, trace.StartTime)
	}

	end := start.Add(time.Hour)
	if err := repo.EndTrace(ctx, traceID, end); err != nil {
		t.Fatalf("Failed to end trace: %v", err)
	}

	trace, err = repo.GetTrace(ctx, traceID)
	if err != nil {
		t.Fatalf("Failed to load trace: %v", err)
	}
	if trace.EndTime == nil || !trace.EndTime.Equal(end) {
		t.Errorf("Expected end %v, got %v", end, trace.EndTime)
	}

	instants, summaries, err := repo.CountReadings(ctx, traceID)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if instants != 3 || summaries != 1 {
		t.Errorf("Expected 3 instants and 1 summary, got %d and %d", instants, summaries)
	}
}

func TestSQLiteRepository_StartTraceRequiresKnownDevices(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.StartTrace(context.Background(), testRavenMAC, testMeterMAC, time.Now())
	if err == nil {
		t.Error("Expected foreign key violation for unregistered devices")
	}
}
