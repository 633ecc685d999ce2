//go:build integration

package repository_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/raven-tracer/internal/db"
	"github.com/septivank/raven-tracer/internal/repository"
)

// Run with: RAVEN_TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/repository/
func newPostgresRepository(t *testing.T) *repository.Repository {
	t.Helper()

	url := os.Getenv("RAVEN_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RAVEN_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.MigratePostgres(ctx, pool); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	for _, table := range []string{"summaries", "instants", "traces", "smartmeters", "ravens"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("Failed to clear %s: %v", table, err)
		}
	}

	return repository.NewRepository(pool)
}

func TestRepository_Devices(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()

	if err := repo.InsertDevice(ctx, db.KindRaven, db.Device{MACAddress: testRavenMAC}); err != nil {
		t.Fatalf("Failed to insert raven: %v", err)
	}
	err := repo.InsertDevice(ctx, db.KindRaven, db.Device{MACAddress: testRavenMAC})
	if !errors.Is(err, db.ErrDuplicateDevice) {
		t.Fatalf("Expected ErrDuplicateDevice, got %v", err)
	}

	exists, err := repo.DeviceExists(ctx, db.KindRaven, testRavenMAC)
	if err != nil || !exists {
		t.Fatalf("Expected raven to exist, got %v (%v)", exists, err)
	}
	exists, _ = repo.DeviceExists(ctx, db.KindSmartMeter, testRavenMAC)
	if exists {
		t.Error("Expected raven MAC to be unknown as a smart meter")
	}

	nick := "hallway"
	if err := repo.UpdateDeviceNick(ctx, db.KindRaven, testRavenMAC, &nick); err != nil {
		t.Fatalf("Failed to rename raven: %v", err)
	}
	err = repo.UpdateDeviceNick(ctx, db.KindSmartMeter, testMeterMAC, &nick)
	if !errors.Is(err, db.ErrDeviceNotFound) {
		t.Fatalf("Expected ErrDeviceNotFound, got %v", err)
	}

	devices, err := repo.ListDevices(ctx, db.KindRaven)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(devices) != 1 || devices[0].Nick == nil || *devices[0].Nick != "hallway" {
		t.Errorf("Expected renamed raven, got %+v", devices)
	}
}

func TestRepository_TraceLifecycle(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()

	repo.InsertDevice(ctx, db.KindRaven, db.Device{MACAddress: testRavenMAC})
	repo.InsertDevice(ctx, db.KindSmartMeter, db.Device{MACAddress: testMeterMAC})

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	traceID, err := repo.StartTrace(ctx, testRavenMAC, testMeterMAC, start)
	if err != nil {
		t.Fatalf("Failed to start trace: %v", err)
	}

	if err := repo.InsertInstant(ctx, db.Instant{TraceID: traceID, ReadTime: start, ReadValue: 1500}); err != nil {
		t.Fatalf("Failed to insert instant: %v", err)
	}
	if err := repo.InsertSummary(ctx, db.Summary{TraceID: traceID, ReadTime: start, ReadValue: 12345678}); err != nil {
		t.Fatalf("Failed to insert summary: %v", err)
	}

	end := start.Add(time.Hour)
	if err := repo.EndTrace(ctx, traceID, end); err != nil {
		t.Fatalf("Failed to end trace: %v", err)
	}

	trace, err := repo.GetTrace(ctx, traceID)
	if err != nil {
		t.Fatalf("Failed to load trace: %v", err)
	}
	if trace.RavenMACAddress != testRavenMAC || trace.SmartMeterMACAddress != testMeterMAC {
		t.Errorf("Unexpected trace devices: %+v", trace)
	}
	if !trace.StartTime.Equal(start) {
		t.Errorf("Expected start %v, got %v", start, trace.StartTime)
	}
	if trace.EndTime == nil || !trace.EndTime.Equal(end) {
		t.Errorf("Expected end %v, got %v", end, trace.EndTime)
	}
}

func TestRepository_StartTraceRequiresKnownDevices(t *testing.T) {
	repo := newPostgresRepository(t)

	if _, err := repo.StartTrace(context.Background(), testRavenMAC, testMeterMAC, time.Now()); err == nil {
		t.Error("Expected foreign key violation for unregistered devices")
	}
}
