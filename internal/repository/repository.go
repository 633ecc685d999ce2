package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/raven-tracer/internal/db"
)

// Repository handles PostgreSQL operations for devices, traces and readings
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// readValue converts a reading to the signed BIGINT column type
func readValue(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("reading value %d overflows storage", v)
	}
	return int64(v), nil
}

// DeviceExists reports whether an identity record for mac exists
func (r *Repository) DeviceExists(ctx context.Context, kind db.DeviceKind, mac string) (bool, error) {
	query := fmt.Sprintf(`SELECT mac_address FROM %s WHERE mac_address = $1`, kind.Table())

	var found string
	err := r.pool.QueryRow(ctx, query, mac).Scan(&found)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check for %s existence: %w", kind, err)
	}
	return true, nil
}

// InsertDevice adds an identity record. An existing record is left untouched
// and reported as db.ErrDuplicateDevice.
func (r *Repository) InsertDevice(ctx context.Context, kind db.DeviceKind, device db.Device) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (mac_address, nick)
		VALUES ($1, $2)
		ON CONFLICT (mac_address) DO NOTHING
	`, kind.Table())

	tag, err := r.pool.Exec(ctx, query, device.MACAddress, device.Nick)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, device.MACAddress, db.ErrDuplicateDevice)
	}
	return nil
}

// UpdateDeviceNick sets or clears the nickname of a device
func (r *Repository) UpdateDeviceNick(ctx context.Context, kind db.DeviceKind, mac string, nick *string) error {
	query := fmt.Sprintf(`UPDATE %s SET nick = $1 WHERE mac_address = $2`, kind.Table())

	tag, err := r.pool.Exec(ctx, query, nick, mac)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, mac, db.ErrDeviceNotFound)
	}
	return nil
}

// ListDevices returns every identity record of a kind
func (r *Repository) ListDevices(ctx context.Context, kind db.DeviceKind) ([]db.Device, error) {
	query := fmt.Sprintf(`SELECT mac_address, nick FROM %s ORDER BY mac_address`, kind.Table())

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", kind, err)
	}
	defer rows.Close()

	var devices []db.Device
	for rows.Next() {
		var d db.Device
		if err := rows.Scan(&d.MACAddress, &d.Nick); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// StartTrace inserts a trace row and commits it, returning the generated id
func (r *Repository) StartTrace(ctx context.Context, ravenMAC, meterMAC string, start time.Time) (int64, error) {
	tx, err := r.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO traces (raven_mac_address, smartmeter_mac_address, start_time)
		VALUES ($1, $2, $3)
		RETURNING trace_id
	`

	var traceID int64
	if err := tx.QueryRow(ctx, query, ravenMAC, meterMAC, start).Scan(&traceID); err != nil {
		return 0, fmt.Errorf("failed to mark start of trace: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit trace start: %w", err)
	}

	return traceID, nil
}

// EndTrace sets the end time of a trace
func (r *Repository) EndTrace(ctx context.Context, traceID int64, end time.Time) error {
	query := `
		UPDATE traces
		SET end_time = $1
		WHERE trace_id = $2
	`

	if _, err := r.pool.Exec(ctx, query, end, traceID); err != nil {
		return fmt.Errorf("failed to mark end of trace: %w", err)
	}
	return nil
}

// GetTrace loads a trace by id
func (r *Repository) GetTrace(ctx context.Context, traceID int64) (*db.Trace, error) {
	query := `
		SELECT trace_id, raven_mac_address, smartmeter_mac_address, start_time, end_time
		FROM traces
		WHERE trace_id = $1
	`

	var trace db.Trace
	err := r.pool.QueryRow(ctx, query, traceID).Scan(
		&trace.ID,
		&trace.RavenMACAddress,
		&trace.SmartMeterMACAddress,
		&trace.StartTime,
		&trace.EndTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}
	return &trace, nil
}

// InsertInstant inserts an instantaneous demand reading
func (r *Repository) InsertInstant(ctx context.Context, instant db.Instant) error {
	value, err := readValue(instant.ReadValue)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO instants (trace_id, read_time, read_value)
		VALUES ($1, $2, $3)
	`

	if _, err := r.pool.Exec(ctx, query, instant.TraceID, instant.ReadTime, value); err != nil {
		return fmt.Errorf("failed to log instant reading: %w", err)
	}
	return nil
}

// InsertSummary inserts a summation delivered reading
func (r *Repository) InsertSummary(ctx context.Context, summary db.Summary) error {
	value, err := readValue(summary.ReadValue)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO summaries (trace_id, read_time, read_value)
		VALUES ($1, $2, $3)
	`

	if _, err := r.pool.Exec(ctx, query, summary.TraceID, summary.ReadTime, value); err != nil {
		return fmt.Errorf("failed to log summary: %w", err)
	}
	return nil
}
