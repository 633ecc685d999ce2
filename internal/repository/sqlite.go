package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/septivank/raven-tracer/internal/db"
)

// SQLiteRepository stores traces in a local SQLite file. Times are kept as
// unix seconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open SQLite handle
func NewSQLiteRepository(sqlDB *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: sqlDB}
}

// DeviceExists checks if a device of the given kind is registered
func (r *SQLiteRepository) DeviceExists(ctx context.Context, kind db.DeviceKind, mac string) (bool, error) {
	query := fmt.Sprintf(`SELECT mac_address FROM %s WHERE mac_address = ?`, kind.Table())

	var found string
	err := r.db.QueryRowContext(ctx, query, mac).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check for %s existence: %w", kind, err)
	}
	return true, nil
}

// InsertDevice registers a device. A MAC that is already present yields
// ErrDuplicateDevice and leaves the stored nickname untouched.
func (r *SQLiteRepository) InsertDevice(ctx context.Context, kind db.DeviceKind, device db.Device) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (mac_address, nick)
		VALUES (?, ?)
		ON CONFLICT (mac_address) DO NOTHING
	`, kind.Table())

	res, err := r.db.ExecContext(ctx, query, device.MACAddress, device.Nick)
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert %s: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, device.MACAddress, db.ErrDuplicateDevice)
	}
	return nil
}

// UpdateDeviceNick sets or clears a device nickname
func (r *SQLiteRepository) UpdateDeviceNick(ctx context.Context, kind db.DeviceKind, mac string, nick *string) error {
	query := fmt.Sprintf(`UPDATE %s SET nick = ? WHERE mac_address = ?`, kind.Table())

	res, err := r.db.ExecContext(ctx, query, nick, mac)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, mac, db.ErrDeviceNotFound)
	}
	return nil
}

// ListDevices returns every device of the given kind ordered by MAC
func (r *SQLiteRepository) ListDevices(ctx context.Context, kind db.DeviceKind) ([]db.Device, error) {
	query := fmt.Sprintf(`SELECT mac_address, nick FROM %s ORDER BY mac_address`, kind.Table())

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s records: %w", kind, err)
	}
	defer rows.Close()

	var devices []db.Device
	for rows.Next() {
		var d db.Device
		var nick sql.NullString
		if err := rows.Scan(&d.MACAddress, &nick); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		if nick.Valid {
			d.Nick = &nick.String
		}
		devices = append(devices, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return devices, nil
}

// StartTrace inserts a new trace row and returns its id
func (r *SQLiteRepository) StartTrace(ctx context.Context, ravenMAC, meterMAC string, start time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO traces (raven_mac_address, smartmeter_mac_address, start_time)
		VALUES (?, ?, ?)
	`, ravenMAC, meterMAC, start.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to mark start of trace: %w", err)
	}
	traceID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trace id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trace start: %w", err)
	}

	return traceID, nil
}

// EndTrace records the end time of a trace
func (r *SQLiteRepository) EndTrace(ctx context.Context, traceID int64, end time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE traces SET end_time = ? WHERE trace_id = ?`, end.Unix(), traceID)
	if err != nil {
		return fmt.Errorf("failed to mark end of trace: %w", err)
	}
	return nil
}

// GetTrace retrieves a trace by id
func (r *SQLiteRepository) GetTrace(ctx context.Context, traceID int64) (*db.Trace, error) {
	var (
		trace db.Trace
		start int64
		end   sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT trace_id, raven_mac_address, smartmeter_mac_address, start_time, end_time
		FROM traces
		WHERE trace_id = ?
	`, traceID).Scan(&trace.ID, &trace.RavenMACAddress, &trace.SmartMeterMACAddress, &start, &end)
	if err != nil {
		return nil, fmt.Errorf("failed to query trace: %w", err)
	}

	trace.StartTime = time.Unix(start, 0).UTC()
	if end.Valid {
		t := time.Unix(end.Int64, 0).UTC()
		trace.EndTime = &t
	}
	return &trace, nil
}

// InsertInstant logs one instantaneous demand reading
func (r *SQLiteRepository) InsertInstant(ctx context.Context, instant db.Instant) error {
	value, err := readValue(instant.ReadValue)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO instants (trace_id, read_time, read_value)
		VALUES (?, ?, ?)
	`, instant.TraceID, instant.ReadTime.Unix(), value)
	if err != nil {
		return fmt.Errorf("failed to log instant reading: %w", err)
	}
	return nil
}

// InsertSummary logs one summation delivered reading
func (r *SQLiteRepository) InsertSummary(ctx context.Context, summary db.Summary) error {
	value, err := readValue(summary.ReadValue)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO summaries (trace_id, read_time, read_value)
		VALUES (?, ?, ?)
	`, summary.TraceID, summary.ReadTime.Unix(), value)
	if err != nil {
		return fmt.Errorf("failed to log summary: %w", err)
	}
	return nil
}

// CountReadings returns how many instant and summary rows belong to a trace
func (r *SQLiteRepository) CountReadings(ctx context.Context, traceID int64) (instants, summaries int, err error) {
	err = r.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM instants WHERE trace_id = ?),
			(SELECT COUNT(*) FROM summaries WHERE trace_id = ?)
	`, traceID, traceID).Scan(&instants, &summaries)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return instants, summaries, nil
}
