package db

import (
	"errors"
	"time"
)

var (
	ErrDuplicateDevice = errors.New("device already registered")
	ErrDeviceNotFound  = errors.New("device not found")
)

// DeviceKind selects which identity table a device lives in
type DeviceKind string

const (
	KindRaven      DeviceKind = "raven"
	KindSmartMeter DeviceKind = "smartmeter"
)

// Table returns the identity table for the kind
func (k DeviceKind) Table() string {
	if k == KindSmartMeter {
		return "smartmeters"
	}
	return "ravens"
}

// Device is a raven adapter or smart meter identity record
type Device struct {
	MACAddress string
	Nick       *string
}

// Trace represents one logging session
type Trace struct {
	ID                   int64
	RavenMACAddress      string
	SmartMeterMACAddress string
	StartTime            time.Time
	EndTime              *time.Time
}

// Instant is one persisted InstantaneousDemand reading
type Instant struct {
	TraceID   int64
	ReadTime  time.Time
	ReadValue uint64
}

// Summary is one persisted CurrentSummationDelivered reading
type Summary struct {
	TraceID   int64
	ReadTime  time.Time
	ReadValue uint64
}
