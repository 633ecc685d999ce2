package timeparser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Epoch is the zero point of RAVEn timestamps (2000-01-01T00:00:00Z)
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// ParseHexUint parses a hex field as sent by the adapter, with or without a 0x prefix
func ParseHexUint(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty hex value")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value '%s': %w", s, err)
	}
	return v, nil
}

// ParseRavenTimestamp converts hex seconds since Epoch into a UTC time. The
// adapter sends a 32-bit counter, so wider values are rejected.
func ParseRavenTimestamp(hexSeconds string) (time.Time, error) {
	secs, err := ParseHexUint(hexSeconds)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp: %w", err)
	}
	if secs > math.MaxUint32 {
		return time.Time{}, fmt.Errorf("timestamp 0x%x exceeds 32 bits", secs)
	}
	return Epoch.Add(time.Duration(secs) * time.Second), nil
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
