package validator

import (
	"fmt"
	"regexp"
	"time"

	"github.com/septivank/raven-tracer/internal/raven"
	"github.com/septivank/raven-tracer/tools/timeparser"
)

var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}(:[0-9A-Fa-f]{2}){5}$`)

// ValidationResult holds validation outcome
type ValidationResult struct {
	IsValid       bool
	AnomalyReason string
}

// Validator checks decoded readings with configurable parameters
type Validator struct {
	timestampToleranceMinutes int
}

// NewValidator creates a new validator with the specified tolerance
func NewValidator(timestampToleranceMinutes int) *Validator {
	return &Validator{
		timestampToleranceMinutes: timestampToleranceMinutes,
	}
}

// IsCanonicalMAC reports whether mac has six colon separated hex octets
func IsCanonicalMAC(mac string) bool {
	return macPattern.MatchString(mac)
}

// ValidateReading checks a reading against the host clock at receivedAt.
// Readings without a device timestamp are only checked for MAC form.
func (v *Validator) ValidateReading(r raven.Reading, receivedAt time.Time) ValidationResult {
	result := ValidationResult{IsValid: true}

	if m, ok := r.(raven.Metered); ok {
		adapter, meter := m.Macs()
		if !IsCanonicalMAC(adapter) {
			result.IsValid = false
			result.AnomalyReason = fmt.Sprintf("malformed adapter MAC %q", adapter)
			return result
		}
		if !IsCanonicalMAC(meter) {
			result.IsValid = false
			result.AnomalyReason = fmt.Sprintf("malformed meter MAC %q", meter)
			return result
		}
	}

	ts := raven.Timestamp(r)
	if ts.IsZero() {
		return result
	}

	if !timeparser.IsWithinTolerance(ts, receivedAt, v.timestampToleranceMinutes) {
		result.IsValid = false
		result.AnomalyReason = fmt.Sprintf("timestamp outside tolerance window (±%d minutes)", v.timestampToleranceMinutes)
	}

	return result
}
