package raven

import "time"

// Kind names a reading variant after the root element it was decoded from
type Kind int

const (
	KindSkip Kind = iota
	KindStop
	KindInstantaneousDemand
	KindCurrentSummationDelivered
	KindConnectionStatus
	KindTimeCluster
)

func (k Kind) String() string {
	switch k {
	case KindInstantaneousDemand:
		return "InstantaneousDemand"
	case KindCurrentSummationDelivered:
		return "CurrentSummationDelivered"
	case KindConnectionStatus:
		return "ConnectionStatus"
	case KindTimeCluster:
		return "TimeCluster"
	case KindStop:
		return "stop"
	default:
		return "skip"
	}
}

// Reading is one decoded telemetry message. The set of implementations is closed.
type Reading interface {
	Kind() Kind
	isReading()
}

// Metered is implemented by readings attributed to an adapter/meter pair
type Metered interface {
	Reading
	Macs() (adapterMAC, meterMAC string)
}

// Scale holds the optional conversion factors sent next to a raw value.
// Zero factors mean the adapter did not send them.
type Scale struct {
	Multiplier  uint64
	Divisor     uint64
	DigitsRight uint64
}

// Apply converts a raw register value into kW or kWh
func (s Scale) Apply(raw uint64) float64 {
	multiplier, divisor := s.Multiplier, s.Divisor
	if multiplier == 0 {
		multiplier = 1
	}
	if divisor == 0 {
		divisor = 1
	}
	return float64(raw) * float64(multiplier) / float64(divisor)
}

type InstantaneousDemand struct {
	Time       time.Time
	Demand     uint64
	AdapterMAC string
	MeterMAC   string
	Scale      Scale
}

func (InstantaneousDemand) Kind() Kind { return KindInstantaneousDemand }
func (InstantaneousDemand) isReading() {}

func (r InstantaneousDemand) Macs() (string, string) { return r.AdapterMAC, r.MeterMAC }

// Kilowatts applies the scale factors; the raw Demand is what gets stored
func (r InstantaneousDemand) Kilowatts() float64 { return r.Scale.Apply(r.Demand) }

type CurrentSummationDelivered struct {
	Time       time.Time
	Summation  uint64
	AdapterMAC string
	MeterMAC   string
	Scale      Scale
}

func (CurrentSummationDelivered) Kind() Kind { return KindCurrentSummationDelivered }
func (CurrentSummationDelivered) isReading() {}

func (r CurrentSummationDelivered) Macs() (string, string) { return r.AdapterMAC, r.MeterMAC }

func (r CurrentSummationDelivered) KilowattHours() float64 { return r.Scale.Apply(r.Summation) }

type ConnectionStatus struct {
	// Time is zero when the adapter omitted TimeStamp
	Time         time.Time
	Status       string
	Channel      int
	LinkStrength uint64
}

func (ConnectionStatus) Kind() Kind { return KindConnectionStatus }
func (ConnectionStatus) isReading() {}

type TimeCluster struct {
	UTC   time.Time
	Local time.Time
}

func (TimeCluster) Kind() Kind { return KindTimeCluster }
func (TimeCluster) isReading() {}

// Skip stands in for a stanza that could not be decoded
type Skip struct {
	Raw    string
	Reason string
}

func (Skip) Kind() Kind { return KindSkip }
func (Skip) isReading() {}

// Stop is the shutdown sentinel sent by the producer
type Stop struct{}

func (Stop) Kind() Kind { return KindStop }
func (Stop) isReading() {}

// Timestamp returns the device time carried by a reading, or the zero time
func Timestamp(r Reading) time.Time {
	switch v := r.(type) {
	case InstantaneousDemand:
		return v.Time
	case CurrentSummationDelivered:
		return v.Time
	case ConnectionStatus:
		return v.Time
	case TimeCluster:
		return v.UTC
	default:
		return time.Time{}
	}
}
