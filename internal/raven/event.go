package raven

import "time"

// Event is the JSON form of a reading handed to publishers and the live feed
type Event struct {
	Kind         string     `json:"kind"`
	DeviceTime   *time.Time `json:"device_time,omitempty"`
	LocalTime    *time.Time `json:"local_time,omitempty"`
	AdapterMAC   string     `json:"adapter_mac,omitempty"`
	MeterMAC     string     `json:"meter_mac,omitempty"`
	RawValue     *uint64    `json:"raw_value,omitempty"`
	Value        *float64   `json:"value,omitempty"`
	Unit         string     `json:"unit,omitempty"`
	Status       string     `json:"status,omitempty"`
	Channel      *int       `json:"channel,omitempty"`
	LinkStrength *uint64    `json:"link_strength,omitempty"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// NewEvent converts a reading; Skip and Stop have no event form
func NewEvent(r Reading) (Event, bool) {
	switch v := r.(type) {
	case InstantaneousDemand:
		raw, kw := v.Demand, v.Kilowatts()
		return Event{
			Kind:       v.Kind().String(),
			DeviceTime: timePtr(v.Time),
			AdapterMAC: v.AdapterMAC,
			MeterMAC:   v.MeterMAC,
			RawValue:   &raw,
			Value:      &kw,
			Unit:       "kW",
		}, true
	case CurrentSummationDelivered:
		raw, kwh := v.Summation, v.KilowattHours()
		return Event{
			Kind:       v.Kind().String(),
			DeviceTime: timePtr(v.Time),
			AdapterMAC: v.AdapterMAC,
			MeterMAC:   v.MeterMAC,
			RawValue:   &raw,
			Value:      &kwh,
			Unit:       "kWh",
		}, true
	case ConnectionStatus:
		channel, strength := v.Channel, v.LinkStrength
		return Event{
			Kind:         v.Kind().String(),
			DeviceTime:   timePtr(v.Time),
			Status:       v.Status,
			Channel:      &channel,
			LinkStrength: &strength,
		}, true
	case TimeCluster:
		return Event{
			Kind:       v.Kind().String(),
			DeviceTime: timePtr(v.UTC),
			LocalTime:  timePtr(v.Local),
		}, true
	default:
		return Event{}, false
	}
}
