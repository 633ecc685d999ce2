package raven_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/septivank/raven-tracer/internal/raven"
)

func TestNewEvent_DemandCarriesScaledValue(t *testing.T) {
	reading := raven.InstantaneousDemand{
		Time:       time.Date(2000, 1, 1, 0, 1, 0, 0, time.UTC),
		Demand:     500,
		AdapterMAC: "00:11:22:33:44:55",
		MeterMAC:   "13:AA:BB:CC:DD:EE",
		Scale:      raven.Scale{Multiplier: 1, Divisor: 1000},
	}

	event, ok := raven.NewEvent(reading)
	if !ok {
		t.Fatal("Expected demand to have an event form")
	}
	if event.Kind != "InstantaneousDemand" || event.Unit != "kW" {
		t.Errorf("Unexpected event %+v", event)
	}
	if event.RawValue == nil || *event.RawValue != 500 {
		t.Errorf("Expected raw value 500, got %v", event.RawValue)
	}
	if event.Value == nil || *event.Value != 0.5 {
		t.Errorf("Expected 0.5 kW, got %v", event.Value)
	}
}

func TestNewEvent_ConnectionStatusWithoutTime(t *testing.T) {
	event, ok := raven.NewEvent(raven.ConnectionStatus{Status: "Connected:Joined", Channel: 20})
	if !ok {
		t.Fatal("Expected connection status to have an event form")
	}

	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}
	if strings.Contains(string(body), "device_time") {
		t.Errorf("Expected missing device time to be omitted, got %s", body)
	}
	if !strings.Contains(string(body), `"channel":20`) {
		t.Errorf("Expected channel in %s", body)
	}
}

func TestNewEvent_SentinelsHaveNoEvent(t *testing.T) {
	for _, r := range []raven.Reading{raven.Skip{Raw: "<x"}, raven.Stop{}} {
		if _, ok := raven.NewEvent(r); ok {
			t.Errorf("Expected no event for %s", r.Kind())
		}
	}
}
