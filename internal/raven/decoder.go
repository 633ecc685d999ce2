package raven

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/raven-tracer/tools/timeparser"
	"go.uber.org/zap"
)

// ErrMissingElement is returned when a stanza lacks a child element its builder needs
var ErrMissingElement = errors.New("missing element")

// macPrefixLen is the part of DeviceMacId/MeterMacId dropped before grouping into octets
const macPrefixLen = 6

// Register widths of the metered values as reported by the adapter
const (
	demandBits    = 32
	summationBits = 48
)

type element struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type stanza struct {
	XMLName  xml.Name
	Elements []element `xml:",any"`
}

func (s *stanza) text(name string) (string, error) {
	for _, e := range s.Elements {
		if e.XMLName.Local == name {
			return strings.TrimSpace(e.Value), nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", ErrMissingElement, s.XMLName.Local, name)
}

func (s *stanza) has(name string) bool {
	_, err := s.text(name)
	return err == nil
}

func (s *stanza) hex(name string) (uint64, error) {
	v, err := s.text(name)
	if err != nil {
		return 0, err
	}
	n, err := timeparser.ParseHexUint(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return n, nil
}

// bounded reads a hex field that must fit in a register of the given width
func (s *stanza) bounded(name string, bits int) (uint64, error) {
	n, err := s.hex(name)
	if err != nil {
		return 0, err
	}
	if n > 1<<bits-1 {
		return 0, fmt.Errorf("%s: value 0x%x exceeds %d bits", name, n, bits)
	}
	return n, nil
}

func (s *stanza) timestamp(name string) (time.Time, error) {
	v, err := s.text(name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := timeparser.ParseRavenTimestamp(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func (s *stanza) mac(name string) (string, error) {
	v, err := s.text(name)
	if err != nil {
		return "", err
	}
	mac, err := DeriveMAC(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return mac, nil
}

// scale reads the optional factors; absent ones stay zero
func (s *stanza) scale() (Scale, error) {
	var sc Scale
	fields := []struct {
		name string
		dst  *uint64
	}{
		{"Multiplier", &sc.Multiplier},
		{"Divisor", &sc.Divisor},
		{"DigitsRight", &sc.DigitsRight},
	}
	for _, f := range fields {
		if !s.has(f.name) {
			continue
		}
		v, err := s.hex(f.name)
		if err != nil {
			return sc, err
		}
		*f.dst = v
	}
	return sc, nil
}

// DeriveMAC drops the fixed prefix of a raw device id and groups the next
// twelve hex digits into six colon separated octets, keeping their case.
func DeriveMAC(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) < macPrefixLen+12 {
		return "", fmt.Errorf("device id '%s' too short", raw)
	}
	digits := raw[macPrefixLen : macPrefixLen+12]
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		octet := digits[i : i+2]
		if _, err := strconv.ParseUint(octet, 16, 8); err != nil {
			return "", fmt.Errorf("device id '%s' is not hex", raw)
		}
		b.WriteString(octet)
	}
	return b.String(), nil
}

type builder func(s *stanza) (Reading, error)

// Decoder turns framed stanzas into readings. It holds no per-stanza state.
type Decoder struct {
	logger   *zap.Logger
	builders map[string]builder
}

// NewDecoder creates a decoder for the four message types the logger consumes
func NewDecoder(logger *zap.Logger) *Decoder {
	return &Decoder{
		logger: logger,
		builders: map[string]builder{
			"InstantaneousDemand":       buildInstantaneousDemand,
			"CurrentSummationDelivered": buildCurrentSummationDelivered,
			"ConnectionStatus":          buildConnectionStatus,
			"TimeCluster":               buildTimeCluster,
		},
	}
}

// Decode never fails: malformed and unrecognized stanzas come back as Skip
func (d *Decoder) Decode(raw string) Reading {
	var s stanza
	if err := xml.Unmarshal([]byte(raw), &s); err != nil {
		d.logger.Warn("parse error, probably a corrupt message, skipping",
			zap.Error(err),
			zap.String("stanza", raw),
		)
		return Skip{Raw: raw, Reason: fmt.Sprintf("parse error: %v", err)}
	}

	build, ok := d.builders[s.XMLName.Local]
	if !ok {
		d.logger.Debug("unexpected message type", zap.String("type", s.XMLName.Local))
		return Skip{Raw: raw, Reason: "unexpected message type " + s.XMLName.Local}
	}

	reading, err := build(&s)
	if err != nil {
		d.logger.Warn("failed to decode stanza, skipping",
			zap.Error(err),
			zap.String("type", s.XMLName.Local),
			zap.String("stanza", raw),
		)
		return Skip{Raw: raw, Reason: err.Error()}
	}
	return reading
}

func buildInstantaneousDemand(s *stanza) (Reading, error) {
	ts, err := s.timestamp("TimeStamp")
	if err != nil {
		return nil, err
	}
	demand, err := s.bounded("Demand", demandBits)
	if err != nil {
		return nil, err
	}
	adapter, err := s.mac("DeviceMacId")
	if err != nil {
		return nil, err
	}
	meter, err := s.mac("MeterMacId")
	if err != nil {
		return nil, err
	}
	sc, err := s.scale()
	if err != nil {
		return nil, err
	}
	return InstantaneousDemand{
		Time:       ts,
		Demand:     demand,
		AdapterMAC: adapter,
		MeterMAC:   meter,
		Scale:      sc,
	}, nil
}

func buildCurrentSummationDelivered(s *stanza) (Reading, error) {
	ts, err := s.timestamp("TimeStamp")
	if err != nil {
		return nil, err
	}
	summation, err := s.bounded("SummationDelivered", summationBits)
	if err != nil {
		return nil, err
	}
	adapter, err := s.mac("DeviceMacId")
	if err != nil {
		return nil, err
	}
	meter, err := s.mac("MeterMacId")
	if err != nil {
		return nil, err
	}
	sc, err := s.scale()
	if err != nil {
		return nil, err
	}
	return CurrentSummationDelivered{
		Time:       ts,
		Summation:  summation,
		AdapterMAC: adapter,
		MeterMAC:   meter,
		Scale:      sc,
	}, nil
}

func buildConnectionStatus(s *stanza) (Reading, error) {
	status, err := s.text("Status")
	if err != nil {
		return nil, err
	}
	description, err := s.text("Description")
	if err != nil {
		return nil, err
	}
	channelText, err := s.text("Channel")
	if err != nil {
		return nil, err
	}
	channel, err := strconv.Atoi(channelText)
	if err != nil {
		return nil, fmt.Errorf("Channel: %w", err)
	}
	link, err := s.hex("LinkStrength")
	if err != nil {
		return nil, err
	}

	r := ConnectionStatus{
		Status:       status + ":" + description,
		Channel:      channel,
		LinkStrength: link,
	}
	if s.has("TimeStamp") {
		ts, err := s.timestamp("TimeStamp")
		if err != nil {
			return nil, err
		}
		r.Time = ts
	}
	return r, nil
}

func buildTimeCluster(s *stanza) (Reading, error) {
	utc, err := s.timestamp("UTCTime")
	if err != nil {
		return nil, err
	}
	local, err := s.timestamp("LocalTime")
	if err != nil {
		return nil, err
	}
	return TimeCluster{UTC: utc, Local: local}, nil
}
