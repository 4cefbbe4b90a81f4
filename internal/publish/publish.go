// Package publish delivers decoded readings to MQTT, Google Cloud Pub/Sub or
// the log.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chaz8081/beaconbridge/internal/decode"
)

// Publisher sends readings somewhere. Implementations are safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, r decode.Reading) error
	Close() error
}

// Payload is the JSON body published for one reading. Measurements the frame
// did not carry are omitted.
type Payload struct {
	MAC         string      `json:"mac"`
	Format      string      `json:"format,omitempty"`
	Temperature json.Number `json:"temperature,omitempty"`
	Humidity    json.Number `json:"humidity,omitempty"`
	Battery     *uint16     `json:"battery,omitempty"`
	BatteryUnit string      `json:"battery_unit,omitempty"`
	Voltage     json.Number `json:"voltage,omitempty"`
	RSSI        int16       `json:"rssi,omitempty"`
	SeenAt      time.Time   `json:"seen_at"`
}

// NewPayload converts r. Temperature and humidity are rounded to one
// decimal, voltage to millivolts.
func NewPayload(r decode.Reading) Payload {
	p := Payload{
		MAC:    r.MAC.String(),
		Format: r.Format,
		RSSI:   r.RSSI,
		SeenAt: r.SeenAt,
	}
	if p.SeenAt.IsZero() {
		p.SeenAt = time.Now()
	}
	p.Temperature = number(r.Temperature, 1)
	p.Humidity = number(r.Humidity, 1)
	p.Voltage = number(r.Voltage, 3)
	if r.Battery != nil {
		v := r.Battery.Value
		p.Battery = &v
		p.BatteryUnit = string(r.Battery.Unit)
	}
	return p
}

func number(v *float32, decimals int) json.Number {
	if v == nil {
		return ""
	}
	return json.Number(strconv.FormatFloat(float64(*v), 'f', decimals, 32))
}

// Encode returns the JSON body for r.
func Encode(r decode.Reading) ([]byte, error) {
	data, err := json.Marshal(NewPayload(r))
	if err != nil {
		return nil, fmt.Errorf("publish: marshal reading: %w", err)
	}
	return data, nil
}

// Topic returns the MQTT state topic for mac: <prefix>/<MAC without colons>/state.
func Topic(prefix string, mac decode.MAC) string {
	return prefix + "/" + mac.Compact() + "/state"
}

// LogPublisher writes readings to a logger. Useful without a broker.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, r decode.Reading) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	p.logger.Info("reading", "mac", r.MAC, "format", r.Format, "payload", string(data))
	return nil
}

func (p *LogPublisher) Close() error { return nil }
