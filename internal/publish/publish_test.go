package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gotest.tools/assert"

	"github.com/chaz8081/beaconbridge/internal/decode"
)

var testMAC = decode.MAC{0xA4, 0xC1, 0x38, 0x11, 0x22, 0x33}

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func f32(v float32) *float32 { return &v }

func miReading() decode.Reading {
	return decode.Reading{
		MAC:         testMAC,
		Format:      "mibeacon",
		Temperature: f32(21.5),
		Humidity:    f32(55),
		Battery:     &decode.Battery{Value: 2980, Unit: decode.BatteryMillivolts},
		RSSI:        -70,
		SeenAt:      testTime,
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, Topic("mi_temp", testMAC), "mi_temp/A4C138112233/state")
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		reading decode.Reading
		want    string
	}{
		{
			name:    "mibeacon",
			reading: miReading(),
			want:    `{"mac":"A4:C1:38:11:22:33","format":"mibeacon","temperature":21.5,"humidity":55.0,"battery":2980,"battery_unit":"millivolts","rssi":-70,"seen_at":"2026-01-02T03:04:05Z"}`,
		},
		{
			name: "bthome temperature and voltage",
			reading: decode.Reading{
				MAC:         testMAC,
				Format:      "bthome_v2",
				Temperature: f32(-3.27),
				Voltage:     f32(2.98),
				SeenAt:      testTime,
			},
			want: `{"mac":"A4:C1:38:11:22:33","format":"bthome_v2","temperature":-3.3,"voltage":2.980,"seen_at":"2026-01-02T03:04:05Z"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Encode(tt.reading)
			assert.NilError(t, err)
			assert.Equal(t, string(got), tt.want)
			assert.Assert(t, json.Valid(got))
		})
	}
}

func TestNewPayloadDefaultsSeenAt(t *testing.T) {
	r := miReading()
	r.SeenAt = time.Time{}
	p := NewPayload(r)
	assert.Assert(t, !p.SeenAt.IsZero())
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil)))

	assert.NilError(t, p.Publish(context.Background(), miReading()))
	assert.NilError(t, p.Close())

	out := buf.String()
	assert.Assert(t, strings.Contains(out, "mac=A4:C1:38:11:22:33"), out)
	assert.Assert(t, strings.Contains(out, `\"temperature\":21.5`), out)
}
