package ble

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaz8081/beaconbridge/internal/adv"
	"github.com/chaz8081/beaconbridge/internal/decode"
)

func TestDutyCycleWindows(t *testing.T) {
	var windows atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := dutyCycle(ctx, ScanOptions{Window: 10 * time.Millisecond, Pause: 5 * time.Millisecond}, func(wctx context.Context) error {
		windows.Add(1)
		<-wctx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("dutyCycle() error = %v", err)
	}
	if n := windows.Load(); n < 2 {
		t.Errorf("windows = %d, want at least 2", n)
	}
}

func TestDutyCycleContinuous(t *testing.T) {
	var windows atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := dutyCycle(ctx, ScanOptions{}, func(wctx context.Context) error {
		windows.Add(1)
		<-wctx.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("dutyCycle() error = %v", err)
	}
	if n := windows.Load(); n != 1 {
		t.Errorf("windows = %d, want 1", n)
	}
}

func TestDutyCycleScanError(t *testing.T) {
	cause := errors.New("adapter gone")
	err := dutyCycle(context.Background(), ScanOptions{Window: time.Second}, func(context.Context) error {
		return cause
	})
	if !errors.Is(err, cause) {
		t.Errorf("dutyCycle() error = %v, want %v", err, cause)
	}
}

func TestAssemblePayload(t *testing.T) {
	sds := []serviceData{{uuid: 0xFCD2, data: []byte{0x40, 0x01, 0x64, 0x02, 0x34, 0x12}}}
	payload := assemblePayload("ATC_1122", sds, []byte{0x4C, 0x00, 0x02})

	structs, err := adv.Structures(payload)
	if err != nil {
		t.Fatalf("Structures() error = %v", err)
	}
	wantTypes := []byte{adv.TypeFlags, adv.TypeCompleteName, adv.TypeServiceData16, adv.TypeManufacturerData}
	if len(structs) != len(wantTypes) {
		t.Fatalf("got %d structures, want %d", len(structs), len(wantTypes))
	}
	for i, typ := range wantTypes {
		if structs[i].Type != typ {
			t.Errorf("structure %d type = 0x%02X, want 0x%02X", i, structs[i].Type, typ)
		}
	}
	if want := []byte{0xD2, 0xFC, 0x40, 0x01, 0x64, 0x02, 0x34, 0x12}; !bytes.Equal(structs[2].Payload, want) {
		t.Errorf("service data = %x, want %x", structs[2].Payload, want)
	}
}

func TestAssemblePayloadDecodes(t *testing.T) {
	sds := []serviceData{{uuid: 0xFCD2, data: []byte{0x40, 0x01, 0x64, 0x02, 0x34, 0x12}}}
	payload := assemblePayload("ATC_1122", sds, nil)

	outcomes, err := decode.NewDecoder(decode.NewRegistry(), nil).DecodePayload(testMAC, payload)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Err != nil {
		t.Fatalf("outcomes = %+v, want one reading", outcomes)
	}
	r := outcomes[0].Reading
	if r.Temperature == nil || *r.Temperature != 46.6 {
		t.Errorf("temperature = %v, want 46.6", r.Temperature)
	}
	if r.Battery == nil || r.Battery.Value != 100 {
		t.Errorf("battery = %v, want 100", r.Battery)
	}
}
