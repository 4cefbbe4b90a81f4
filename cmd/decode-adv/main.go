// Command decode-adv decodes one advertising payload offline and prints the
// AD structures and readings it contains.
//
// Usage:
//
//	go run ./cmd/decode-adv [--mac A4:C1:38:11:22:33] [--token hex] [--profile lywsd03mmc] <hex payload>
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chaz8081/beaconbridge/internal/adv"
	"github.com/chaz8081/beaconbridge/internal/ble/crypto"
	"github.com/chaz8081/beaconbridge/internal/ble/protocol"
	"github.com/chaz8081/beaconbridge/internal/decode"
	"github.com/chaz8081/beaconbridge/internal/publish"
)

func main() {
	macFlag := flag.String("mac", "00:00:00:00:00:00", "advertiser address (needed for decryption)")
	token := flag.String("token", "", "MiBeacon bind key, 32 hex chars")
	profile := flag.String("profile", "generic", "device profile: lywsd03mmc, mjwsd05mmc or generic")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: decode-adv [flags] <hex payload>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	payload, err := hex.DecodeString(strings.NewReplacer(" ", "", ":", "").Replace(strings.Join(flag.Args(), "")))
	if err != nil {
		fatalf("payload is not hex: %v", err)
	}
	mac, err := decode.ParseMAC(*macFlag)
	if err != nil {
		fatalf("%v", err)
	}

	keys := decode.Keyring{}
	unit, err := decode.BatteryUnitFor(decode.Profile(*profile), "")
	if err != nil {
		fatalf("%v", err)
	}
	dev := decode.Device{MAC: mac, BatteryUnit: unit}
	if *token != "" {
		if dev.Key, err = crypto.ParseToken(*token); err != nil {
			fatalf("%v", err)
		}
	}
	keys.Add(dev)

	fmt.Printf("Payload (%d bytes): %s\n", len(payload), protocol.Hex(payload))

	structs, err := adv.Structures(payload)
	if err != nil {
		fatalf("%v", err)
	}
	for i, s := range structs {
		fmt.Printf("  [%d] type 0x%02X len %2d  %s\n", i, s.Type, len(s.Payload), protocol.Hex(s.Payload))
	}

	outcomes, err := decode.NewDecoder(decode.NewRegistry(), keys).DecodePayload(mac, payload)
	if err != nil {
		fatalf("%v", err)
	}
	if len(outcomes) == 0 {
		fmt.Println("No service data found.")
		return
	}
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Printf("Error: %v\n", o.Err)
			continue
		}
		data, err := publish.Encode(o.Reading)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(string(data))
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
