// Package gatt walks a discovered GATT service tree one operation at a time,
// enabling notifications or reading each characteristic in turn.
package gatt

import (
	"strings"
)

// Property is the characteristic properties bitmask from the GATT
// characteristic declaration.
type Property uint8

const (
	PropBroadcast            Property = 0x01
	PropRead                 Property = 0x02
	PropWriteWithoutResponse Property = 0x04
	PropWrite                Property = 0x08
	PropNotify               Property = 0x10
	PropIndicate             Property = 0x20
)

// Has reports whether every bit of q is set.
func (p Property) Has(q Property) bool {
	return p&q == q
}

// String lists the set properties, e.g. "read|notify".
func (p Property) String() string {
	names := []struct {
		bit  Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write-no-rsp"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}
	var parts []string
	for _, n := range names {
		if p.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Characteristic is one characteristic as reported by service discovery.
type Characteristic struct {
	UUID       string
	Properties Property
}

// Service is one discovered service with its characteristics in reported
// order.
type Service struct {
	UUID            string
	Characteristics []Characteristic
}

// CharacteristicRef identifies one entry of a WalkPlan.
type CharacteristicRef struct {
	ServiceUUID        string
	CharacteristicUUID string
	Properties         Property
	Ordinal            int
}

// Same reports whether r and o name the same plan entry.
func (r CharacteristicRef) Same(o CharacteristicRef) bool {
	return r.Ordinal == o.Ordinal &&
		strings.EqualFold(r.ServiceUUID, o.ServiceUUID) &&
		strings.EqualFold(r.CharacteristicUUID, o.CharacteristicUUID)
}

// WalkPlan is the flattened, immutable order in which characteristics are
// visited. Build a new plan for every connection.
type WalkPlan struct {
	refs []CharacteristicRef
}

// NewWalkPlan flattens services in the order given, characteristics in the
// order given within each service, and numbers them from 0.
func NewWalkPlan(services []Service) *WalkPlan {
	var refs []CharacteristicRef
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			refs = append(refs, CharacteristicRef{
				ServiceUUID:        svc.UUID,
				CharacteristicUUID: c.UUID,
				Properties:         c.Properties,
				Ordinal:            len(refs),
			})
		}
	}
	return &WalkPlan{refs: refs}
}

// Len returns the number of entries.
func (p *WalkPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.refs)
}

// At returns entry i.
func (p *WalkPlan) At(i int) (CharacteristicRef, bool) {
	if p == nil || i < 0 || i >= len(p.refs) {
		return CharacteristicRef{}, false
	}
	return p.refs[i], true
}

// Refs returns a copy of all entries in walk order.
func (p *WalkPlan) Refs() []CharacteristicRef {
	if p == nil {
		return nil
	}
	out := make([]CharacteristicRef, len(p.refs))
	copy(out, p.refs)
	return out
}
