package analysis

import (
	"encoding/binary"
	"fmt"
)

// Transform names how a candidate value is read from a payload.
type Transform int

const (
	RawByte Transform = iota
	Uint16BE
	Uint16LE
)

// Unit is what a transform's interpreted value measures.
type Unit string

const (
	UnitPercent Unit = "percent"
	UnitHours   Unit = "hours"
)

type transformSpec struct {
	name   string
	width  int
	unit   Unit
	decode func(b []byte) int
}

var transformSpecs = [...]transformSpec{
	RawByte: {
		name:   "raw_byte",
		width:  1,
		unit:   UnitPercent,
		decode: func(b []byte) int { return int(b[0]) },
	},
	Uint16BE: {
		name:   "uint16_be",
		width:  2,
		unit:   UnitHours,
		decode: func(b []byte) int { return int(binary.BigEndian.Uint16(b)) },
	},
	Uint16LE: {
		name:   "uint16_le",
		width:  2,
		unit:   UnitHours,
		decode: func(b []byte) int { return int(binary.LittleEndian.Uint16(b)) },
	},
}

// Transforms lists every transform in scan order.
func Transforms() []Transform {
	return []Transform{RawByte, Uint16BE, Uint16LE}
}

func (t Transform) valid() bool {
	return t >= RawByte && int(t) < len(transformSpecs)
}

func (t Transform) String() string {
	if !t.valid() {
		return fmt.Sprintf("transform(%d)", int(t))
	}
	return transformSpecs[t].name
}

// Width is the number of payload bytes the transform consumes.
func (t Transform) Width() int {
	if !t.valid() {
		return 0
	}
	return transformSpecs[t].width
}

func (t Transform) Unit() Unit {
	if !t.valid() {
		return ""
	}
	return transformSpecs[t].unit
}

// Decode reads the value at offset. It reports false when the payload is
// too short for the transform's width.
func (t Transform) Decode(payload []byte, offset int) (int, bool) {
	if !t.valid() || offset < 0 {
		return 0, false
	}
	def := transformSpecs[t]
	if offset+def.width > len(payload) {
		return 0, false
	}
	return def.decode(payload[offset : offset+def.width]), true
}

func (t Transform) MarshalText() ([]byte, error) {
	if !t.valid() {
		return nil, fmt.Errorf("unknown transform %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Transform) UnmarshalText(text []byte) error {
	parsed, err := ParseTransform(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTransform resolves a transform by name.
func ParseTransform(name string) (Transform, error) {
	for i, def := range transformSpecs {
		if def.name == name {
			return Transform(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transform %q", name)
}
