// internal/mirror/values.go
package mirror

import (
	"math"

	"github.com/tamzrod/pump-monitor/internal/sample"
)

// RegistersPerValue is the width of one float32 value.
const RegistersPerValue = 2

// EncodeValues packs readings as IEEE-754 float32, high word first.
// An absent reading is written as NaN.
func EncodeValues(values []sample.Reading) []uint16 {
	regs := make([]uint16, 0, len(values)*RegistersPerValue)
	for _, r := range values {
		f := float32(math.NaN())
		if r.OK {
			f = float32(r.Value)
		}
		bits := math.Float32bits(f)
		regs = append(regs, uint16(bits>>16), uint16(bits))
	}
	return regs
}

// DecodeValue is the inverse of one EncodeValues pair.
func DecodeValue(hi, lo uint16) float32 {
	return math.Float32frombits(uint32(hi)<<16 | uint32(lo))
}
