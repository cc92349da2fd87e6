package protocol

import (
	"encoding/binary"
	"fmt"
)

const (
	// MaxPM is the upper limit of reliable readings in µg/m³.
	MaxPM = 3000
	// MaxValue is MaxPM in hundredths.
	MaxValue Value = MaxPM * 100

	// ScaleInt and ScaleMicro express the 0.01 scale of a Value as
	// integer plus micro parts.
	ScaleInt   = 0
	ScaleMicro = 10000

	mantissaBits = 23
	mantissaMask = 1<<mantissaBits - 1
	exponentBias = 127
)

// Value is a mass concentration in hundredths of µg/m³.
type Value int32

// Int returns the integer part in µg/m³.
func (v Value) Int() int { return int(v) / 100 }

// Micro returns the fractional part in millionths of µg/m³.
func (v Value) Micro() int { return int(v) % 100 * ScaleMicro }

// Float64 returns v in µg/m³.
func (v Value) Float64() float64 { return float64(v) / 100 }

func (v Value) String() string { return fmt.Sprintf("%d.%02d", v/100, v%100) }

// DecodeFloat converts a big-endian IEEE-754 single into hundredths
// without floating point arithmetic. The sensor only reports non-negative
// numbers so the sign bit is ignored. Results are clamped to MaxValue.
func DecodeFloat(b []byte) Value {
	bits := binary.BigEndian.Uint32(b)
	mantissa := bits & mantissaMask
	exp := int(bits>>mantissaBits) & 0xff

	if exp == 0 && mantissa == 0 {
		return 0
	}

	exp -= exponentBias
	if exp < 0 {
		// values ranging from 1 to 99
		v := (uint64(1<<mantissaBits+mantissa) * 100) >> mantissaBits
		return Value(v >> uint(-exp))
	}

	// 2^12 is already past MaxPM
	if exp >= 12 {
		return MaxValue
	}

	shift := uint(mantissaBits - exp)
	ip := uint32(1)<<uint(exp) + mantissa>>shift
	if ip >= MaxPM {
		return MaxValue
	}

	fraction := mantissa & (1<<shift - 1)

	return Value(ip*100 + (fraction*100)>>shift)
}
