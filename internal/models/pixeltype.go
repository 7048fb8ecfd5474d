package models

import (
	"fmt"
	"math"
)

// PixelType is the scalar type used to store voxel intensities on disk
type PixelType int

const (
	PixelUnknown PixelType = iota
	PixelUint8
	PixelInt8
	PixelUint16
	PixelInt16
	PixelUint32
	PixelInt32
	PixelUint64
	PixelInt64
	PixelFloat32
	PixelFloat64
)

var pixelTypeNames = map[PixelType]string{
	PixelUnknown: "Unknown pixel id",
	PixelUint8:   "8-bit unsigned integer",
	PixelInt8:    "8-bit signed integer",
	PixelUint16:  "16-bit unsigned integer",
	PixelInt16:   "16-bit signed integer",
	PixelUint32:  "32-bit unsigned integer",
	PixelInt32:   "32-bit signed integer",
	PixelUint64:  "64-bit unsigned integer",
	PixelInt64:   "64-bit signed integer",
	PixelFloat32: "32-bit float",
	PixelFloat64: "64-bit float",
}

func (p PixelType) String() string {
	if name, ok := pixelTypeNames[p]; ok {
		return name
	}
	return pixelTypeNames[PixelUnknown]
}

// ParsePixelType maps a pixel type name back to its PixelType
func ParsePixelType(name string) (PixelType, error) {
	for p, n := range pixelTypeNames {
		if n == name && p != PixelUnknown {
			return p, nil
		}
	}
	return PixelUnknown, fmt.Errorf("unknown pixel type %q", name)
}

// Bits returns the storage width of one sample
func (p PixelType) Bits() int {
	switch p {
	case PixelUint8, PixelInt8:
		return 8
	case PixelUint16, PixelInt16:
		return 16
	case PixelUint32, PixelInt32, PixelFloat32:
		return 32
	case PixelUint64, PixelInt64, PixelFloat64:
		return 64
	}
	return 0
}

// IsFloat reports whether the type stores floating point samples
func (p PixelType) IsFloat() bool {
	return p == PixelFloat32 || p == PixelFloat64
}

// Clamp converts v to a value representable by the type.
// Integer types round to nearest and saturate at their bounds.
func (p PixelType) Clamp(v float64) float64 {
	if p.IsFloat() || p == PixelUnknown {
		return v
	}
	if math.IsNaN(v) {
		return 0
	}
	lo, hi := p.bounds()
	v = math.Round(v)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (p PixelType) bounds() (float64, float64) {
	switch p {
	case PixelUint8:
		return 0, math.MaxUint8
	case PixelInt8:
		return math.MinInt8, math.MaxInt8
	case PixelUint16:
		return 0, math.MaxUint16
	case PixelInt16:
		return math.MinInt16, math.MaxInt16
	case PixelUint32:
		return 0, math.MaxUint32
	case PixelInt32:
		return math.MinInt32, math.MaxInt32
	case PixelUint64:
		return 0, math.MaxUint64
	case PixelInt64:
		return math.MinInt64, math.MaxInt64
	}
	return math.Inf(-1), math.Inf(1)
}
