package domain

import (
	"fmt"
	"math"
)

// RGB is an 8-bit-per-channel color.
type RGB struct {
	R, G, B uint8
}

var (
	Red   = RGB{R: 255}
	Green = RGB{G: 255}
)

// String renders the color in CSS functional notation, e.g. rgb(255,255,0).
func (c RGB) String() string {
	return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
}

// ColorFor maps a progress fraction onto the red to green scale.
//
// Both channels are doubled before clamping, so the midpoint is full yellow and
// each channel saturates well before the ends of the range.
func ColorFor(progress float64) RGB {
	switch {
	case progress <= 0:
		return Red
	case progress >= 0.9:
		return Green
	}
	return RGB{
		R: channel(255 * (1 - progress) * 2),
		G: channel(255 * progress * 2),
	}
}

func channel(v float64) uint8 {
	return uint8(math.Min(255, math.Max(0, math.Round(v))))
}
