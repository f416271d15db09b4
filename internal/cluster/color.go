package cluster

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is a packed 0xRRGGBB value.
type Color int32

// Palette holds the cluster colours, handed out in discovery order and reused
// every 20 clusters.
var Palette = [20]Color{
	0xFFC917, 0xFF411A, 0x9901FF, 0x0DA9FF, 0x00FF12,
	0xFF8517, 0xFF1ABA, 0x011BFF, 0x0DFFAB, 0xD0FF00,
	0x962808, 0x6C08A1, 0x00578A, 0x08A10D, 0x967B00,
	0xFF9E7D, 0xC572E8, 0x8ACFFF, 0x72E87C, 0xFFEC8A,
}

// PaletteColor returns the colour of the cluster discovered at the given ordinal.
func PaletteColor(ordinal int) Color {
	if ordinal < 0 {
		ordinal = -ordinal
	}
	return Palette[ordinal%len(Palette)]
}

// RGB splits the colour into its channels.
func (c Color) RGB() (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Hex renders the colour as #RRGGBB.
func (c Color) Hex() string {
	return fmt.Sprintf("#%06X", int32(c)&0xFFFFFF)
}

func (c Color) String() string {
	return c.Hex()
}

// ParseColor reads #RRGGBB or RRGGBB.
func ParseColor(s string) (Color, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return Color(v), nil
}
