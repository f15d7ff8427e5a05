package coord

import (
	"fmt"
	"math/bits"
)

// MarshalInt packs c into an int64. A marker bit sits at position 2*zoom and
// the column and row bits are interleaved below it, column bits on even
// positions. Dropping the low two bits therefore gives the parent.
func MarshalInt(c Coord) int64 {
	mustValid(c)
	return int64(1)<<(2*c.Zoom) | int64(interleave(uint32(c.Column), uint32(c.Row)))
}

// UnmarshalInt is the inverse of MarshalInt.
func UnmarshalInt(v int64) Coord {
	if v <= 0 {
		panic(fmt.Sprintf("coord: invalid packed coordinate %d", v))
	}
	zoom := (bits.Len64(uint64(v)) - 1) / 2
	if bits.Len64(uint64(v))%2 == 0 {
		panic(fmt.Sprintf("coord: invalid packed coordinate %d", v))
	}
	body := uint64(v) &^ (uint64(1) << (2 * zoom))
	col, row := deinterleave(body)
	return Coord{Zoom: zoom, Column: int(col), Row: int(row)}
}

// IntZoomUp returns the packed parent of a packed coordinate at zoom >= 1.
func IntZoomUp(v int64) int64 {
	if v <= 1 {
		panic(fmt.Sprintf("coord: packed coordinate %d has no parent", v))
	}
	return v >> 2
}

// IntZoom returns the zoom of a packed coordinate.
func IntZoom(v int64) int {
	return (bits.Len64(uint64(v)) - 1) / 2
}

func interleave(x, y uint32) uint64 {
	return spread(x) | spread(y)<<1
}

func deinterleave(v uint64) (x, y uint32) {
	return compact(v), compact(v >> 1)
}

func spread(v uint32) uint64 {
	x := uint64(v)
	x = (x | x<<16) & 0x0000FFFF0000FFFF
	x = (x | x<<8) & 0x00FF00FF00FF00FF
	x = (x | x<<4) & 0x0F0F0F0F0F0F0F0F
	x = (x | x<<2) & 0x3333333333333333
	x = (x | x<<1) & 0x5555555555555555
	return x
}

func compact(v uint64) uint32 {
	x := v & 0x5555555555555555
	x = (x | x>>1) & 0x3333333333333333
	x = (x | x>>2) & 0x0F0F0F0F0F0F0F0F
	x = (x | x>>4) & 0x00FF00FF00FF00FF
	x = (x | x>>8) & 0x0000FFFF0000FFFF
	x = (x | x>>16) & 0x00000000FFFFFFFF
	return uint32(x)
}
