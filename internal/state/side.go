package state

import "fmt"

// Side is the direction of a position or trade. The zero value is Long,
// matching the wire encoding; emptiness is determined by size, not side.
type Side uint8

const (
	SideLong  Side = 0
	SideShort Side = 1
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Valid reports whether s is one of the two known sides.
func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// ParseSide converts a wire byte into a Side.
func ParseSide(b uint8) (Side, error) {
	s := Side(b)
	if !s.Valid() {
		return 0, fmt.Errorf("state: unknown side %d", b)
	}
	return s, nil
}
