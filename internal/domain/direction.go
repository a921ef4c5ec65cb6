package domain

import (
	"fmt"
	"strings"
)

// Direction is the desired net exposure on an instrument.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

func (d Direction) Valid() bool {
	return d == Long || d == Short
}

func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Side returns the position side matching d.
func (d Direction) Side() Side {
	if d == Long {
		return SideLong
	}
	return SideShort
}

// ParseDirection maps alert vocabulary onto a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long", "open_long":
		return Long, nil
	case "sell", "short", "open_short":
		return Short, nil
	}
	return "", fmt.Errorf("invalid side %q", raw)
}

// DirectionOf maps a known position side back to a Direction.
func DirectionOf(s Side) (Direction, bool) {
	switch s {
	case SideLong:
		return Long, true
	case SideShort:
		return Short, true
	}
	return "", false
}

type OrderSide string

const (
	OpenLong   OrderSide = "OPEN_LONG"
	OpenShort  OrderSide = "OPEN_SHORT"
	CloseLong  OrderSide = "CLOSE_LONG"
	CloseShort OrderSide = "CLOSE_SHORT"
)

func OpenSide(d Direction) OrderSide {
	if d == Long {
		return OpenLong
	}
	return OpenShort
}

func CloseSide(d Direction) OrderSide {
	if d == Long {
		return CloseLong
	}
	return CloseShort
}

func (s OrderSide) IsClose() bool {
	return s == CloseLong || s == CloseShort
}

// Direction is the position direction the order opens or closes.
func (s OrderSide) Direction() Direction {
	if s == OpenLong || s == CloseLong {
		return Long
	}
	return Short
}

// Buy reports whether the order is a buy on the book: opening a long or
// closing a short.
func (s OrderSide) Buy() bool {
	return s == OpenLong || s == CloseShort
}
