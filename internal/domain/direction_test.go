package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	tests := []struct {
		raw  string
		want Direction
	}{
		{"buy", Long},
		{"BUY", Long},
		{" long ", Long},
		{"open_long", Long},
		{"sell", Short},
		{"Short", Short},
		{"OPEN_SHORT", Short},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDirection(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, raw := range []string{"", "hold", "close_long", "flat"} {
		_, err := ParseDirection(raw)
		assert.Error(t, err, raw)
	}
}

func TestDirection(t *testing.T) {
	assert.Equal(t, Short, Long.Opposite())
	assert.Equal(t, Long, Short.Opposite())
	assert.Equal(t, SideLong, Long.Side())
	assert.Equal(t, SideShort, Short.Side())
	assert.False(t, Direction("").Valid())

	d, ok := DirectionOf(SideShort)
	assert.True(t, ok)
	assert.Equal(t, Short, d)
	_, ok = DirectionOf(SideUnknown)
	assert.False(t, ok)
}

func TestOrderSide(t *testing.T) {
	tests := []struct {
		side    OrderSide
		isClose bool
		dir     Direction
		buy     bool
	}{
		{OpenLong, false, Long, true},
		{OpenShort, false, Short, false},
		{CloseLong, true, Long, false},
		{CloseShort, true, Short, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.side), func(t *testing.T) {
			assert.Equal(t, tt.isClose, tt.side.IsClose())
			assert.Equal(t, tt.dir, tt.side.Direction())
			assert.Equal(t, tt.buy, tt.side.Buy())
		})
	}

	assert.Equal(t, OpenLong, OpenSide(Long))
	assert.Equal(t, CloseShort, CloseSide(Short))
}
