package meas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoData(t *testing.T) {
	m := NoDataAt(7, 100)
	assert.True(t, m.IsNoData())
	assert.Equal(t, Id(7), m.Id)
	assert.Equal(t, Time(100), m.Time)
}

func TestLess(t *testing.T) {
	a := Meas{Id: 1, Time: 10}
	b := Meas{Id: 1, Time: 20}
	c := Meas{Id: 2, Time: 5}

	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
	assert.True(t, Less(a, c))
}

func TestMatchesFlag(t *testing.T) {
	assert.True(t, MatchesFlag(0, 0xAB))
	assert.True(t, MatchesFlag(0x01, 0x01))
	assert.False(t, MatchesFlag(0x02, 0x01))
}

func TestIdSet(t *testing.T) {
	s := NewIdSet([]Id{1, 2, 3})
	assert.True(t, s.Contains(2))
	assert.False(t, s.Contains(9))
	assert.ElementsMatch(t, []Id{1, 2, 3}, s.Slice())
}
