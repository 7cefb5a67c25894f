package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCPUListSingleAndRange(t *testing.T) {
	got := ParseCPUList("0,2-4,7")
	assert.Equal(t, []CPURange{{0, 0}, {2, 4}, {7, 7}}, got)
	assert.Equal(t, []int{0, 2, 3, 4, 7}, Expand(got))
}

func TestParseCPUListDuplicatesRetained(t *testing.T) {
	got := ParseCPUList("1,1,1")
	assert.Equal(t, []CPURange{{1, 1}, {1, 1}, {1, 1}}, got)
}

func TestParseCPUListMalformedIsEmpty(t *testing.T) {
	assert.Nil(t, ParseCPUList("0,a-2"))
	assert.Nil(t, ParseCPUList("3-1"))
	assert.Nil(t, ParseCPUList("0, 2"))
	assert.Nil(t, ParseCPUList(",,"))
}

func TestParseCPUListEmpty(t *testing.T) {
	assert.Nil(t, ParseCPUList(""))
	assert.Nil(t, ParseCPUList("   "))
}

func TestPrintStatsEnabled(t *testing.T) {
	e := &Env{}
	enabled, totals := e.PrintStatsEnabled()
	assert.False(t, enabled)
	assert.False(t, totals)

	e.PrintStats = "T"
	enabled, totals = e.PrintStatsEnabled()
	assert.True(t, enabled)
	assert.True(t, totals)

	e.PrintStats = "yes"
	enabled, totals = e.PrintStatsEnabled()
	assert.True(t, enabled)
	assert.False(t, totals)
}
