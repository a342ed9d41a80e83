package timeuuid

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimalTimestampRoundTrips(t *testing.T) {
	cases := []string{
		"1323973966.2820000",
		"0.0000000",
		"1700000000.1234567",
		"2145916800.0000001",
	}
	for _, c := range cases {
		ts := decimal.RequireFromString(c)
		id, err := FromDecimal(ts, true, false)
		require.NoError(t, err)
		assert.True(t, ts.Equal(TimestampOf(id)), "round-trip mismatch for %s: got %s", c, TimestampOf(id))
	}
}

func TestLowestSortsBeforeHighestAtSameTimestamp(t *testing.T) {
	ts := decimal.RequireFromString("1700000000.0000000")
	lo, err := FromDecimal(ts, true, false)
	require.NoError(t, err)
	hi, err := FromDecimal(ts, false, false)
	require.NoError(t, err)
	assert.Equal(t, -1, Compare(lo, hi))
	assert.Equal(t, 1, Compare(hi, lo))
	assert.Equal(t, 0, Compare(lo, lo))
}

func TestRandomizedIDsAreUnique(t *testing.T) {
	ts := decimal.RequireFromString("1700000000.0000000")
	a, err := FromDecimal(ts, false, true)
	require.NoError(t, err)
	b, err := FromDecimal(ts, false, true)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, Ticks(a), Ticks(b))
}

func TestHexParseRoundTrip(t *testing.T) {
	id, _, err := Now()
	require.NoError(t, err)
	h := Hex(id)
	require.Len(t, h, 32)
	parsed, err := Parse(h)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRejectsWrongLength(t *testing.T) {
	_, err := Parse("deadbeef")
	assert.Error(t, err)
}

func TestRandomPartitionBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		p, err := RandomPartition(5)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 1)
		assert.LessOrEqual(t, p, 5)
	}
}

func TestRandomPartitionRejectsNonPositive(t *testing.T) {
	_, err := RandomPartition(0)
	assert.Error(t, err)
}
