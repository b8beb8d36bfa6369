package recordid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	ts := time.Date(2023, time.March, 15, 12, 7, 59, 0, time.UTC)
	assert.Equal(t, "2023-03-15_1207~1AbC_xyz-9", Encode(ts, "1AbC_xyz-9"))
}

func TestDecodeInvertsEncode(t *testing.T) {
	times := []time.Time{
		time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, time.June, 1, 10, 0, 30, 0, time.Local),
		time.Date(1999, time.December, 31, 23, 59, 0, 0, time.UTC),
	}
	ids := []string{"a", "1BxiMVs0XRA5nFMdKvBdBZjgmUUqptlbs74OgvE2upms", "x_y-z"}

	for _, ts := range times {
		for _, remoteID := range ids {
			stamp, gotID, err := Decode(Encode(ts, remoteID))
			require.NoError(t, err)
			assert.Equal(t, ts.Format(TimestampLayout), stamp)
			assert.Equal(t, remoteID, gotID)
		}
	}
}

func TestDecodeSplitsOnFirstSeparator(t *testing.T) {
	stamp, remoteID, err := Decode("2023-01-01_0900~abc~def")
	require.NoError(t, err)
	assert.Equal(t, "2023-01-01_0900", stamp)
	assert.Equal(t, "abc~def", remoteID)
}

func TestDecodeMalformed(t *testing.T) {
	for _, id := range []string{"", "2023-01-01_0900", "~abc", "2023-01-01_0900~", "~"} {
		_, _, err := Decode(id)
		assert.ErrorIs(t, err, ErrMalformedIdentifier, "id %q", id)
	}
}

func TestPrefixOrderIsChronological(t *testing.T) {
	earlier := Encode(time.Date(2023, time.January, 1, 9, 0, 0, 0, time.UTC), "zzz")
	later := Encode(time.Date(2023, time.June, 1, 10, 0, 0, 0, time.UTC), "aaa")
	assert.Less(t, earlier, later)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2023-03-15_1200")
	require.NoError(t, err)
	assert.Equal(t, 2023, ts.Year())
	assert.Equal(t, time.March, ts.Month())
	assert.Equal(t, 12, ts.Hour())

	_, err = ParseTimestamp("yesterday")
	assert.ErrorIs(t, err, ErrMalformedIdentifier)
}
