package keycodec

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestKey(t *testing.T) {
	assert.Equal(t, `"u1":`, Prefix("u1"))
	assert.Equal(t, `"u1":"2024-05-01T10:00:00.000Z"_n1`, Key("u1", t0, "n1"))
	assert.Equal(t, `"u1":"new"_`, StatePrefix("u1", "new"))

	// non-UTC input is normalized
	local := t0.In(time.FixedZone("x", 3*3600))
	assert.Equal(t, Key("u1", t0, "n1"), Key("u1", local, "n1"))

	// quoting keeps owners with shared prefixes apart
	assert.False(t, strings.HasPrefix(Key("u10", t0, "n1"), Prefix("u1")))
}

func TestKeyOrderFollowsTime(t *testing.T) {
	keys := []string{
		Key("u1", t0.Add(2*time.Second), "a"),
		Key("u1", t0.Add(1500*time.Millisecond), "z"),
		Key("u1", t0, "m"),
		Key("u1", t0.Add(24*time.Hour), "b"),
	}
	sort.Strings(keys)
	assert.Equal(t, []string{
		Key("u1", t0, "m"),
		Key("u1", t0.Add(1500*time.Millisecond), "z"),
		Key("u1", t0.Add(2*time.Second), "a"),
		Key("u1", t0.Add(24*time.Hour), "b"),
	}, keys)
}

func TestParseCursorTime(t *testing.T) {
	got, err := ParseCursorTime(Key("u1", t0.Add(123*time.Millisecond), "n1"))
	require.NoError(t, err)
	assert.True(t, got.Equal(t0.Add(123*time.Millisecond)))

	for _, bad := range []string{"garbage", `"u1":`, `"u1":"2024-05-01"_n1`} {
		_, err := ParseCursorTime(bad)
		assert.True(t, errors.Is(err, apperrors.MalformedCursor), "cursor %q", bad)
	}
}

func TestRangeFromCursor(t *testing.T) {
	cursor := Key("u1", t0, "n1")
	base := `"u1":"2024-05-01T10:00:00.000Z"_`

	tests := []struct {
		kind BoundKind
		want string
	}{
		{GT, base + MaxSuffix},
		{GTE, base},
		{LT, base},
		{LTE, base + MaxSuffix},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			got, err := RangeFromCursor("u1", cursor, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRangeFromCursorSpecialCursors(t *testing.T) {
	got, err := RangeFromCursor("u1", "", GTE)
	require.NoError(t, err)
	assert.Equal(t, Prefix("u1"), got)

	got, err = RangeFromCursor("u1", MaxSuffix, LT)
	require.NoError(t, err)
	assert.Equal(t, Prefix("u1")+MaxSuffix, got)
}

func TestRangeFromCursorMalformed(t *testing.T) {
	_, err := RangeFromCursor("u1", "not-a-cursor", GT)
	assert.True(t, errors.Is(err, apperrors.MalformedCursor))
}

func TestGTBoundSkipsWholeInstant(t *testing.T) {
	// two notifications created in the same millisecond
	first := Key("u1", t0, "a")
	second := Key("u1", t0, "b")
	later := Key("u1", t0.Add(time.Millisecond), "c")

	gt, err := RangeFromCursor("u1", first, GT)
	require.NoError(t, err)
	assert.Greater(t, gt, second)
	assert.Less(t, gt, later)

	lt, err := RangeFromCursor("u1", later, LT)
	require.NoError(t, err)
	assert.Greater(t, lt, second)
}
