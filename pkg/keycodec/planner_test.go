package keycodec

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jwalitptl/notification-service/pkg/errors"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestPlanDefaults(t *testing.T) {
	r, err := NewPlanner(0, 0).Plan("u1", PageRequest{})
	require.NoError(t, err)

	assert.Equal(t, Range{
		GTE:   `"u1"`,
		LTE:   `"u1":` + MaxSuffix,
		Limit: DefaultLimit,
	}, r)
}

func TestPlanPrecedence(t *testing.T) {
	a := Key("u1", t0, "a")
	b := Key("u1", t0.Add(time.Hour), "b")

	r, err := NewPlanner(0, 0).Plan("u1", PageRequest{
		GT: strPtr(a), GTE: strPtr(b),
		LT: strPtr(b), LTE: strPtr(a),
		Reverse: true,
	})
	require.NoError(t, err)

	gt, _ := RangeFromCursor("u1", a, GT)
	lt, _ := RangeFromCursor("u1", b, LT)
	assert.Equal(t, gt, r.GT)
	assert.Empty(t, r.GTE)
	assert.Equal(t, lt, r.LT)
	assert.Empty(t, r.LTE)
	assert.True(t, r.Reverse)
}

func TestPlanLimit(t *testing.T) {
	p := NewPlanner(20, 50)

	tests := []struct {
		name  string
		limit *int
		want  int
	}{
		{"missing", nil, 20},
		{"negative", intPtr(-1), 20},
		{"beyond max", intPtr(51), 50},
		{"zero", intPtr(0), 0},
		{"at max", intPtr(50), 50},
		{"in range", intPtr(7), 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := p.Plan("u1", PageRequest{Limit: tt.limit})
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.Limit)
		})
	}
}

func TestPlanMalformedCursor(t *testing.T) {
	_, err := NewPlanner(0, 0).Plan("u1", PageRequest{LTE: strPtr("junk")})
	assert.True(t, errors.Is(err, apperrors.MalformedCursor))
}

func TestRangeContains(t *testing.T) {
	r, err := NewPlanner(0, 0).Plan("u1", PageRequest{})
	require.NoError(t, err)

	assert.True(t, r.Contains(Key("u1", t0, "a")))
	assert.False(t, r.Contains(Key("u2", t0, "a")))

	after := Key("u1", t0, "a")
	r, err = NewPlanner(0, 0).Plan("u1", PageRequest{GT: &after})
	require.NoError(t, err)
	assert.False(t, r.Contains(Key("u1", t0, "b")))
	assert.True(t, r.Contains(Key("u1", t0.Add(time.Millisecond), "b")))
}
