// ABOUTME: Tests for 128-bit snowflake parsing, formatting, ordering, and allocation
// ABOUTME: Covers JSON number/string forms and generator monotonicity

package snowflake

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTripsLargeValues(t *testing.T) {
	tests := []string{
		"0",
		"42",
		"18446744073709551615",
		"18446744073709551616",
		"340282366920938463463374607431768211455",
	}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			id, err := Parse(s)
			require.NoError(t, err)
			assert.Equal(t, s, id.String())
		})
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "-1", "12a", "1.5", "340282366920938463463374607431768211456"} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrInvalidID, "input %q", s)
	}
}

func TestID_JSONAcceptsNumberAndString(t *testing.T) {
	var v struct {
		A ID `json:"a"`
		B ID `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":42,"b":"18446744073709551616"}`), &v))
	assert.Equal(t, FromUint64(42), v.A)
	assert.Equal(t, ID{Hi: 1}, v.B)

	out, err := json.Marshal(map[string]ID{"id": v.B})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":18446744073709551616}`, string(out))
}

func TestID_Compare(t *testing.T) {
	a := ID{Hi: 1, Lo: 5}
	b := ID{Hi: 1, Lo: 6}
	c := ID{Hi: 2}

	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, c.Compare(b))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, a.Less(c))
}

func TestGenerator_MonotonicAndTagged(t *testing.T) {
	g := NewGenerator(7)
	fixed := Epoch.Add(time.Hour)
	g.now = func() time.Time { return fixed }

	prev := g.Next(ModelUser)
	for range 1000 {
		next := g.Next(ModelGuild)
		require.True(t, prev.Less(next), "%s should sort before %s", prev, next)
		prev = next
	}

	assert.Equal(t, ModelGuild, prev.Model())
	assert.Equal(t, uint16(7), prev.Node())
	assert.Equal(t, fixed, prev.Time())
}

func TestGenerator_ClockBackwardsStaysOrdered(t *testing.T) {
	g := NewGenerator(1)
	now := Epoch.Add(time.Minute)
	g.now = func() time.Time { return now }

	first := g.Next(ModelMessage)
	now = now.Add(-time.Second)
	second := g.Next(ModelMessage)

	assert.True(t, first.Less(second))
}
