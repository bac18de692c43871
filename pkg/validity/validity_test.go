package validity_test

import (
	"testing"
	"time"

	"github.com/aretw0/cocoon/pkg/validity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func TestExpires(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1000, 0)}

	v := validity.NewExpires(60*time.Second, clk.Now)
	assert.Equal(t, validity.Valid, v.IsValid())

	clk.now = clk.now.Add(61 * time.Second)
	assert.Equal(t, validity.Invalid, v.IsValid())

	never := validity.NewExpires(-1, clk.Now)
	clk.now = clk.now.Add(24 * time.Hour)
	assert.Equal(t, validity.Valid, never.IsValid())

	always := validity.NewExpires(0, clk.Now)
	assert.Equal(t, validity.Invalid, always.IsValid())
}

func TestTimeStamp(t *testing.T) {
	t0 := time.Unix(500, 0)
	v := validity.TimeStamp{Modified: t0}

	assert.Equal(t, validity.Unknown, v.IsValid())
	assert.Equal(t, validity.Valid, v.IsValidAgainst(validity.TimeStamp{Modified: t0}))
	assert.Equal(t, validity.Invalid, v.IsValidAgainst(validity.TimeStamp{Modified: t0.Add(time.Second)}))
	assert.Equal(t, validity.Unknown, v.IsValidAgainst(validity.Never{}))
}

func TestEvent(t *testing.T) {
	reg := validity.NewRegistry()
	v := validity.NewEvent("news", reg)
	assert.Equal(t, validity.Valid, v.IsValid())

	reg.Invalidate("other")
	assert.Equal(t, validity.Valid, v.IsValid())

	reg.Invalidate("news")
	assert.Equal(t, validity.Invalid, v.IsValid())
}

func TestAggregated(t *testing.T) {
	t0 := time.Unix(500, 0)
	agg := validity.Aggregated{validity.Never{}, validity.TimeStamp{Modified: t0}}

	assert.Equal(t, validity.Unknown, agg.IsValid())
	assert.Equal(t, validity.Valid, agg.IsValidAgainst(validity.Aggregated{validity.Never{}, validity.TimeStamp{Modified: t0}}))
	assert.Equal(t, validity.Invalid, agg.IsValidAgainst(validity.Aggregated{validity.Never{}}))
}

func TestRecordRoundTrip(t *testing.T) {
	reg := validity.NewRegistry()
	clk := &fakeClock{now: time.Unix(1000, 0)}
	orig := validity.Aggregated{
		validity.NewExpires(time.Minute, clk.Now),
		validity.TimeStamp{Modified: time.Unix(42, 0).UTC()},
		validity.NewEvent("k", reg),
	}

	rec, err := validity.ToRecord(orig)
	require.NoError(t, err)

	restored, err := validity.FromRecord(rec, reg, clk.Now)
	require.NoError(t, err)
	assert.Equal(t, validity.Unknown, restored.IsValid())

	reg.Invalidate("k")
	assert.Equal(t, validity.Invalid, restored.IsValid())

	none, err := validity.ToRecord(nil)
	require.NoError(t, err)
	assert.Nil(t, none)
}
