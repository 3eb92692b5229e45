package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepare_FillsIDAndNormalizes(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.FixedZone("x", 3600))
	blank := "   "
	rec := Prepare(Record{
		Title:    "  Porto  ",
		Content:  " moved ",
		Tags:     []string{"Family", " family ", "", "travel"},
		Location: &blank,
	}, now)

	require.NotEmpty(t, rec.ID)
	assert.Equal(t, now.UTC(), rec.CreatedAt)
	assert.Equal(t, "Porto", rec.Title)
	assert.Equal(t, "moved", rec.Content)
	assert.Equal(t, []string{"Family", "travel"}, rec.Tags)
	assert.Nil(t, rec.Location)
}

func TestPrepare_KeepsExistingID(t *testing.T) {
	rec := Prepare(Record{ID: "fixed"}, time.Now())
	assert.Equal(t, "fixed", rec.ID)
	assert.Nil(t, rec.Tags)
}

func TestMatches(t *testing.T) {
	rec := Record{Title: "Summer in Porto", Content: "We rented a flat by the river."}
	assert.True(t, Matches(rec, "porto"))
	assert.True(t, Matches(rec, "RIVER"))
	assert.True(t, Matches(rec, ""))
	assert.False(t, Matches(rec, "lisbon"))
}

func TestQuery_EffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultSearchLimit, Query{}.EffectiveLimit())
	assert.Equal(t, DefaultSearchLimit, Query{Limit: -2}.EffectiveLimit())
	assert.Equal(t, 12, Query{Limit: 12}.EffectiveLimit())
}
