package selector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

func TestSelectWeightedFrequency(t *testing.T) {
	bots := []model.BotConfig{
		{ID: "a", Enabled: true, Weight: 90},
		{ID: "b", Enabled: true, Weight: 10},
	}

	rng := rand.New(rand.NewSource(42))

	countA := 0
	for i := 0; i < 10000; i++ {
		b, err := Select(bots, rng)
		require.NoError(t, err)
		if b.ID == "a" {
			countA++
		}
	}

	assert.GreaterOrEqual(t, countA, 8600)
	assert.LessOrEqual(t, countA, 9400)
}

func TestSelectSingleEnabledShortCircuits(t *testing.T) {
	bots := []model.BotConfig{
		{ID: "a", Enabled: false, Weight: 100},
		{ID: "b", Enabled: true, Weight: 0},
	}

	// Weight 0 is fine with one enabled bot; no draw happens.
	b, err := Select(bots, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, "b", b.ID)
}

func TestSelectNoEnabledVariants(t *testing.T) {
	bots := []model.BotConfig{
		{ID: "a", Enabled: false, Weight: 1},
	}

	_, err := Select(bots, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrNoEnabledVariants)
}

func TestSelectZeroTotalWeight(t *testing.T) {
	bots := []model.BotConfig{
		{ID: "a", Enabled: true, Weight: 0},
		{ID: "b", Enabled: true, Weight: 0},
	}

	_, err := Select(bots, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ErrZeroTotalWeight)
}

func TestEnabled(t *testing.T) {
	bots := []model.BotConfig{
		{ID: "a", Enabled: true},
		{ID: "b"},
		{ID: "c", Enabled: true},
	}

	enabled := Enabled(bots)
	require.Len(t, enabled, 2)
	assert.Equal(t, "a", enabled[0].ID)
	assert.Equal(t, "c", enabled[1].ID)
}
