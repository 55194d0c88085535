package selector

import (
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

var (
	// ErrNoEnabledVariants is fatal: a batch must not start without at least
	// one enabled bot.
	ErrNoEnabledVariants = errors.New("no enabled bot variants configured")

	// ErrZeroTotalWeight is fatal: weighted selection needs a positive total.
	ErrZeroTotalWeight = errors.New("enabled bot variants have zero total weight")
)

// Enabled filters the configured bots down to the enabled ones.
func Enabled(bots []model.BotConfig) []model.BotConfig {
	out := make([]model.BotConfig, 0, len(bots))
	for _, b := range bots {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out
}

// Select picks one enabled bot by weighted random draw. A single enabled bot
// short-circuits deterministically. The walk accumulates weights and returns
// the first bot whose cumulative weight exceeds the draw; the last bot is the
// fallback when floating-point drift prevents a match.
func Select(bots []model.BotConfig, rng *rand.Rand) (model.BotConfig, error) {
	enabled := Enabled(bots)
	if len(enabled) == 0 {
		return model.BotConfig{}, ErrNoEnabledVariants
	}
	if len(enabled) == 1 {
		return enabled[0], nil
	}

	var total float64
	for _, b := range enabled {
		total += b.Weight
	}
	if total <= 0 {
		return model.BotConfig{}, ErrZeroTotalWeight
	}

	r := rng.Float64() * total
	var cum float64
	for _, b := range enabled {
		cum += b.Weight
		if cum > r {
			logger.Debug("Selected bot variant",
				zap.String("variant_id", b.ID),
				zap.Float64("weight", b.Weight),
				zap.Float64("total_weight", total),
			)
			return b, nil
		}
	}

	return enabled[len(enabled)-1], nil
}
