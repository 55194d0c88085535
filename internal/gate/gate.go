package gate

import (
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

// Evaluate reports whether a score clears a threshold. The comparison is
// strict: a score exactly equal to the threshold fails.
func Evaluate(score, threshold float64) bool {
	return score > threshold
}

// Resolve returns the effective threshold for a gate under one bot. The bot's
// override map wins when it carries the gate's key; otherwise the shared
// defaults apply.
func Resolve(gateName string, overrides map[string]float64, defaults model.Thresholds) float64 {
	if overrides != nil {
		if v, ok := overrides[gateName]; ok {
			return v
		}
	}
	return defaults.Value(gateName)
}
