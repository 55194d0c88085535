package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

func TestEvaluateStrictInequality(t *testing.T) {
	assert.True(t, Evaluate(0.51, 0.5))
	assert.False(t, Evaluate(0.5, 0.5))
	assert.False(t, Evaluate(0.49, 0.5))
	assert.False(t, Evaluate(0, 0))
	assert.True(t, Evaluate(0.0001, 0))
	assert.False(t, Evaluate(-0.2, -0.1))
	assert.True(t, Evaluate(1, 0.999))
}

func TestResolvePrefersOverride(t *testing.T) {
	defaults := model.DefaultThresholds()

	overrides := map[string]float64{
		model.GateVerifiableClaim: 0.8,
	}

	assert.Equal(t, 0.8, Resolve(model.GateVerifiableClaim, overrides, defaults))
	assert.Equal(t, defaults.SourceSupport, Resolve(model.GateSourceSupport, overrides, defaults))
}

func TestResolveZeroOverrideIsHonored(t *testing.T) {
	defaults := model.DefaultThresholds()

	overrides := map[string]float64{
		model.GatePositiveFraming: 0,
	}

	assert.Equal(t, 0.0, Resolve(model.GatePositiveFraming, overrides, defaults))
}

func TestResolveNilOverrides(t *testing.T) {
	defaults := model.DefaultThresholds()

	assert.Equal(t, defaults.EvidenceRelevance, Resolve(model.GateEvidenceRelevance, nil, defaults))
	assert.Equal(t, 0.5, Resolve("unknown-gate", nil, defaults))
}
