package pipeline

import (
	"time"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/gate"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

// runState accumulates steps for one pipeline run. Step numbers are assigned
// in execution order, so the steps slice can never hold an out-of-order entry.
type runState struct {
	result  *model.PipelineResult
	stepNum int
}

func (r *runState) appendStep(step model.PipelineStep) {
	r.stepNum++
	step.StepNumber = r.stepNum
	r.result.Steps = append(r.result.Steps, step)
}

func (r *runState) addGate(name string, score Score, threshold float64) bool {
	passed := gate.Evaluate(score.Score, threshold)
	s := score.Score
	r.appendStep(model.PipelineStep{
		Name:      name,
		Completed: true,
		Passed:    &passed,
		Score:     &s,
		Reasoning: score.Reasoning,
	})
	r.result.Scores[name] = score.Score
	return passed
}

func (r *runState) addTransform(name string, data map[string]string) {
	passed := true
	r.appendStep(model.PipelineStep{
		Name:      name,
		Completed: true,
		Passed:    &passed,
		Data:      data,
	})
}

func (r *runState) addFailedTransform(name, reason string) {
	passed := false
	r.appendStep(model.PipelineStep{
		Name:      name,
		Completed: true,
		Passed:    &passed,
		Reasoning: reason,
	})
}

func (r *runState) addInformational(name string, score Score) {
	s := score.Score
	r.appendStep(model.PipelineStep{
		Name:      name,
		Completed: true,
		Score:     &s,
		Reasoning: score.Reasoning,
	})
	r.result.Scores[name] = score.Score
}

func (r *runState) disqualify(stage, reason string) *model.PipelineResult {
	return r.finish(model.OutcomeDisqualified, stage, reason)
}

func (r *runState) finish(outcome model.Outcome, failedAt, skipReason string) *model.PipelineResult {
	r.result.Outcome = outcome
	r.result.FailedAtStep = failedAt
	r.result.SkipReason = skipReason
	r.result.AllPassed = outcome == model.OutcomeScored
	r.result.CompositeScore = CompositeScore(r.result)
	r.result.CompletedAt = time.Now()
	return r.result
}

// Composite score weights. Used only for cross-variant ranking, never for
// gating.
const (
	compositeBaseGeneration = 0.2
	compositeMidGateWeight  = 0.15
	compositeHelpfulness    = 0.25
	compositeAcceptance     = 0.1
	compositeAllPassedBonus = 0.1
)

// CompositeScore computes the fixed weighted sum over a completed run's
// scores: a base for reaching generation, three mid-pipeline gate scores,
// predicted helpfulness, the normalized acceptance score, and an all-passed
// bonus.
func CompositeScore(res *model.PipelineResult) float64 {
	var c float64

	for _, step := range res.Steps {
		if step.Name == model.StageNoteGeneration && step.Completed {
			c += compositeBaseGeneration
			break
		}
	}

	for _, name := range []string{
		model.GateEvidenceRelevance,
		model.GateSourceSupport,
		model.GatePositiveFraming,
	} {
		if v, ok := res.Scores[name]; ok {
			c += compositeMidGateWeight * v
		}
	}

	if v, ok := res.Scores[model.ScoreHelpfulness]; ok {
		c += compositeHelpfulness * v
	}

	if v, ok := res.Scores[model.GateAcceptanceLikelihood]; ok {
		c += compositeAcceptance * (v + 1) / 2
	}

	if res.AllPassed {
		c += compositeAllPassedBonus
	}

	return c
}
