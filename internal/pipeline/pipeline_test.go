package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

type fakeCollab struct {
	claimScore Score
	claimErr   error
	claimCalls int

	keywords     []string
	keywordCalls int

	evidence    []Evidence
	searchErr   error
	searchCalls int

	genOutputs []string
	genErr     error
	genCalls   int

	noteScores map[string]Score
	noteCalls  map[string]int

	acceptance  AcceptanceResult
	acceptCalls int
}

func (f *fakeCollab) ScoreClaim(ctx context.Context, text string) (Score, error) {
	f.claimCalls++
	return f.claimScore, f.claimErr
}

func (f *fakeCollab) Extract(ctx context.Context, text string) ([]string, error) {
	f.keywordCalls++
	return f.keywords, nil
}

func (f *fakeCollab) Search(ctx context.Context, text string, keywords []string, strategy string) ([]Evidence, error) {
	f.searchCalls++
	return f.evidence, f.searchErr
}

func (f *fakeCollab) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	f.genCalls++
	if f.genErr != nil {
		return "", f.genErr
	}
	idx := f.genCalls - 1
	if idx >= len(f.genOutputs) {
		idx = len(f.genOutputs) - 1
	}
	return f.genOutputs[idx], nil
}

func (f *fakeCollab) ScoreNote(ctx context.Context, gateName string, post model.Post, note model.ParsedNote, evidence []Evidence) (Score, error) {
	if f.noteCalls == nil {
		f.noteCalls = make(map[string]int)
	}
	f.noteCalls[gateName]++
	return f.noteScores[gateName], nil
}

func (f *fakeCollab) Evaluate(ctx context.Context, noteText, postID string) (AcceptanceResult, error) {
	f.acceptCalls++
	return f.acceptance, nil
}

func validNote(body string) string {
	return "STATUS: Correction with trustworthy citation\nNOTE: " + body + "\nSOURCE: https://example.com/source"
}

func passingCollab() *fakeCollab {
	return &fakeCollab{
		claimScore: Score{Score: 0.9, Reasoning: "clear factual claim"},
		keywords:   []string{"vaccine", "measles"},
		evidence: []Evidence{
			{Title: "CDC page", URL: "https://example.com/source", Snippet: "figures"},
		},
		genOutputs: []string{validNote("The post misstates the figure.")},
		noteScores: map[string]Score{
			model.GateEvidenceRelevance:       {Score: 0.9},
			model.GateSourceSupport:           {Score: 0.9},
			model.GatePositiveFraming:         {Score: 0.9},
			model.GateSubstantiveDisagreement: {Score: 0.9},
			model.ScoreHelpfulness:            {Score: 0.8},
		},
		acceptance: AcceptanceResult{AcceptanceScore: 0.5, Success: true},
	}
}

func newSequence(f *fakeCollab) *Sequence {
	bot := model.BotConfig{ID: "bot-a", GenerationModel: "gpt-4", Enabled: true, Weight: 1}
	return NewSequence(bot, model.DefaultThresholds(), Collaborators{
		Claims:     f,
		Keywords:   f,
		Search:     f,
		Generator:  f,
		Notes:      f,
		Acceptance: f,
	})
}

func TestRunAllPassed(t *testing.T) {
	f := passingCollab()
	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "wrong claim"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.AllPassed)
	assert.Equal(t, model.OutcomeScored, res.Outcome)
	assert.Empty(t, res.FailedAtStep)
	assert.Equal(t, "bot-a", res.VariantID)
	require.NotNil(t, res.Note)
	assert.Equal(t, StatusActionable, res.Note.Status)

	// 0.2 base + 0.15*0.9*3 + 0.25*0.8 + 0.1*0.75 + 0.1 bonus
	assert.InDelta(t, 0.98, res.CompositeScore, 1e-9)

	for i, step := range res.Steps {
		assert.Equal(t, i+1, step.StepNumber)
	}
}

func TestRunFailsVerifiableClaimGate(t *testing.T) {
	f := passingCollab()
	f.claimScore = Score{Score: 0.4, Reasoning: "opinion, not a claim"}

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "I hate mondays"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.AllPassed)
	assert.Equal(t, model.GateVerifiableClaim, res.FailedAtStep)
	assert.Equal(t, model.OutcomeDisqualified, res.Outcome)
	assert.Len(t, res.Steps, 1)

	// Early exit: nothing downstream is invoked.
	assert.Equal(t, 0, f.keywordCalls)
	assert.Equal(t, 0, f.searchCalls)
	assert.Equal(t, 0, f.genCalls)
	assert.Equal(t, 0, f.acceptCalls)
}

func TestRunScoreEqualToThresholdFails(t *testing.T) {
	f := passingCollab()
	f.claimScore = Score{Score: 0.5}

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.GateVerifiableClaim, res.FailedAtStep)
}

func TestRunNoEvidence(t *testing.T) {
	f := passingCollab()
	f.evidence = nil

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, model.OutcomeNoEvidence, res.Outcome)
	assert.Equal(t, model.StageEvidenceSearch, res.FailedAtStep)
	assert.False(t, res.AllPassed)
	assert.Equal(t, 0, f.genCalls)
}

func TestRunNotActionableStatus(t *testing.T) {
	f := passingCollab()
	f.genOutputs = []string{"STATUS: no correction needed\nNOTE: The post is fine."}

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, model.OutcomeNotActionable, res.Outcome)
	assert.Equal(t, model.GateStatus, res.FailedAtStep)
	assert.Contains(t, res.SkipReason, "no correction needed")
	assert.Equal(t, 0, len(f.noteCalls))
}

func TestRunMidGateFailureStopsLaterStages(t *testing.T) {
	f := passingCollab()
	f.noteScores[model.GateSourceSupport] = Score{Score: 0.2, Reasoning: "source does not back the note"}

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	require.NoError(t, err)

	assert.Equal(t, model.GateSourceSupport, res.FailedAtStep)
	assert.Equal(t, 1, f.noteCalls[model.GateEvidenceRelevance])
	assert.Equal(t, 1, f.noteCalls[model.GateSourceSupport])
	assert.Equal(t, 0, f.noteCalls[model.GatePositiveFraming])
	assert.Equal(t, 0, f.noteCalls[model.ScoreHelpfulness])
	assert.Equal(t, 0, f.acceptCalls)
}

func TestRunCollaboratorFailureReturnsNil(t *testing.T) {
	f := passingCollab()
	f.claimErr = errors.New("upstream timeout")

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	assert.Nil(t, res)
	assert.Error(t, err)
}

func TestRunMalformedGenerationIsError(t *testing.T) {
	f := passingCollab()
	f.genOutputs = []string{"here's a note with no structure at all"}

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedNote)
}

func TestGenerationLengthRetry(t *testing.T) {
	long := strings.Repeat("a", 310)
	short := strings.Repeat("b", 260)

	f := passingCollab()
	f.genOutputs = []string{
		fmt.Sprintf("STATUS: correction with trustworthy citation\nNOTE: %s", long),
		fmt.Sprintf("STATUS: correction with trustworthy citation\nNOTE: %s", short),
	}

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 2, f.genCalls)
	assert.False(t, res.LengthWarning)
	assert.Equal(t, short, res.Note.Text)
}

func TestGenerationLengthExhaustedKeepsLastAttempt(t *testing.T) {
	long := strings.Repeat("a", 400)

	f := passingCollab()
	f.genOutputs = []string{
		fmt.Sprintf("STATUS: correction with trustworthy citation\nNOTE: %s", long),
	}

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 3, f.genCalls)
	assert.True(t, res.LengthWarning)
	assert.Equal(t, long, res.Note.Text)
}

func TestAcceptanceBelowThresholdDisqualifies(t *testing.T) {
	f := passingCollab()
	f.acceptance = AcceptanceResult{AcceptanceScore: -0.4, Success: true}

	res, err := newSequence(f).Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	require.NoError(t, err)

	assert.False(t, res.AllPassed)
	assert.Equal(t, model.GateAcceptanceLikelihood, res.FailedAtStep)
	// Helpfulness was still recorded; it never gates.
	assert.Contains(t, res.Scores, model.ScoreHelpfulness)
}

func TestPerVariantThresholdOverride(t *testing.T) {
	f := passingCollab()
	f.claimScore = Score{Score: 0.6}

	bot := model.BotConfig{
		ID:         "strict-bot",
		Thresholds: map[string]float64{model.GateVerifiableClaim: 0.7},
	}
	seq := NewSequence(bot, model.DefaultThresholds(), Collaborators{
		Claims: f, Keywords: f, Search: f, Generator: f, Notes: f, Acceptance: f,
	})

	res, err := seq.Run(context.Background(), model.Post{ID: "p1", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, model.GateVerifiableClaim, res.FailedAtStep)
}
