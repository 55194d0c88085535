package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/gate"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

// Score is the response of a scoring collaborator: a value in [0,1] plus the
// collaborator's free-text reasoning.
type Score struct {
	Score     float64
	Reasoning string
}

// Evidence is one piece of supporting material found for a post.
type Evidence struct {
	Title   string
	URL     string
	Snippet string
	Content string
}

// AcceptanceResult is the response of the external acceptance-likelihood
// evaluator. AcceptanceScore is in [-1,1].
type AcceptanceResult struct {
	AcceptanceScore float64
	Success         bool
	Error           string
}

// GenerateRequest carries everything the generation collaborator needs for
// one attempt. Feedback is non-empty on length retries and embeds the
// previous attempt and its counted length.
type GenerateRequest struct {
	Model     string
	PostText  string
	Evidence  []Evidence
	Citations []string
	Feedback  string
}

// ClaimScorer judges whether a post makes a verifiable factual claim.
type ClaimScorer interface {
	ScoreClaim(ctx context.Context, text string) (Score, error)
}

// KeywordExtractor pulls search keywords out of a post.
type KeywordExtractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// EvidenceSearcher finds supporting material for a post.
type EvidenceSearcher interface {
	Search(ctx context.Context, text string, keywords []string, strategy string) ([]Evidence, error)
}

// NoteGenerator drafts a candidate correction in the canonical
// STATUS/NOTE/SOURCE format.
type NoteGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// NoteScorer evaluates a drafted note against one named gate.
type NoteScorer interface {
	ScoreNote(ctx context.Context, gateName string, post model.Post, note model.ParsedNote, evidence []Evidence) (Score, error)
}

// AcceptanceEvaluator predicts how likely the drafted correction is to be
// accepted by raters.
type AcceptanceEvaluator interface {
	Evaluate(ctx context.Context, noteText, postID string) (AcceptanceResult, error)
}

// Collaborators bundles every external service a sequence calls.
type Collaborators struct {
	Claims     ClaimScorer
	Keywords   KeywordExtractor
	Search     EvidenceSearcher
	Generator  NoteGenerator
	Notes      NoteScorer
	Acceptance AcceptanceEvaluator
}

const maxGenerationAttempts = 3

// Sequence runs the ordered correction-worthiness stages for one post under
// one bot variant. Gating stages exit early on failure so later, more
// expensive collaborators are never called for disqualified posts.
type Sequence struct {
	bot      model.BotConfig
	defaults model.Thresholds
	collab   Collaborators
}

func NewSequence(bot model.BotConfig, defaults model.Thresholds, collab Collaborators) *Sequence {
	return &Sequence{
		bot:      bot,
		defaults: defaults,
		collab:   collab,
	}
}

// Bot returns the variant this sequence was built for.
func (s *Sequence) Bot() model.BotConfig {
	return s.bot
}

// Run executes the stage sequence for one post. A collaborator failure at any
// stage aborts the run and returns a nil result with the error; callers must
// log and continue, never treat it as fatal for the batch.
func (s *Sequence) Run(ctx context.Context, post model.Post) (*model.PipelineResult, error) {
	r := &runState{
		result: &model.PipelineResult{
			Post:      post,
			VariantID: s.bot.ID,
			Scores:    make(map[string]float64),
		},
	}

	// Stage 1: verifiable-claim gate.
	claimScore, err := s.collab.Claims.ScoreClaim(ctx, post.Text)
	if err != nil {
		return nil, s.stageErr(post, model.GateVerifiableClaim, err)
	}
	if !r.addGate(model.GateVerifiableClaim, claimScore, s.threshold(model.GateVerifiableClaim)) {
		return r.disqualify(model.GateVerifiableClaim, claimScore.Reasoning), nil
	}

	// Stage 2: keyword extraction (transform).
	keywords, err := s.collab.Keywords.Extract(ctx, post.Text)
	if err != nil {
		return nil, s.stageErr(post, model.StageKeywordExtraction, err)
	}
	r.addTransform(model.StageKeywordExtraction, map[string]string{
		"keywords": joinKeywords(keywords),
	})

	// Stage 3: evidence search (transform; zero hits is a failing condition).
	evidence, err := s.collab.Search.Search(ctx, post.Text, keywords, s.bot.SearchStrategy)
	if err != nil {
		return nil, s.stageErr(post, model.StageEvidenceSearch, err)
	}
	if len(evidence) == 0 {
		r.addFailedTransform(model.StageEvidenceSearch, "no supporting evidence found")
		return r.finish(model.OutcomeNoEvidence, model.StageEvidenceSearch, "no supporting evidence found"), nil
	}
	r.addTransform(model.StageEvidenceSearch, map[string]string{
		"results": fmt.Sprintf("%d", len(evidence)),
	})

	// Stage 4: note generation (transform; retried against the length budget).
	note, lengthWarning, err := s.generateNote(ctx, post, evidence)
	if err != nil {
		return nil, s.stageErr(post, model.StageNoteGeneration, err)
	}
	r.result.Note = &note
	r.result.LengthWarning = lengthWarning
	r.addTransform(model.StageNoteGeneration, map[string]string{
		"status": note.Status,
		"length": fmt.Sprintf("%d", NoteCharCount(note.Text)),
	})

	// Stage 5: status gate.
	if note.Status != StatusActionable {
		reason := fmt.Sprintf("generation status %q is not actionable", note.Status)
		r.addFailedTransform(model.GateStatus, reason)
		return r.finish(model.OutcomeNotActionable, model.GateStatus, reason), nil
	}
	r.addTransform(model.GateStatus, map[string]string{"status": note.Status})

	// Stages 6-9: note quality gates.
	for _, gateName := range []string{
		model.GateEvidenceRelevance,
		model.GateSourceSupport,
		model.GatePositiveFraming,
		model.GateSubstantiveDisagreement,
	} {
		score, err := s.collab.Notes.ScoreNote(ctx, gateName, post, note, evidence)
		if err != nil {
			return nil, s.stageErr(post, gateName, err)
		}
		if !r.addGate(gateName, score, s.threshold(gateName)) {
			return r.disqualify(gateName, score.Reasoning), nil
		}
	}

	// Stage 10: predicted helpfulness. Informational only, never gates.
	helpfulness, err := s.collab.Notes.ScoreNote(ctx, model.ScoreHelpfulness, post, note, evidence)
	if err != nil {
		return nil, s.stageErr(post, model.ScoreHelpfulness, err)
	}
	r.addInformational(model.ScoreHelpfulness, helpfulness)

	// Stage 11: external acceptance-likelihood gate.
	acceptance, err := s.collab.Acceptance.Evaluate(ctx, note.Text, post.ID)
	if err != nil {
		return nil, s.stageErr(post, model.GateAcceptanceLikelihood, err)
	}
	if !acceptance.Success {
		return nil, s.stageErr(post, model.GateAcceptanceLikelihood, fmt.Errorf("acceptance evaluation failed: %s", acceptance.Error))
	}
	accScore := Score{Score: acceptance.AcceptanceScore, Reasoning: "acceptance evaluator"}
	if !r.addGate(model.GateAcceptanceLikelihood, accScore, s.threshold(model.GateAcceptanceLikelihood)) {
		return r.disqualify(model.GateAcceptanceLikelihood, "predicted acceptance below threshold"), nil
	}

	return r.finish(model.OutcomeScored, "", ""), nil
}

func (s *Sequence) generateNote(ctx context.Context, post model.Post, evidence []Evidence) (model.ParsedNote, bool, error) {
	citations := make([]string, 0, len(evidence))
	for _, ev := range evidence {
		citations = append(citations, ev.URL)
	}

	req := GenerateRequest{
		Model:     s.bot.GenerationModel,
		PostText:  post.Text,
		Evidence:  evidence,
		Citations: citations,
	}

	var note model.ParsedNote
	for attempt := 1; attempt <= maxGenerationAttempts; attempt++ {
		raw, err := s.collab.Generator.Generate(ctx, req)
		if err != nil {
			return model.ParsedNote{}, false, err
		}

		note, err = ParseNote(raw)
		if err != nil {
			return model.ParsedNote{}, false, err
		}

		length := NoteCharCount(note.Text)
		budget := NoteCharBudget(note.Text)
		if length <= budget {
			return note, false, nil
		}

		if attempt == maxGenerationAttempts {
			break
		}

		logger.Warn("Generated note over length budget, retrying",
			zap.String("post_id", post.ID),
			zap.String("variant_id", s.bot.ID),
			zap.Int("attempt", attempt),
			zap.Int("length", length),
			zap.Int("budget", budget),
		)
		req.Feedback = fmt.Sprintf(
			"The previous attempt was %d characters, which exceeds the %d character limit. Rewrite it shorter.\n\nPrevious attempt:\n%s",
			length, budget, note.Text,
		)
	}

	logger.Warn("Generated note still over budget after final attempt",
		zap.String("post_id", post.ID),
		zap.String("variant_id", s.bot.ID),
		zap.Int("length", NoteCharCount(note.Text)),
	)
	return note, true, nil
}

func (s *Sequence) threshold(gateName string) float64 {
	return gate.Resolve(gateName, s.bot.Thresholds, s.defaults)
}

func (s *Sequence) stageErr(post model.Post, stage string, err error) error {
	logger.Error("Pipeline stage collaborator failed",
		zap.String("post_id", post.ID),
		zap.String("variant_id", s.bot.ID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	return fmt.Errorf("stage %s for post %s: %w", stage, post.ID, err)
}

func joinKeywords(keywords []string) string {
	out := ""
	for i, kw := range keywords {
		if i > 0 {
			out += ", "
		}
		out += kw
	}
	return out
}
