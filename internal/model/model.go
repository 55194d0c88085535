package model

import "time"

// Post is a candidate social post fetched from the feed. Immutable once
// fetched; identity key is ID.
type Post struct {
	ID        string
	AuthorID  string
	CreatedAt time.Time
	Text      string
	Media     []string
	StatusURL string
}

// Outcome classifies how a pipeline run terminated.
type Outcome string

const (
	OutcomeScored        Outcome = "scored"
	OutcomeDisqualified  Outcome = "disqualified"
	OutcomeNoEvidence    Outcome = "no_evidence"
	OutcomeNotActionable Outcome = "not_actionable"
)

// PipelineStep records one stage's outcome within a single run. Steps are
// ordered and append-only.
type PipelineStep struct {
	StepNumber int
	Name       string
	Completed  bool
	Passed     *bool
	Score      *float64
	Reasoning  string
	Data       map[string]string
}

// ParsedNote is the structured form of a generated correction.
type ParsedNote struct {
	Status    string
	Text      string
	SourceURL string
}

// PipelineResult is the terminal record of one (post, variant) run. Created
// once per run, immutable after completion.
type PipelineResult struct {
	Post           Post
	VariantID      string
	Steps          []PipelineStep
	FailedAtStep   string
	Scores         map[string]float64
	AllPassed      bool
	Outcome        Outcome
	SkipReason     string
	CompositeScore float64
	Note           *ParsedNote
	LengthWarning  bool
	CompletedAt    time.Time
}

// BotConfig is one variant of the pipeline competing for traffic and Elo
// ranking. Loaded at process start, static afterwards.
type BotConfig struct {
	ID              string             `mapstructure:"id"`
	GenerationModel string             `mapstructure:"generation_model"`
	Thresholds      map[string]float64 `mapstructure:"thresholds"`
	Enabled         bool               `mapstructure:"enabled"`
	Weight          float64            `mapstructure:"weight"`
	SearchStrategy  string             `mapstructure:"search_strategy"`
	ExtraFlags      map[string]string  `mapstructure:"extra_flags"`
}

// Gate names shared by threshold resolution, stage construction, and scoring
// prompts.
const (
	GateVerifiableClaim         = "verifiable-claim"
	StageKeywordExtraction      = "keyword-extraction"
	StageEvidenceSearch         = "evidence-search"
	StageNoteGeneration         = "note-generation"
	GateStatus                  = "status-gate"
	GateEvidenceRelevance       = "evidence-relevance"
	GateSourceSupport           = "source-support"
	GatePositiveFraming         = "positive-framing"
	GateSubstantiveDisagreement = "substantive-disagreement"
	ScoreHelpfulness            = "predicted-helpfulness"
	GateAcceptanceLikelihood    = "acceptance-likelihood"
)

// Thresholds holds the shared default pass thresholds. A bot's override map
// is consulted first, keyed by gate name; missing keys fall back here.
type Thresholds struct {
	VerifiableClaim         float64 `mapstructure:"verifiable_claim"`
	EvidenceRelevance       float64 `mapstructure:"evidence_relevance"`
	SourceSupport           float64 `mapstructure:"source_support"`
	PositiveFraming         float64 `mapstructure:"positive_framing"`
	SubstantiveDisagreement float64 `mapstructure:"substantive_disagreement"`
	AcceptanceLikelihood    float64 `mapstructure:"acceptance_likelihood"`
}

// DefaultThresholds returns the shared gate thresholds used when neither the
// config file nor the bot overrides a gate.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VerifiableClaim:         0.5,
		EvidenceRelevance:       0.5,
		SourceSupport:           0.6,
		PositiveFraming:         0.5,
		SubstantiveDisagreement: 0.5,
		AcceptanceLikelihood:    0.0,
	}
}

// Value maps a gate name onto the matching default threshold. Unknown names
// return 0.5 so a misconfigured gate still behaves as a real gate.
func (t Thresholds) Value(gate string) float64 {
	switch gate {
	case GateVerifiableClaim:
		return t.VerifiableClaim
	case GateEvidenceRelevance:
		return t.EvidenceRelevance
	case GateSourceSupport:
		return t.SourceSupport
	case GatePositiveFraming:
		return t.PositiveFraming
	case GateSubstantiveDisagreement:
		return t.SubstantiveDisagreement
	case GateAcceptanceLikelihood:
		return t.AcceptanceLikelihood
	default:
		return 0.5
	}
}

// EloRating is the persistent rating record for one variant. Mutated only by
// the rating updater; never deleted, only reset explicitly.
type EloRating struct {
	VariantID        string
	Rating           float64
	Wins             int
	Losses           int
	Draws            int
	TotalComparisons int
	LastUpdated      time.Time
}

// ComparisonRecord is one entry of the append-only pairwise comparison audit
// trail. WinnerID and LoserID are empty for draws.
type ComparisonRecord struct {
	ID          string
	Timestamp   time.Time
	PostID      string
	WinnerID    string
	LoserID     string
	IsDraw      bool
	WinnerScore float64
	LoserScore  float64
	Reason      string
}

// RerunEntry marks a post eligible for one more pipeline attempt within the
// rerun window.
type RerunEntry struct {
	PostID    string
	StatusURL string
	Reasoning string
	CreatedAt time.Time
}
