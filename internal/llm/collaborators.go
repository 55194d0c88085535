package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/pipeline"
)

const claimSystemPrompt = `You judge whether a social media post makes a verifiable factual claim.

A verifiable claim is a statement about the world that could in principle be
checked against evidence. Opinions, predictions, jokes, and pure expressions
of taste are not verifiable claims.

Return JSON only:
{"score": 0.0-1.0, "reasoning": "one sentence"}`

// ScoreClaim implements pipeline.ClaimScorer.
func (c *Client) ScoreClaim(ctx context.Context, text string) (pipeline.Score, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: claimSystemPrompt,
		UserPrompt:   fmt.Sprintf("Post:\n%s\n\nReturn JSON only.", text),
		Temperature:  0.1,
		MaxTokens:    300,
	})
	if err != nil {
		return pipeline.Score{}, fmt.Errorf("failed to score claim: %w", err)
	}

	payload, err := parseScorePayload(resp.Content)
	if err != nil {
		return pipeline.Score{}, err
	}
	return pipeline.Score{Score: payload.Score, Reasoning: payload.Reasoning}, nil
}

var noteGatePrompts = map[string]string{
	model.GateEvidenceRelevance: `You judge whether the cited evidence is relevant to the post being corrected.
Score 1.0 when the evidence directly addresses the post's claim, 0.0 when it is unrelated.`,
	model.GateSourceSupport: `You judge whether the cited source actually supports the correction's statements.
Score 1.0 when every statement in the note is backed by the source, 0.0 when the source contradicts or omits them.`,
	model.GatePositiveFraming: `You judge whether the correction is framed neutrally and constructively.
Score 1.0 for a factual, non-hostile note; score low for sarcasm, mockery, or attacks on the author.`,
	model.GateSubstantiveDisagreement: `You judge whether the correction substantively disagrees with the post.
Score 1.0 when the note contradicts the post's central claim; score low when it merely adds context the post already concedes.`,
	model.ScoreHelpfulness: `You predict how helpful community raters would find this correction.
Consider clarity, specificity, and source quality. Score 1.0 for a note most raters would mark helpful.`,
}

// ScoreNote implements pipeline.NoteScorer: one call per named gate.
func (c *Client) ScoreNote(ctx context.Context, gateName string, post model.Post, note model.ParsedNote, evidence []pipeline.Evidence) (pipeline.Score, error) {
	prompt, ok := noteGatePrompts[gateName]
	if !ok {
		return pipeline.Score{}, fmt.Errorf("no prompt defined for gate %s", gateName)
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: prompt + "\n\nReturn JSON only:\n{\"score\": 0.0-1.0, \"reasoning\": \"one sentence\"}",
		UserPrompt:   buildNotePrompt(post, note, evidence),
		Temperature:  0.1,
		MaxTokens:    300,
	})
	if err != nil {
		return pipeline.Score{}, fmt.Errorf("failed to score %s: %w", gateName, err)
	}

	payload, err := parseScorePayload(resp.Content)
	if err != nil {
		return pipeline.Score{}, err
	}
	return pipeline.Score{Score: payload.Score, Reasoning: payload.Reasoning}, nil
}

func buildNotePrompt(post model.Post, note model.ParsedNote, evidence []pipeline.Evidence) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Post:\n%s\n\nProposed correction:\n%s\n", post.Text, note.Text)
	if note.SourceURL != "" {
		fmt.Fprintf(&b, "\nCited source: %s\n", note.SourceURL)
	}
	if len(evidence) > 0 {
		b.WriteString("\nEvidence:\n")
		for _, ev := range evidence {
			fmt.Fprintf(&b, "- %s (%s): %s\n", ev.Title, ev.URL, ev.Snippet)
		}
	}
	b.WriteString("\nReturn JSON only.")
	return b.String()
}

const generateSystemPrompt = `You write community correction notes for social media posts.

Output EXACTLY this format:
STATUS: <one of: "correction with trustworthy citation", "no correction needed", "source unreliable">
NOTE: <the correction text, plain prose, at most 280 characters counting any URL as 23>
SOURCE: <the single URL backing the correction>

Only use STATUS "correction with trustworthy citation" when the evidence
contains a trustworthy source that contradicts the post. The note must state
facts from the source, never speculation.`

// Generate implements pipeline.NoteGenerator. The per-variant model in the
// request overrides the client default, so competing variants can use
// different generation models over one transport.
func (c *Client) Generate(ctx context.Context, req pipeline.GenerateRequest) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Post:\n%s\n\nEvidence:\n", req.PostText)
	for _, ev := range req.Evidence {
		fmt.Fprintf(&b, "- %s (%s)\n  %s\n", ev.Title, ev.URL, ev.Snippet)
		if ev.Content != "" {
			fmt.Fprintf(&b, "  %s\n", truncate(ev.Content, 1500))
		}
	}
	if len(req.Citations) > 0 {
		fmt.Fprintf(&b, "\nCitable URLs: %s\n", strings.Join(req.Citations, ", "))
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "\nFeedback on your previous attempt:\n%s\n", req.Feedback)
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		Model:        req.Model,
		SystemPrompt: generateSystemPrompt,
		UserPrompt:   b.String(),
		Temperature:  0.4,
		MaxTokens:    500,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate note: %w", err)
	}
	return resp.Content, nil
}

const acceptanceSystemPrompt = `You predict whether a proposed community correction note would be accepted and
rated helpful by the platform's contributor pool.

Return JSON only:
{"acceptance_score": -1.0 to 1.0, "reasoning": "one sentence"}

1.0 means near-certain acceptance, -1.0 near-certain rejection, 0.0 uncertain.`

type acceptancePayload struct {
	AcceptanceScore float64 `json:"acceptance_score"`
	Reasoning       string  `json:"reasoning"`
}

// Evaluate implements pipeline.AcceptanceEvaluator. Transport failures
// surface as errors; a well-formed refusal comes back with Success false so
// the stage can report the evaluator's own message.
func (c *Client) Evaluate(ctx context.Context, noteText, postID string) (pipeline.AcceptanceResult, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: acceptanceSystemPrompt,
		UserPrompt:   fmt.Sprintf("Proposed note for post %s:\n%s\n\nReturn JSON only.", postID, noteText),
		Temperature:  0.1,
		MaxTokens:    300,
	})
	if err != nil {
		return pipeline.AcceptanceResult{}, fmt.Errorf("failed to evaluate acceptance: %w", err)
	}

	var payload acceptancePayload
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &payload); err != nil {
		return pipeline.AcceptanceResult{
			Success: false,
			Error:   fmt.Sprintf("unparseable evaluator response: %v", err),
		}, nil
	}
	if payload.AcceptanceScore < -1 || payload.AcceptanceScore > 1 {
		return pipeline.AcceptanceResult{
			Success: false,
			Error:   fmt.Sprintf("acceptance score %v out of range", payload.AcceptanceScore),
		}, nil
	}

	return pipeline.AcceptanceResult{
		AcceptanceScore: payload.AcceptanceScore,
		Success:         true,
	}, nil
}

const timeSensitiveSystemPrompt = `You judge whether a post that failed correction is time-sensitive: likely to
still be spreading and worth one more correction attempt within the next day.

Return JSON only:
{"time_sensitive": true|false, "reasoning": "one sentence"}`

type timeSensitivePayload struct {
	TimeSensitive bool   `json:"time_sensitive"`
	Reasoning     string `json:"reasoning"`
}

// IsTimeSensitive implements orchestrator.TimeSensitivityJudge.
func (c *Client) IsTimeSensitive(ctx context.Context, post model.Post, failureReason string) (bool, error) {
	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: timeSensitiveSystemPrompt,
		UserPrompt: fmt.Sprintf("Post:\n%s\n\nWhy it failed:\n%s\n\nReturn JSON only.",
			post.Text, failureReason),
		Temperature: 0.1,
		MaxTokens:   200,
	})
	if err != nil {
		return false, fmt.Errorf("failed to judge time sensitivity: %w", err)
	}

	var payload timeSensitivePayload
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &payload); err != nil {
		return false, fmt.Errorf("failed to parse time sensitivity response: %w", err)
	}
	return payload.TimeSensitive, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
