package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/rerun"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/selector"
)

type fakeSource struct {
	posts       []model.Post
	lastExclude map[string]struct{}
}

func (s *fakeSource) FetchCandidates(ctx context.Context, limit int, excludeIDs map[string]struct{}) ([]model.Post, error) {
	s.lastExclude = excludeIDs
	out := make([]model.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if _, skip := excludeIDs[p.ID]; skip {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

type fakeSink struct {
	mu        sync.Mutex
	appended  []*model.PipelineResult
	processed map[string]map[string]struct{}
}

func (s *fakeSink) Append(ctx context.Context, res *model.PipelineResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, res)
	return nil
}

func (s *fakeSink) ExistingIDsForVariant(ctx context.Context, variantID string) (map[string]struct{}, error) {
	if ids, ok := s.processed[variantID]; ok {
		return ids, nil
	}
	return map[string]struct{}{}, nil
}

type fakeRunner struct {
	bot model.BotConfig
	fn  func(post model.Post) (*model.PipelineResult, error)

	calls atomic.Int64
}

func (r *fakeRunner) Bot() model.BotConfig { return r.bot }

func (r *fakeRunner) Run(ctx context.Context, post model.Post) (*model.PipelineResult, error) {
	r.calls.Add(1)
	return r.fn(post)
}

type fakeComparer struct {
	mu    sync.Mutex
	calls map[string][]*model.PipelineResult
}

func (c *fakeComparer) CompareResults(ctx context.Context, postID string, results []*model.PipelineResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string][]*model.PipelineResult)
	}
	c.calls[postID] = results
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	submitted []string
}

func (p *fakePublisher) Submit(ctx context.Context, postID string, note model.ParsedNote) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, postID)
	return nil
}

type fakeJudge struct {
	sensitive bool
}

func (j *fakeJudge) IsTimeSensitive(ctx context.Context, post model.Post, reason string) (bool, error) {
	return j.sensitive, nil
}

func passedResult(post model.Post, variantID string, composite float64) *model.PipelineResult {
	return &model.PipelineResult{
		Post:           post,
		VariantID:      variantID,
		AllPassed:      true,
		Outcome:        model.OutcomeScored,
		CompositeScore: composite,
		Note:           &model.ParsedNote{Status: "correction with trustworthy citation", Text: "note"},
	}
}

func failedResult(post model.Post, variantID string) *model.PipelineResult {
	return &model.PipelineResult{
		Post:         post,
		VariantID:    variantID,
		Outcome:      model.OutcomeDisqualified,
		FailedAtStep: model.GateVerifiableClaim,
		SkipReason:   "no verifiable claim",
	}
}

func posts(n int) []model.Post {
	out := make([]model.Post, n)
	for i := range out {
		out[i] = model.Post{ID: string(rune('a' + i)), Text: "post"}
	}
	return out
}

func TestRunBatchNoEnabledVariantsIsFatal(t *testing.T) {
	o := New(Config{}, Deps{
		Source:  &fakeSource{},
		Sink:    &fakeSink{},
		Runners: []Runner{&fakeRunner{bot: model.BotConfig{ID: "a"}}},
	})

	_, err := o.RunBatch(context.Background())
	assert.ErrorIs(t, err, selector.ErrNoEnabledVariants)
}

func TestRunBatchZeroWeightIsFatal(t *testing.T) {
	runners := []Runner{
		&fakeRunner{bot: model.BotConfig{ID: "a", Enabled: true, Weight: 0}},
		&fakeRunner{bot: model.BotConfig{ID: "b", Enabled: true, Weight: 0}},
	}
	o := New(Config{}, Deps{Source: &fakeSource{}, Sink: &fakeSink{}, Runners: runners})

	_, err := o.RunBatch(context.Background())
	assert.ErrorIs(t, err, selector.ErrZeroTotalWeight)
}

func TestRunBatchTaskFailureIsolation(t *testing.T) {
	runner := &fakeRunner{
		bot: model.BotConfig{ID: "a", Enabled: true, Weight: 1},
		fn: func(post model.Post) (*model.PipelineResult, error) {
			if post.ID == "b" {
				return nil, errors.New("collaborator exploded")
			}
			return passedResult(post, "a", 0.9), nil
		},
	}
	sink := &fakeSink{}

	o := New(Config{Concurrency: 2, DryRun: true}, Deps{
		Source:  &fakeSource{posts: posts(3)},
		Sink:    sink,
		Runners: []Runner{runner},
	})

	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.TasksSubmitted)
	assert.Equal(t, 2, report.TasksCompleted)
	assert.Equal(t, 1, report.TasksFailed)
	assert.Len(t, sink.appended, 2)
}

func TestRunBatchCompareModeRunsAllVariantsAndCompares(t *testing.T) {
	mk := func(id string, composite float64) *fakeRunner {
		return &fakeRunner{
			bot: model.BotConfig{ID: id, Enabled: true, Weight: 1},
			fn: func(post model.Post) (*model.PipelineResult, error) {
				return passedResult(post, id, composite), nil
			},
		}
	}
	a, b := mk("a", 0.9), mk("b", 0.4)
	comparer := &fakeComparer{}

	o := New(Config{Concurrency: 3, CompareVariants: true}, Deps{
		Source:   &fakeSource{posts: posts(2)},
		Sink:     &fakeSink{},
		Comparer: comparer,
		Runners:  []Runner{a, b},
	})

	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.TasksSubmitted)
	assert.Equal(t, int64(2), a.calls.Load())
	assert.Equal(t, int64(2), b.calls.Load())

	require.Len(t, comparer.calls, 2)
	for postID, results := range comparer.calls {
		assert.Len(t, results, 2, "post %s should have both variants' results", postID)
	}
}

func TestRunBatchComparerSkippedWhenOneResultNil(t *testing.T) {
	ok := &fakeRunner{
		bot: model.BotConfig{ID: "a", Enabled: true, Weight: 1},
		fn: func(post model.Post) (*model.PipelineResult, error) {
			return passedResult(post, "a", 0.9), nil
		},
	}
	broken := &fakeRunner{
		bot: model.BotConfig{ID: "b", Enabled: true, Weight: 1},
		fn: func(post model.Post) (*model.PipelineResult, error) {
			return nil, errors.New("down")
		},
	}
	comparer := &fakeComparer{}

	o := New(Config{Concurrency: 2, CompareVariants: true}, Deps{
		Source:   &fakeSource{posts: posts(1)},
		Sink:     &fakeSink{},
		Comparer: comparer,
		Runners:  []Runner{ok, broken},
	})

	_, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, comparer.calls)
}

func TestRunBatchPublishesOnAllPassed(t *testing.T) {
	runner := &fakeRunner{
		bot: model.BotConfig{ID: "a", Enabled: true, Weight: 1},
		fn: func(post model.Post) (*model.PipelineResult, error) {
			return passedResult(post, "a", 0.9), nil
		},
	}
	pub := &fakePublisher{}

	o := New(Config{Concurrency: 1}, Deps{
		Source:    &fakeSource{posts: posts(2)},
		Sink:      &fakeSink{},
		Publisher: pub,
		Runners:   []Runner{runner},
	})

	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Published)
	assert.Len(t, pub.submitted, 2)
}

func TestRunBatchDryRunSuppressesPublish(t *testing.T) {
	runner := &fakeRunner{
		bot: model.BotConfig{ID: "a", Enabled: true, Weight: 1},
		fn: func(post model.Post) (*model.PipelineResult, error) {
			return passedResult(post, "a", 0.9), nil
		},
	}
	pub := &fakePublisher{}

	o := New(Config{Concurrency: 1, DryRun: true}, Deps{
		Source:    &fakeSource{posts: posts(1)},
		Sink:      &fakeSink{},
		Publisher: pub,
		Runners:   []Runner{runner},
	})

	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Published)
	assert.Empty(t, pub.submitted)
}

func TestRunBatchEnqueuesTimeSensitiveFailures(t *testing.T) {
	runner := &fakeRunner{
		bot: model.BotConfig{ID: "a", Enabled: true, Weight: 1},
		fn: func(post model.Post) (*model.PipelineResult, error) {
			return failedResult(post, "a"), nil
		},
	}
	queue := rerun.NewMemoryQueue()

	o := New(Config{Concurrency: 1}, Deps{
		Source:  &fakeSource{posts: posts(2)},
		Sink:    &fakeSink{},
		Judge:   &fakeJudge{sensitive: true},
		Queue:   queue,
		Runners: []Runner{runner},
	})

	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.RerunsEnqueued)
	ids, err := queue.ActiveIDs(context.Background(), rerun.DefaultWindow)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestRunBatchRerunOverridesDedup(t *testing.T) {
	runner := &fakeRunner{
		bot: model.BotConfig{ID: "a", Enabled: true, Weight: 1},
		fn: func(post model.Post) (*model.PipelineResult, error) {
			return failedResult(post, "a"), nil
		},
	}
	sink := &fakeSink{processed: map[string]map[string]struct{}{
		"a": {"a": {}, "b": {}},
	}}
	queue := rerun.NewMemoryQueue()
	require.NoError(t, queue.Enqueue(context.Background(), model.RerunEntry{PostID: "a"}))

	source := &fakeSource{posts: posts(2)} // posts "a" and "b"
	judge := &fakeJudge{sensitive: true}

	o := New(Config{Concurrency: 1}, Deps{
		Source:  source,
		Sink:    sink,
		Judge:   judge,
		Queue:   queue,
		Runners: []Runner{runner},
	})

	report, err := o.RunBatch(context.Background())
	require.NoError(t, err)

	// "b" was processed and not in the rerun window: excluded. "a" was
	// processed but active in the queue: reprocessed.
	assert.Contains(t, source.lastExclude, "b")
	assert.NotContains(t, source.lastExclude, "a")
	assert.Equal(t, 1, report.TasksSubmitted)

	// A rerun task is never enqueued again, and the override is one-shot.
	assert.Equal(t, 0, report.RerunsEnqueued)

	report2, err := o.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report2.TasksSubmitted)
	assert.Contains(t, source.lastExclude, "a")
}

func TestRunBatchSoftDeadlineStopsAdmissions(t *testing.T) {
	var started atomic.Int64
	release := make(chan struct{})

	runner := &fakeRunner{
		bot: model.BotConfig{ID: "a", Enabled: true, Weight: 1},
		fn: func(post model.Post) (*model.PipelineResult, error) {
			started.Add(1)
			<-release
			return passedResult(post, "a", 0.9), nil
		},
	}

	o := New(Config{Concurrency: 3, SoftDeadline: 100 * time.Millisecond, DryRun: true}, Deps{
		Source:  &fakeSource{posts: posts(10)},
		Sink:    &fakeSink{},
		Runners: []Runner{runner},
	})

	done := make(chan *BatchReport, 1)
	go func() {
		report, err := o.RunBatch(context.Background())
		require.NoError(t, err)
		done <- report
	}()

	// Let the three workers admit one task each, then let the soft deadline
	// pass while they are blocked in flight.
	time.Sleep(300 * time.Millisecond)
	close(release)

	report := <-done

	// In-flight tasks finished naturally; everything still queued when the
	// soft deadline fired was skipped, never started.
	assert.Equal(t, int64(3), started.Load())
	assert.Equal(t, 3, report.TasksCompleted)
	assert.Equal(t, 7, report.TasksSkipped)
	assert.Equal(t, 10, report.TasksSubmitted)
}
