package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/metrics"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/rerun"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/selector"
	"github.com/Goodheart-Labs/community-notes-writer-sub000/pkg/logger"
)

// PostSource pulls candidate posts from the feed, newest first, excluding the
// given ids.
type PostSource interface {
	FetchCandidates(ctx context.Context, limit int, excludeIDs map[string]struct{}) ([]model.Post, error)
}

// ResultSink persists terminal pipeline results and answers dedup queries.
type ResultSink interface {
	Append(ctx context.Context, res *model.PipelineResult) error
	ExistingIDsForVariant(ctx context.Context, variantID string) (map[string]struct{}, error)
}

// NotePublisher submits a finished correction for a post that passed every
// gate on the production variant.
type NotePublisher interface {
	Submit(ctx context.Context, postID string, note model.ParsedNote) error
}

// TimeSensitivityJudge decides whether a failed post is worth one more
// attempt within the rerun window.
type TimeSensitivityJudge interface {
	IsTimeSensitive(ctx context.Context, post model.Post, failureReason string) (bool, error)
}

// Comparer records pairwise rating comparisons for one post's results.
type Comparer interface {
	CompareResults(ctx context.Context, postID string, results []*model.PipelineResult) error
}

// Runner executes the full stage sequence for one (post, variant) pair.
type Runner interface {
	Bot() model.BotConfig
	Run(ctx context.Context, post model.Post) (*model.PipelineResult, error)
}

// Event is a progress notification emitted while a batch runs.
type Event struct {
	Type      string    `json:"type"`
	PostID    string    `json:"post_id,omitempty"`
	VariantID string    `json:"variant_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Config governs one batch run. The hard deadline is enforced by the caller
// (process termination); it is carried here so reports can state it.
type Config struct {
	Concurrency     int
	SoftDeadline    time.Duration
	HardDeadline    time.Duration
	BatchLimit      int
	CompareVariants bool
	DryRun          bool
	RerunWindow     time.Duration
}

// Deps wires the collaborators into the orchestrator.
type Deps struct {
	Source    PostSource
	Sink      ResultSink
	Publisher NotePublisher
	Judge     TimeSensitivityJudge
	Comparer  Comparer
	Queue     rerun.Queue
	Runners   []Runner
	Notify    func(Event)
	RNG       *rand.Rand
}

// BatchReport summarizes one batch run.
type BatchReport struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Candidates     int           `json:"candidates"`
	TasksSubmitted int           `json:"tasks_submitted"`
	TasksCompleted int           `json:"tasks_completed"`
	TasksSkipped   int           `json:"tasks_skipped"`
	TasksFailed    int           `json:"tasks_failed"`
	Passed         int           `json:"passed"`
	Published      int           `json:"published"`
	RerunsEnqueued int           `json:"reruns_enqueued"`
	SoftDeadline   time.Duration `json:"soft_deadline"`
	HardDeadline   time.Duration `json:"hard_deadline"`
}

// Orchestrator fans candidate posts out across pipeline runs on a bounded
// worker pool. Task failures are isolated; only configuration problems abort
// a batch.
type Orchestrator struct {
	cfg     Config
	source  PostSource
	sink    ResultSink
	pub     NotePublisher
	judge   TimeSensitivityJudge
	compare Comparer
	queue   rerun.Queue
	runners []Runner
	notify  func(Event)
	rng     *rand.Rand

	rngMu sync.Mutex

	// rerun ids already consumed by this process, so the allow-list override
	// applies exactly once per entry.
	consumedMu sync.Mutex
	consumed   map[string]struct{}
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.RerunWindow <= 0 {
		cfg.RerunWindow = rerun.DefaultWindow
	}
	rng := deps.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	notify := deps.Notify
	if notify == nil {
		notify = func(Event) {}
	}

	return &Orchestrator{
		cfg:      cfg,
		source:   deps.Source,
		sink:     deps.Sink,
		pub:      deps.Publisher,
		judge:    deps.Judge,
		compare:  deps.Comparer,
		queue:    deps.Queue,
		runners:  deps.Runners,
		notify:   notify,
		rng:      rng,
		consumed: make(map[string]struct{}),
	}
}

type task struct {
	post      model.Post
	runner    Runner
	fromRerun bool
}

type postGroup struct {
	mu        sync.Mutex
	remaining int
	results   []*model.PipelineResult
}

// RunBatch executes one full batch: fetch, dedup with rerun override, fan
// out, compare, publish, enqueue reruns. It returns an error only for fatal
// configuration problems; per-task failures are logged and counted.
func (o *Orchestrator) RunBatch(ctx context.Context) (*BatchReport, error) {
	report := &BatchReport{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now(),
		SoftDeadline: o.cfg.SoftDeadline,
		HardDeadline: o.cfg.HardDeadline,
	}

	enabled := o.enabledRunners()
	if len(enabled) == 0 {
		return nil, selector.ErrNoEnabledVariants
	}
	if !o.cfg.CompareVariants && len(enabled) > 1 && totalWeight(enabled) <= 0 {
		return nil, selector.ErrZeroTotalWeight
	}

	exclude, rerunIDs, err := o.dedupSets(ctx, enabled)
	if err != nil {
		return nil, err
	}

	posts, err := o.source.FetchCandidates(ctx, o.cfg.BatchLimit, exclude)
	if err != nil {
		return nil, err
	}
	report.Candidates = len(posts)

	tasks, err := o.buildTasks(posts, enabled, rerunIDs)
	if err != nil {
		return nil, err
	}
	report.TasksSubmitted = len(tasks)

	logger.Info("Batch started",
		zap.String("run_id", report.RunID),
		zap.Int("candidates", len(posts)),
		zap.Int("tasks", len(tasks)),
		zap.Int("concurrency", o.cfg.Concurrency),
	)
	o.notify(Event{Type: "batch_started", Message: report.RunID, Timestamp: time.Now()})

	groups := make(map[string]*postGroup, len(posts))
	for _, t := range tasks {
		g, ok := groups[t.post.ID]
		if !ok {
			g = &postGroup{}
			groups[t.post.ID] = g
		}
		g.remaining++
	}

	var softExpired atomic.Bool
	var softTimer *time.Timer
	if o.cfg.SoftDeadline > 0 {
		softTimer = time.AfterFunc(o.cfg.SoftDeadline, func() {
			softExpired.Store(true)
			logger.Warn("Soft deadline reached, no new tasks will be admitted",
				zap.String("run_id", report.RunID))
			o.notify(Event{Type: "soft_deadline", Timestamp: time.Now()})
		})
		defer softTimer.Stop()
	}

	taskCh := make(chan task, len(tasks))
	for _, t := range tasks {
		taskCh <- t
	}
	close(taskCh)

	var reportMu sync.Mutex
	var g errgroup.Group
	for i := 0; i < o.cfg.Concurrency; i++ {
		g.Go(func() error {
			for t := range taskCh {
				if softExpired.Load() {
					reportMu.Lock()
					report.TasksSkipped++
					reportMu.Unlock()
					metrics.TasksSkipped.Inc()
					logger.Info("Task skipped due to soft deadline",
						zap.String("post_id", t.post.ID),
						zap.String("variant_id", t.runner.Bot().ID),
					)
					o.finishGroupSlot(ctx, t.post.ID, groups, nil)
					continue
				}
				o.runTask(ctx, t, groups, report, &reportMu)
			}
			return nil
		})
	}
	g.Wait()

	report.FinishedAt = time.Now()
	metrics.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	logger.Info("Batch finished",
		zap.String("run_id", report.RunID),
		zap.Int("completed", report.TasksCompleted),
		zap.Int("skipped", report.TasksSkipped),
		zap.Int("failed", report.TasksFailed),
		zap.Int("passed", report.Passed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	o.notify(Event{Type: "batch_finished", Message: report.RunID, Timestamp: time.Now()})

	return report, nil
}

func (o *Orchestrator) runTask(ctx context.Context, t task, groups map[string]*postGroup, report *BatchReport, reportMu *sync.Mutex) {
	bot := t.runner.Bot()

	started := time.Now()
	res, err := t.runner.Run(ctx, t.post)
	metrics.PipelineDuration.WithLabelValues(bot.ID).Observe(time.Since(started).Seconds())
	if err != nil || res == nil {
		// Per-task isolation: a failed run never cancels siblings.
		logger.Error("Pipeline run failed",
			zap.String("post_id", t.post.ID),
			zap.String("variant_id", bot.ID),
			zap.Error(err),
		)
		reportMu.Lock()
		report.TasksFailed++
		reportMu.Unlock()
		o.notify(Event{Type: "task_failed", PostID: t.post.ID, VariantID: bot.ID, Timestamp: time.Now()})
		o.finishGroupSlot(ctx, t.post.ID, groups, nil)
		return
	}

	if err := o.sink.Append(ctx, res); err != nil {
		logger.Error("Failed to persist pipeline result",
			zap.String("post_id", t.post.ID),
			zap.String("variant_id", bot.ID),
			zap.Error(err),
		)
	}

	reportMu.Lock()
	report.TasksCompleted++
	if res.AllPassed {
		report.Passed++
	}
	reportMu.Unlock()

	metrics.PostsProcessed.WithLabelValues(bot.ID, string(res.Outcome)).Inc()
	metrics.CompositeScore.WithLabelValues(bot.ID).Observe(res.CompositeScore)
	if res.Outcome == model.OutcomeDisqualified && res.FailedAtStep != "" {
		metrics.GateFailures.WithLabelValues(res.FailedAtStep).Inc()
	}

	o.notify(Event{
		Type:      "task_completed",
		PostID:    t.post.ID,
		VariantID: bot.ID,
		Message:   string(res.Outcome),
		Timestamp: time.Now(),
	})

	if res.AllPassed && !o.cfg.CompareVariants {
		o.publish(ctx, res, report, reportMu)
	}

	if !res.AllPassed && !t.fromRerun {
		o.maybeEnqueueRerun(ctx, t.post, res, report, reportMu)
	}

	o.finishGroupSlot(ctx, t.post.ID, groups, res)
}

// finishGroupSlot decrements a post's pending count and, once every variant's
// run for that post has finished, computes the pairwise comparisons. Updates
// are serialized per post; different posts proceed independently.
func (o *Orchestrator) finishGroupSlot(ctx context.Context, postID string, groups map[string]*postGroup, res *model.PipelineResult) {
	g, ok := groups[postID]
	if !ok {
		return
	}

	g.mu.Lock()
	if res != nil {
		g.results = append(g.results, res)
	}
	g.remaining--
	done := g.remaining == 0
	results := g.results
	g.mu.Unlock()

	if !done || len(results) < 2 || o.compare == nil {
		return
	}

	if err := o.compare.CompareResults(ctx, postID, results); err != nil {
		// At-least-once: the whole comparison is retried next time the post
		// surfaces, never partially replayed.
		logger.Error("Failed to record rating comparisons",
			zap.String("post_id", postID),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, res *model.PipelineResult, report *BatchReport, reportMu *sync.Mutex) {
	if o.pub == nil || res.Note == nil {
		return
	}
	if o.cfg.DryRun {
		logger.Info("Dry run, skipping note submission",
			zap.String("post_id", res.Post.ID),
			zap.String("variant_id", res.VariantID),
		)
		return
	}

	if err := o.pub.Submit(ctx, res.Post.ID, *res.Note); err != nil {
		logger.Error("Failed to submit note",
			zap.String("post_id", res.Post.ID),
			zap.Error(err),
		)
		return
	}

	reportMu.Lock()
	report.Published++
	reportMu.Unlock()
	metrics.NotesPublished.WithLabelValues(res.VariantID).Inc()
	o.notify(Event{Type: "note_published", PostID: res.Post.ID, VariantID: res.VariantID, Timestamp: time.Now()})
}

func (o *Orchestrator) maybeEnqueueRerun(ctx context.Context, post model.Post, res *model.PipelineResult, report *BatchReport, reportMu *sync.Mutex) {
	if o.judge == nil || o.queue == nil {
		return
	}

	reason := res.SkipReason
	if reason == "" {
		reason = res.FailedAtStep
	}

	sensitive, err := o.judge.IsTimeSensitive(ctx, post, reason)
	if err != nil {
		logger.Warn("Time-sensitivity judgment failed",
			zap.String("post_id", post.ID),
			zap.Error(err),
		)
		return
	}
	if !sensitive {
		return
	}

	err = o.queue.Enqueue(ctx, model.RerunEntry{
		PostID:    post.ID,
		StatusURL: post.StatusURL,
		Reasoning: reason,
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Error("Failed to enqueue rerun candidate",
			zap.String("post_id", post.ID),
			zap.Error(err),
		)
		return
	}

	reportMu.Lock()
	report.RerunsEnqueued++
	reportMu.Unlock()
	metrics.RerunsEnqueued.Inc()
}

// dedupSets builds the exclusion set for the feed fetch: every post id any
// enabled variant has already processed, minus ids currently active in the
// rerun queue (the allow-list override), each honored at most once.
func (o *Orchestrator) dedupSets(ctx context.Context, enabled []Runner) (map[string]struct{}, map[string]struct{}, error) {
	exclude := make(map[string]struct{})
	for _, r := range enabled {
		ids, err := o.sink.ExistingIDsForVariant(ctx, r.Bot().ID)
		if err != nil {
			return nil, nil, err
		}
		for id := range ids {
			exclude[id] = struct{}{}
		}
	}

	rerunIDs := make(map[string]struct{})
	if o.queue != nil {
		active, err := o.queue.ActiveIDs(ctx, o.cfg.RerunWindow)
		if err != nil {
			return nil, nil, err
		}

		o.consumedMu.Lock()
		for id := range active {
			if _, used := o.consumed[id]; used {
				continue
			}
			if _, processed := exclude[id]; processed {
				delete(exclude, id)
				rerunIDs[id] = struct{}{}
				o.consumed[id] = struct{}{}
			}
		}
		o.consumedMu.Unlock()
	}

	return exclude, rerunIDs, nil
}

func (o *Orchestrator) buildTasks(posts []model.Post, enabled []Runner, rerunIDs map[string]struct{}) ([]task, error) {
	tasks := make([]task, 0, len(posts)*len(enabled))
	for _, p := range posts {
		_, fromRerun := rerunIDs[p.ID]

		if o.cfg.CompareVariants {
			for _, r := range enabled {
				tasks = append(tasks, task{post: p, runner: r, fromRerun: fromRerun})
			}
			continue
		}

		r, err := o.selectRunner(enabled)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task{post: p, runner: r, fromRerun: fromRerun})
	}
	return tasks, nil
}

func (o *Orchestrator) selectRunner(enabled []Runner) (Runner, error) {
	bots := make([]model.BotConfig, len(enabled))
	for i, r := range enabled {
		bots[i] = r.Bot()
	}

	o.rngMu.Lock()
	bot, err := selector.Select(bots, o.rng)
	o.rngMu.Unlock()
	if err != nil {
		return nil, err
	}

	for _, r := range enabled {
		if r.Bot().ID == bot.ID {
			return r, nil
		}
	}
	return enabled[len(enabled)-1], nil
}

func (o *Orchestrator) enabledRunners() []Runner {
	out := make([]Runner, 0, len(o.runners))
	for _, r := range o.runners {
		if r.Bot().Enabled {
			out = append(out, r)
		}
	}
	return out
}

func totalWeight(runners []Runner) float64 {
	var total float64
	for _, r := range runners {
		total += r.Bot().Weight
	}
	return total
}
