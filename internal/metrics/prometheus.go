package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PostsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_agent_posts_processed_total",
			Help: "Total pipeline runs by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	GateFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_agent_gate_failures_total",
			Help: "Total gate failures by stage",
		},
		[]string{"stage"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notes_agent_pipeline_duration_seconds",
			Help:    "Full pipeline run duration per post",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"variant"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notes_agent_batch_duration_seconds",
			Help:    "Batch run duration",
			Buckets: []float64{10, 30, 60, 120, 300, 480, 540, 600},
		},
	)

	TasksSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notes_agent_tasks_skipped_total",
			Help: "Tasks skipped because the soft deadline had passed",
		},
	)

	EloUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_agent_elo_updates_total",
			Help: "Rating comparisons recorded by result",
		},
		[]string{"result"},
	)

	NotesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_agent_notes_published_total",
			Help: "Corrections submitted by variant",
		},
		[]string{"variant"},
	)

	RerunsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notes_agent_reruns_enqueued_total",
			Help: "Posts enqueued for a rerun attempt",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CompositeScore = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notes_agent_composite_score",
			Help:    "Composite scores of completed pipeline runs",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"variant"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notes_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(PostsProcessed)
	prometheus.MustRegister(GateFailures)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(TasksSkipped)
	prometheus.MustRegister(EloUpdates)
	prometheus.MustRegister(NotesPublished)
	prometheus.MustRegister(RerunsEnqueued)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CompositeScore)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

// RecordLLMTokens splits one completion's usage into prompt and completion
// counters.
func RecordLLMTokens(model string, promptTokens, completionTokens int) {
	LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
