package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/Goodheart-Labs/community-notes-writer-sub000/internal/model"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Search     SearchConfig
	Feed       FeedConfig
	Publisher  PublisherConfig
	Scheduler  SchedulerConfig
	Thresholds model.Thresholds
	Bots       []model.BotConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type SearchConfig struct {
	SerpAPIKey  string
	MaxResults  int
	TimeoutSec  int
	CacheTTLSec int
}

type FeedConfig struct {
	BaseURL     string
	BearerToken string
}

type PublisherConfig struct {
	BaseURL     string
	BearerToken string
	DryRun      bool
}

// SchedulerConfig governs the batch loop. Soft deadline stops admitting
// queued tasks; hard deadline force-exits the process.
type SchedulerConfig struct {
	IntervalSec     int
	Concurrency     int
	SoftDeadlineSec int
	HardDeadlineSec int
	BatchLimit      int
	CompareVariants bool
	RerunWindowSec  int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/notes-agent")

	viper.SetEnvPrefix("NOTES_AGENT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(config.Bots) == 0 {
		config.Bots = []model.BotConfig{
			{
				ID:              "production",
				GenerationModel: config.LLM.Model,
				Enabled:         true,
				Weight:          1.0,
				SearchStrategy:  "keyword",
			},
		}
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 30)
	viper.SetDefault("server.writeTimeout", 30)
	viper.SetDefault("server.bodyLimit", 1048576)

	viper.SetDefault("sqlite.path", "./data/notesagent.db")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.maxTokens", 1024)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("search.maxResults", 5)
	viper.SetDefault("search.timeoutSec", 10)
	viper.SetDefault("search.cacheTTLSec", 86400)

	viper.SetDefault("feed.baseURL", "http://localhost:9000")
	viper.SetDefault("publisher.baseURL", "http://localhost:9000")
	viper.SetDefault("publisher.dryRun", false)

	viper.SetDefault("scheduler.intervalSec", 1800)
	viper.SetDefault("scheduler.concurrency", 3)
	viper.SetDefault("scheduler.softDeadlineSec", 480)
	viper.SetDefault("scheduler.hardDeadlineSec", 540)
	viper.SetDefault("scheduler.batchLimit", 20)
	viper.SetDefault("scheduler.compareVariants", false)
	viper.SetDefault("scheduler.rerunWindowSec", 86400)

	defaults := model.DefaultThresholds()
	viper.SetDefault("thresholds.verifiable_claim", defaults.VerifiableClaim)
	viper.SetDefault("thresholds.evidence_relevance", defaults.EvidenceRelevance)
	viper.SetDefault("thresholds.source_support", defaults.SourceSupport)
	viper.SetDefault("thresholds.positive_framing", defaults.PositiveFraming)
	viper.SetDefault("thresholds.substantive_disagreement", defaults.SubstantiveDisagreement)
	viper.SetDefault("thresholds.acceptance_likelihood", defaults.AcceptanceLikelihood)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
