package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// FusionWeights are the hybrid scoring weights for one keyword-strength band.
type FusionWeights struct {
	Semantic float64
	Keyword  float64
	Lexical  float64
}

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL"`
	ChatModel      string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"curator-attachments"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	// Citation policy: source tags citable in customer mode.
	PublicSources []string `envconfig:"PUBLIC_SOURCES" default:"docs,tickets,public_ticket"`

	// Ingestion tuning.
	MaxChunkSize     int           `envconfig:"MAX_CHUNK_SIZE" default:"500"`
	DedupCacheSize   int           `envconfig:"DEDUP_CACHE_SIZE" default:"50000"`
	FileFetchTimeout time.Duration `envconfig:"FILE_FETCH_TIMEOUT" default:"30s"`
	FileFetchToken   string        `envconfig:"FILE_FETCH_TOKEN"`
	AssistantHandle  string        `envconfig:"ASSISTANT_HANDLE" default:"@curator"`
	BackfillInterval time.Duration `envconfig:"BACKFILL_INTERVAL" default:"30s"`

	// Retrieval tuning. The fusion weights are empirically chosen; they are
	// configuration, not constants, because no derivation exists for them.
	TopK                 int     `envconfig:"TOP_K" default:"5"`
	MinRelevance         float64 `envconfig:"MIN_RELEVANCE" default:"0.25"`
	CandidateMultiplier  int     `envconfig:"CANDIDATE_MULTIPLIER" default:"5"`
	RerankFloor          float64 `envconfig:"RERANK_FLOOR" default:"-5.0"`
	CustomerMinAvgScore  float64 `envconfig:"CUSTOMER_MIN_AVG_SCORE" default:"0.15"`
	FusionStrongSemantic float64 `envconfig:"FUSION_STRONG_SEMANTIC" default:"0.35"`
	FusionStrongKeyword  float64 `envconfig:"FUSION_STRONG_KEYWORD" default:"0.45"`
	FusionStrongLexical  float64 `envconfig:"FUSION_STRONG_LEXICAL" default:"0.20"`
	FusionWeakSemantic   float64 `envconfig:"FUSION_WEAK_SEMANTIC" default:"0.50"`
	FusionWeakKeyword    float64 `envconfig:"FUSION_WEAK_KEYWORD" default:"0.30"`
	FusionWeakLexical    float64 `envconfig:"FUSION_WEAK_LEXICAL" default:"0.20"`
	FusionNoneSemantic   float64 `envconfig:"FUSION_NONE_SEMANTIC" default:"0.70"`
	FusionNoneLexical    float64 `envconfig:"FUSION_NONE_LEXICAL" default:"0.30"`

	// Channel routing: channel keys mapped to ingestion behavior.
	FinalChangesChannel string   `envconfig:"CHANNEL_FINAL_CHANGES" default:"final_changes"`
	DocsChannel         string   `envconfig:"CHANNEL_DOCS" default:"docs"`
	IdeasChannel        string   `envconfig:"CHANNEL_IDEAS" default:"ideas"`
	IgnoredChannels     []string `envconfig:"CHANNELS_IGNORED" default:"marketing,sales,top_secret"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("CURATOR", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// StrongWeights apply when keyword overlap exceeds 0.5: lexical evidence is
// trusted over embedding similarity.
func (c *Config) StrongWeights() FusionWeights {
	return FusionWeights{Semantic: c.FusionStrongSemantic, Keyword: c.FusionStrongKeyword, Lexical: c.FusionStrongLexical}
}

// WeakWeights apply when keyword overlap is positive but at most 0.5.
func (c *Config) WeakWeights() FusionWeights {
	return FusionWeights{Semantic: c.FusionWeakSemantic, Keyword: c.FusionWeakKeyword, Lexical: c.FusionWeakLexical}
}

// NoneWeights apply when the query shares no content words with the item.
func (c *Config) NoneWeights() FusionWeights {
	return FusionWeights{Semantic: c.FusionNoneSemantic, Keyword: 0, Lexical: c.FusionNoneLexical}
}
