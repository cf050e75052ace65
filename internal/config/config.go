package config

import (
	_ "embed"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"gridmatch/internal/coarsematch"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Matcher   MatcherConfig
	Extractor ExtractorConfig
	Retrieval RetrievalConfig
	Database  DatabaseConfig
	Web       WebConfig
}

// MatcherConfig mirrors the matching engine configuration. The embedded
// defaults.yaml carries the deployment defaults; environment variables
// override individual fields.
type MatcherConfig struct {
	Mode               string  `yaml:"mode"`
	Threshold          float32 `yaml:"threshold"`
	BorderMargin       int     `yaml:"border_margin"`
	Temperature        float32 `yaml:"temperature"`
	BinScore           float32 `yaml:"bin_score"`
	SinkhornIterations int     `yaml:"sinkhorn_iterations"`
	SinkhornPrefilter  bool    `yaml:"sinkhorn_prefilter"`
	TrainPadMin        int     `yaml:"train_pad_min"`
	TrainCoarsePercent float32 `yaml:"train_coarse_percent"`
}

// ToMatcher converts to the matching engine's config type.
func (m *MatcherConfig) ToMatcher() coarsematch.Config {
	return coarsematch.Config{
		Mode:               coarsematch.Mode(m.Mode),
		Threshold:          m.Threshold,
		BorderMargin:       m.BorderMargin,
		Temperature:        m.Temperature,
		BinScore:           m.BinScore,
		SinkhornIterations: m.SinkhornIterations,
		SinkhornPrefilter:  m.SinkhornPrefilter,
		TrainPadMin:        m.TrainPadMin,
		TrainCoarsePercent: m.TrainCoarsePercent,
	}
}

type ExtractorConfig struct {
	URL          string // feature extractor service URL (defaults to http://localhost:8000)
	Token        string // bearer token, empty when the service is open
	MaxImageSize int    // longer image side before downscaling (default 640)
}

type RetrievalConfig struct {
	IndexPath string // path to persist the retrieval index (optional, rebuilt when empty)
	Neighbors int    // nearest neighbours considered per image when proposing pairs (default 5)
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type WebConfig struct {
	Port int // HTTP listen port (default 8080)
}

// defaultsFile is the shape of the embedded defaults.yaml.
type defaultsFile struct {
	Matcher MatcherConfig `yaml:"matcher"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float32, falling back to the
// default when unset or invalid.
func envFloat(key string, defaultVal float32) float32 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 32); err == nil {
		return float32(f)
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean, falling back to the
// default when unset or invalid.
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var defaults defaultsFile
	if err := yaml.Unmarshal(defaultsYAML, &defaults); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	m := defaults.Matcher

	return &Config{
		Matcher: MatcherConfig{
			Mode:               envString("MATCHER_MODE", m.Mode),
			Threshold:          envFloat("MATCHER_THRESHOLD", m.Threshold),
			BorderMargin:       envInt("MATCHER_BORDER_MARGIN", m.BorderMargin),
			Temperature:        envFloat("MATCHER_TEMPERATURE", m.Temperature),
			BinScore:           envFloat("MATCHER_BIN_SCORE", m.BinScore),
			SinkhornIterations: envInt("MATCHER_SINKHORN_ITERATIONS", m.SinkhornIterations),
			SinkhornPrefilter:  envBool("MATCHER_SINKHORN_PREFILTER", m.SinkhornPrefilter),
			TrainPadMin:        envInt("MATCHER_TRAIN_PAD_MIN", m.TrainPadMin),
			TrainCoarsePercent: envFloat("MATCHER_TRAIN_COARSE_PERCENT", m.TrainCoarsePercent),
		},
		Extractor: ExtractorConfig{
			URL:          envString("EXTRACTOR_URL", "http://localhost:8000"),
			Token:        os.Getenv("EXTRACTOR_TOKEN"),
			MaxImageSize: envInt("EXTRACTOR_MAX_IMAGE_SIZE", 640),
		},
		Retrieval: RetrievalConfig{
			IndexPath: os.Getenv("RETRIEVAL_INDEX_PATH"),
			Neighbors: envInt("RETRIEVAL_NEIGHBORS", 5),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Web: WebConfig{
			Port: envInt("PORT", 8080),
		},
	}
}
