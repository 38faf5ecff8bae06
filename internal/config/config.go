package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/face-auth/internal/constants"
)

//go:embed policies.yaml
var policiesYAML []byte

// DefaultPolicyName is the policy built from MATCH_* environment variables.
const DefaultPolicyName = "default"

type Config struct {
	Database  DatabaseConfig
	Memo      MemoConfig
	Extractor ExtractorConfig
	Photos    PhotosConfig
	Cache     CacheConfig
	Match     MatchConfig
	Redis     RedisConfig
	Web       WebConfig
	Log       LogConfig
	Policies  PoliciesConfig
}

type DatabaseConfig struct {
	Driver       string // "mariadb" (default) or "postgres"
	URL          string // DSN of the reference repository
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// MemoConfig points at the optional PostgreSQL+pgvector store of already extracted vectors.
type MemoConfig struct {
	URL string
}

type ExtractorConfig struct {
	URL         string        // defaults to http://localhost:8000
	Model       string        // face model served by the embedding service
	Timeout     time.Duration // per request
	MinFaceSize int           // pixels, both sides
	MinDetScore float64
}

type PhotosConfig struct {
	Dir string // photo references resolve against this directory
}

type CacheConfig struct {
	Staleness      time.Duration
	RefreshTimeout time.Duration
	MaxImageWidth  int // 0 disables downscaling of reference photos
	Workers        int
}

type MatchConfig struct {
	MaxProbeImageWidth int
	Threshold          float64
	AmbiguityGap       float64
	AmbiguityCheck     bool
	CosineWeight       float64
}

type RedisConfig struct {
	URL     string // empty disables cross-replica invalidation
	Channel string
}

type WebConfig struct {
	Host           string
	Port           int
	AdminToken     string // guards cache endpoints; empty disables
	AllowedOrigins string // comma-separated CORS origins
}

type LogConfig struct {
	Level  string // zerolog level name
	Format string // "console" or "json"
}

type PoliciesConfig struct {
	Policies map[string]PolicyConfig `yaml:"policies"`
}

// PolicyConfig is one named set of matching knobs.
type PolicyConfig struct {
	Threshold      float64 `yaml:"threshold"`
	AmbiguityGap   float64 `yaml:"ambiguity_gap"`
	AmbiguityCheck bool    `yaml:"ambiguity_check"`
	CosineWeight   float64 `yaml:"cosine_weight"`
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

// envNonNegativeInt is envInt that also accepts zero (used where 0 means "disabled").
func envNonNegativeInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a non-negative float. Invalid values fall back to the default.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go durations ("90s", "5m") or a bare number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

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
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return defaultVal
}

func Load() *Config {
	var policies PoliciesConfig
	if err := yaml.Unmarshal(policiesYAML, &policies); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded policies.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			Driver:       strings.ToLower(envString("DATABASE_DRIVER", "mariadb")),
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Memo: MemoConfig{
			URL: os.Getenv("VECTOR_MEMO_DATABASE_URL"),
		},
		Extractor: ExtractorConfig{
			URL:         os.Getenv("EMBEDDING_URL"),
			Model:       envString("EMBEDDING_FACE_MODEL", "buffalo_l"),
			Timeout:     envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
			MinFaceSize: envInt("FACE_MIN_SIZE", constants.MinFaceSize),
			MinDetScore: envFloat("FACE_MIN_DET_SCORE", constants.MinDetectionScore),
		},
		Photos: PhotosConfig{
			Dir: envString("PHOTOS_DIR", "."),
		},
		Cache: CacheConfig{
			Staleness:      envDuration("CACHE_STALENESS", constants.DefaultStaleness),
			RefreshTimeout: envDuration("CACHE_REFRESH_TIMEOUT", constants.DefaultRefreshTimeout),
			MaxImageWidth:  envNonNegativeInt("CACHE_MAX_IMAGE_WIDTH", constants.DefaultReferenceImageWidth),
			Workers:        envInt("CACHE_REFRESH_WORKERS", constants.DefaultRefreshWorkers),
		},
		Match: MatchConfig{
			MaxProbeImageWidth: envNonNegativeInt("MATCH_MAX_PROBE_IMAGE_WIDTH", constants.DefaultProbeImageWidth),
			Threshold:          envFloat("MATCH_THRESHOLD", constants.DefaultThreshold),
			AmbiguityGap:       envFloat("MATCH_AMBIGUITY_GAP", constants.DefaultAmbiguityGap),
			AmbiguityCheck:     envBool("MATCH_AMBIGUITY_CHECK", true),
			CosineWeight:       envFloat("MATCH_COSINE_WEIGHT", 0),
		},
		Redis: RedisConfig{
			URL:     os.Getenv("REDIS_URL"),
			Channel: envString("REDIS_INVALIDATION_CHANNEL", "face-auth:cache"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8090),
			AdminToken:     os.Getenv("WEB_ADMIN_TOKEN"),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "console"),
		},
		Policies: policies,
	}
}

// Policy returns the named matching policy. An empty name or "default" yields
// the policy built from MATCH_* environment variables.
func (c *Config) Policy(name string) (PolicyConfig, bool) {
	if name == "" || name == DefaultPolicyName {
		return PolicyConfig{
			Threshold:      c.Match.Threshold,
			AmbiguityGap:   c.Match.AmbiguityGap,
			AmbiguityCheck: c.Match.AmbiguityCheck,
			CosineWeight:   c.Match.CosineWeight,
		}, true
	}
	p, ok := c.Policies.Policies[name]
	return p, ok
}

// PolicyNames lists the embedded policy names (without "default").
func (c *Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies.Policies))
	for name := range c.Policies.Policies {
		names = append(names, name)
	}
	return names
}
