package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process configuration, constructed once at startup and
// passed by reference into each collaborator constructor. Core logic never
// reads the environment directly.
type Config struct {
	// Server
	Port string

	// Cluster identity
	ClusterName string
	Location    string
	KubeContext string

	// Monitoring
	PrometheusURL string
	Lookback      time.Duration
	QueryStep     time.Duration
	MinSamples    int

	// Recommendation policy
	CPUTargetPercentile    string
	MemoryTargetPercentile string
	HeadroomFactor         float64
	LimitToRequestRatio    float64
	MinChangeThreshold     float64
	CPUGranularityMillis   int64
	MemoryGranularityBytes int64
	CPUFloorMillis         int64
	MemoryFloorBytes       int64
	CPUCeilingMillis       int64
	MemoryCeilingBytes     int64

	// Validation
	MaxDeltaMultiple float64

	// Workflow
	ConfirmationTTL time.Duration
	SweepInterval   time.Duration

	// Storage
	StorageEnabled bool
	DatabaseURL    string

	// Ticketing (Jira)
	JiraURL      string
	JiraUsername string
	JiraAPIToken string
	JiraProject  string

	// Notifications (Slack)
	SlackBotToken string
	SlackChannel  string

	// Justification enrichment
	AnthropicAPIKey string
	AnthropicModel  string
}

// Load builds configuration from the environment, reading a .env file first
// if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("PORT", "8080"),

		ClusterName: getEnv("CLUSTER_NAME", "default"),
		Location:    getEnv("CLUSTER_LOCATION", ""),
		KubeContext: getEnv("KUBE_CONTEXT", ""),

		PrometheusURL: getEnv("PROMETHEUS_URL", "http://localhost:9090"),
		Lookback:      getEnvDuration("LOOKBACK_WINDOW", 7*24*time.Hour),
		QueryStep:     getEnvDuration("QUERY_STEP", 5*time.Minute),
		MinSamples:    getEnvInt("MIN_SAMPLES", 100),

		CPUTargetPercentile:    getEnv("CPU_TARGET_PERCENTILE", "p95"),
		MemoryTargetPercentile: getEnv("MEMORY_TARGET_PERCENTILE", "p99"),
		HeadroomFactor:         getEnvFloat("HEADROOM_FACTOR", 1.2),
		LimitToRequestRatio:    getEnvFloat("LIMIT_TO_REQUEST_RATIO", 2.0),
		MinChangeThreshold:     getEnvFloat("MIN_CHANGE_THRESHOLD", 0.10),
		CPUGranularityMillis:   int64(getEnvInt("CPU_GRANULARITY_MILLIS", 10)),
		MemoryGranularityBytes: int64(getEnvInt("MEMORY_GRANULARITY_MIB", 1)) * 1024 * 1024,
		CPUFloorMillis:         int64(getEnvInt("CPU_FLOOR_MILLIS", 10)),
		MemoryFloorBytes:       int64(getEnvInt("MEMORY_FLOOR_MIB", 16)) * 1024 * 1024,
		CPUCeilingMillis:       int64(getEnvInt("CPU_CEILING_MILLIS", 16000)),
		MemoryCeilingBytes:     int64(getEnvInt("MEMORY_CEILING_MIB", 65536)) * 1024 * 1024,

		MaxDeltaMultiple: getEnvFloat("MAX_DELTA_MULTIPLE", 4.0),

		ConfirmationTTL: getEnvDuration("CONFIRMATION_TTL", 4*time.Hour),
		SweepInterval:   getEnvDuration("SWEEP_INTERVAL", time.Minute),

		StorageEnabled: getEnvBool("STORAGE_ENABLED", false),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		JiraURL:      getEnv("JIRA_URL", ""),
		JiraUsername: getEnv("JIRA_USERNAME", ""),
		JiraAPIToken: getEnv("JIRA_API_TOKEN", ""),
		JiraProject:  getEnv("JIRA_PROJECT", ""),

		SlackBotToken: getEnv("SLACK_BOT_TOKEN", ""),
		SlackChannel:  getEnv("SLACK_CHANNEL", ""),

		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Lookback <= 0 {
		return fmt.Errorf("LOOKBACK_WINDOW must be positive")
	}
	if c.QueryStep <= 0 {
		return fmt.Errorf("QUERY_STEP must be positive")
	}
	if c.HeadroomFactor < 1.0 {
		return fmt.Errorf("HEADROOM_FACTOR must be >= 1.0, got %.2f", c.HeadroomFactor)
	}
	if c.LimitToRequestRatio < 1.0 {
		return fmt.Errorf("LIMIT_TO_REQUEST_RATIO must be >= 1.0, got %.2f", c.LimitToRequestRatio)
	}
	if c.MinChangeThreshold < 0 || c.MinChangeThreshold >= 1 {
		return fmt.Errorf("MIN_CHANGE_THRESHOLD must be in [0, 1), got %.2f", c.MinChangeThreshold)
	}
	if c.MaxDeltaMultiple <= 1.0 {
		return fmt.Errorf("MAX_DELTA_MULTIPLE must be > 1.0, got %.2f", c.MaxDeltaMultiple)
	}
	if c.ConfirmationTTL <= 0 {
		return fmt.Errorf("CONFIRMATION_TTL must be positive")
	}
	if c.StorageEnabled && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set when storage is enabled")
	}
	return nil
}

// JiraConfigured returns true if all Jira credentials are set.
func (c *Config) JiraConfigured() bool {
	return c.JiraURL != "" && c.JiraUsername != "" && c.JiraAPIToken != "" && c.JiraProject != ""
}

// SlackConfigured returns true if Slack notification settings are set.
func (c *Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
