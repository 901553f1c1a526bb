package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr         string
	LogLevel     string
	RedisURL     string
	DatabaseURL  string
	OTLPEndpoint string

	AWSRegion      string
	TaskQueueURL   string
	SNSTopicARN    string
	UseAWSSecrets  bool
	BedrockEnabled bool

	// Generation vendors reached over HTTP. The API key fields hold
	// env-sourced keys for local development; with UseAWSSecrets the
	// keys come from Secrets Manager instead. Vendors without a
	// dedicated field route through the default endpoint, an
	// OpenAI-compatible aggregator gateway.
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	AnthropicBaseURL  string
	AnthropicAPIKey   string
	StabilityBaseURL  string
	StabilityAPIKey   string
	ElevenLabsBaseURL string
	ElevenLabsAPIKey  string
	DefaultGenBaseURL string
	DefaultGenAPIKey  string

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerWindow           time.Duration
	UseDistributedBreaker   bool

	// Task runner
	WorkerCount    int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryCapDelay  time.Duration

	// Graceful shutdown
	ShutdownTimeout time.Duration
	DrainTimeout    time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:         getEnv("ADDR", ":8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		RedisURL:     getEnv("REDIS_URL", ""),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		OTLPEndpoint: getEnv("OTLP_ENDPOINT", ""),

		AWSRegion:      getEnv("AWS_REGION", ""),
		TaskQueueURL:   getEnv("TASK_QUEUE_URL", ""),
		SNSTopicARN:    getEnv("SNS_TOPIC_ARN", ""),
		UseAWSSecrets:  getEnv("USE_AWS_SECRETS", "false") == "true",
		BedrockEnabled: getEnv("BEDROCK_ENABLED", "true") == "true",

		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com"),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		AnthropicBaseURL:  getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
		AnthropicAPIKey:   getEnv("ANTHROPIC_API_KEY", ""),
		StabilityBaseURL:  getEnv("STABILITY_BASE_URL", "https://api.stability.ai"),
		StabilityAPIKey:   getEnv("STABILITY_API_KEY", ""),
		ElevenLabsBaseURL: getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		DefaultGenBaseURL: getEnv("DEFAULT_GEN_BASE_URL", "http://localhost:8081"),
		DefaultGenAPIKey:  getEnv("DEFAULT_GEN_API_KEY", ""),

		BreakerFailureThreshold: getIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerWindow:           getDurationEnv("BREAKER_WINDOW", 60*time.Second),
		UseDistributedBreaker:   getEnv("USE_DISTRIBUTED_CB", "false") == "true",

		WorkerCount:    getIntEnv("WORKER_COUNT", 4),
		MaxRetries:     getIntEnv("MAX_RETRIES", 3),
		RetryBaseDelay: getDurationEnv("RETRY_BASE_DELAY", 5*time.Second),
		RetryCapDelay:  getDurationEnv("RETRY_CAP_DELAY", 5*time.Minute),

		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DrainTimeout:    getDurationEnv("DRAIN_TIMEOUT", 15*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
