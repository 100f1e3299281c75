// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full configuration for the orchestrator and worker binaries.
type Config struct {
	Server    ServerConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Agents    AgentConfig
	Tasks     TaskConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	LLM       LLMConfig
}

// ServerConfig controls the HTTP bind address.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns the host:port bind address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig controls the event bus connection.
type KafkaConfig struct {
	BootstrapServers []string
	GroupID          string
}

// RedisConfig controls the state store connection.
type RedisConfig struct {
	URL string
}

// AgentConfig controls agent lifecycle management.
type AgentConfig struct {
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	MaxConcurrentAgents int
	MaxTasksPerAgent    int
}

// TaskConfig controls task execution and retry policy.
type TaskConfig struct {
	DefaultTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	QueueMaxSize   int
}

// SchedulerConfig controls assignment strategy and aging.
type SchedulerConfig struct {
	Strategy    string
	AgingFactor float64
	Interval    time.Duration
	BatchSize   int
}

// RateLimitConfig controls the public API rate limiter.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// LLMConfig controls the external model endpoint used by worker runners.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// LoadFromEnv reads the full configuration from environment variables,
// applying documented defaults for everything unset.
func LoadFromEnv() (Config, error) {
	port, err := strconv.Atoi(getEnvOrDefault("ORCHESTRATOR_PORT", "8000"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid ORCHESTRATOR_PORT: %w", err)
	}

	heartbeatInterval, err := envSeconds("AGENT_HEARTBEAT_INTERVAL", 30)
	if err != nil {
		return Config{}, err
	}
	heartbeatTimeout, err := envSeconds("AGENT_HEARTBEAT_TIMEOUT", 90)
	if err != nil {
		return Config{}, err
	}
	taskTimeout, err := envSeconds("TASK_DEFAULT_TIMEOUT", 300)
	if err != nil {
		return Config{}, err
	}
	retryDelay, err := envSeconds("TASK_RETRY_DELAY", 5)
	if err != nil {
		return Config{}, err
	}
	rateWindow, err := envSeconds("RATE_LIMIT_WINDOW", 60)
	if err != nil {
		return Config{}, err
	}

	maxAgents, _ := strconv.Atoi(getEnvOrDefault("MAX_CONCURRENT_AGENTS", "100"))
	maxTasksPerAgent, _ := strconv.Atoi(getEnvOrDefault("MAX_TASKS_PER_AGENT", "5"))
	maxRetries, _ := strconv.Atoi(getEnvOrDefault("TASK_MAX_RETRIES", "3"))
	queueMax, _ := strconv.Atoi(getEnvOrDefault("TASK_QUEUE_MAX_SIZE", "10000"))
	rateRequests, _ := strconv.Atoi(getEnvOrDefault("RATE_LIMIT_REQUESTS", "100"))
	batchSize, _ := strconv.Atoi(getEnvOrDefault("SCHEDULER_BATCH_SIZE", "10"))

	agingFactor, err := strconv.ParseFloat(getEnvOrDefault("SCHEDULER_AGING_FACTOR", "0.1"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid SCHEDULER_AGING_FACTOR: %w", err)
	}

	return Config{
		Server: ServerConfig{
			Host: getEnvOrDefault("ORCHESTRATOR_HOST", "0.0.0.0"),
			Port: port,
		},
		Kafka: KafkaConfig{
			BootstrapServers: splitCSV(getEnvOrDefault("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
			GroupID:          getEnvOrDefault("KAFKA_GROUP_ID", "agentmesh"),
		},
		Redis: RedisConfig{
			URL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		},
		Agents: AgentConfig{
			HeartbeatInterval:   heartbeatInterval,
			HeartbeatTimeout:    heartbeatTimeout,
			MaxConcurrentAgents: maxAgents,
			MaxTasksPerAgent:    maxTasksPerAgent,
		},
		Tasks: TaskConfig{
			DefaultTimeout: taskTimeout,
			MaxRetries:     maxRetries,
			RetryDelay:     retryDelay,
			QueueMaxSize:   queueMax,
		},
		Scheduler: SchedulerConfig{
			Strategy:    getEnvOrDefault("SCHEDULER_STRATEGY", "priority"),
			AgingFactor: agingFactor,
			Interval:    time.Second,
			BatchSize:   batchSize,
		},
		RateLimit: RateLimitConfig{
			Requests: rateRequests,
			Window:   rateWindow,
		},
		LLM: LLMConfig{
			BaseURL: getEnvOrDefault("LLM_BASE_URL", ""),
			APIKey:  os.Getenv("LLM_API_KEY"),
			Model:   getEnvOrDefault("LLM_MODEL", "claude-sonnet-4-20250514"),
		},
	}, nil
}

// DatabaseURL returns the persistent-store DSN, empty when unset.
func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func envSeconds(key string, def int) (time.Duration, error) {
	raw := getEnvOrDefault(key, strconv.Itoa(def))
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return time.Duration(secs) * time.Second, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
