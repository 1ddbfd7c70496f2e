package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// FromEnv builds a Config from INFERFLOW_* environment variables, leaving
// protocol defaults to WithDefaults. Malformed numeric or duration values
// fall back to the zero value rather than aborting startup; Validate catches
// anything that matters.
func FromEnv() Config {
	return Config{
		Broker:             envString("INFERFLOW_BROKER", "rabbitmq"),
		RabbitMQURL:        os.Getenv("INFERFLOW_RABBITMQ_URL"),
		KafkaBrokers:       envList("INFERFLOW_KAFKA_BROKERS"),
		KafkaConsumerGroup: os.Getenv("INFERFLOW_KAFKA_CONSUMER_GROUP"),
		NATSURL:            os.Getenv("INFERFLOW_NATS_URL"),

		RequestQueue:  os.Getenv("INFERFLOW_REQUEST_QUEUE"),
		ResponseQueue: os.Getenv("INFERFLOW_RESPONSE_QUEUE"),
		PoisonQueue:   os.Getenv("INFERFLOW_POISON_QUEUE"),

		ReconnectDelay: envDuration("INFERFLOW_RECONNECT_DELAY"),
		RegistryTTL:    envDuration("INFERFLOW_REGISTRY_TTL"),

		RequeueOnFailure: envBool("INFERFLOW_REQUEUE_ON_FAILURE"),
		MaxDeliveries:    envInt("INFERFLOW_MAX_DELIVERIES"),

		PromptCostPerMillion:     envFloat("INFERFLOW_PROMPT_COST_PER_MILLION"),
		CompletionCostPerMillion: envFloat("INFERFLOW_COMPLETION_COST_PER_MILLION"),

		VLLMURL:      os.Getenv("INFERFLOW_VLLM_URL"),
		OllamaURL:    os.Getenv("INFERFLOW_OLLAMA_URL"),
		OllamaModels: envList("INFERFLOW_OLLAMA_MODELS"),

		RedisAddr:     os.Getenv("INFERFLOW_REDIS_ADDR"),
		RedisPassword: os.Getenv("INFERFLOW_REDIS_PASSWORD"),
		RedisDB:       envInt("INFERFLOW_REDIS_DB"),

		MetricsEnabled: envBool("INFERFLOW_METRICS_ENABLED"),
		MetricsPort:    envInt("INFERFLOW_METRICS_PORT"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}

func envFloat(key string) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return 0
	}
	return v
}

func envDuration(key string) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}
