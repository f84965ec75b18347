package config

import (
	"log"
	"os"
	"strings"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	RunStoreType    string
	DynamoTable     string
	DynamoRunIndex  string
	DatabaseURL     string
	BedrockModelID  string
	DispatcherType  string
	WorkerFunction  string
	SQSQueueURL     string
	Env             string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	runStore := normalizeRunStoreType(getEnv("RUN_STORE", "memory"))

	if env == "production" && runStore == "postgres" && dbURL == "" {
		log.Printf("DATABASE_URL is required when RUN_STORE=postgres in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "*")),
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		RunStoreType:    runStore,
		DynamoTable:     getEnv("DYNAMO_TABLE", ""),
		DynamoRunIndex:  getEnv("DYNAMO_RUN_INDEX", "runId-index"),
		DatabaseURL:     dbURL,
		BedrockModelID:  getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-5-sonnet-20240620-v1:0"),
		DispatcherType:  normalizeDispatcherType(getEnv("DISPATCHER", "inproc")),
		WorkerFunction:  getEnv("WORKER_FUNCTION", ""),
		SQSQueueURL:     getEnv("SQS_QUEUE_URL", ""),
		Env:             env,
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeRunStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dynamodb", "dynamo":
		return "dynamodb"
	case "postgres", "pg":
		return "postgres"
	default:
		return "memory"
	}
}

func normalizeDispatcherType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "lambda":
		return "lambda"
	case "sqs":
		return "sqs"
	default:
		return "inproc"
	}
}
