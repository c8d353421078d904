package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config application configuration
type Config struct {
	Port         int
	Redis        RedisConfig
	Comfy        ComfyConfig
	Credits      CreditsConfig
	Storage      StorageConfig
	Orchestrator OrchestratorConfig

	// DatabaseURL is the postgres connection string for the credits ledger.
	// When empty the server falls back to an in-memory ledger.
	DatabaseURL string
}

// RedisConfig Redis configuration for the task progress store
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ComfyConfig remote processor configuration
type ComfyConfig struct {
	Endpoint    string        // base address, e.g. http://127.0.0.1:8188
	BearerToken string        // optional auth token
	CallTimeout time.Duration // per-HTTP-call timeout
	PollTimeout time.Duration // wall-clock budget for a remote job

	// workflow template paths per processing type
	TextToImageWorkflow string
	StyleWorkflow       string
	UpscaleWorkflow     string
}

// CreditsConfig credits ledger policy
type CreditsConfig struct {
	CostPerOperation int
	StartingGrant    int
	RefundOnFailure  bool
}

// StorageConfig artifact storage configuration
type StorageConfig struct {
	Backend   string // "local" or "s3"
	UploadDir string
	BaseURL   string // URL prefix for local artifacts

	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	S3UseSSL    bool
}

// OrchestratorConfig background execution configuration
type OrchestratorConfig struct {
	WorkerPoolSize int
}

// Load loads configuration from the environment, reading .env first if present
func Load() *Config {
	// .env is optional; deployments usually set the environment directly
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnvInt("PORT", 8080),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Comfy: ComfyConfig{
			Endpoint:            getEnv("COMFY_ENDPOINT", "http://127.0.0.1:8188"),
			BearerToken:         getEnv("COMFY_BEARER_TOKEN", ""),
			CallTimeout:         getEnvSeconds("COMFY_CALL_TIMEOUT", 30*time.Second),
			PollTimeout:         getEnvSeconds("COMFY_POLL_TIMEOUT", 120*time.Second),
			TextToImageWorkflow: getEnv("COMFY_TEXT_TO_IMAGE_WORKFLOW", "workflow/text_to_image_workflow.json"),
			StyleWorkflow:       getEnv("COMFY_STYLE_WORKFLOW", "workflow/style_transfer_workflow.json"),
			UpscaleWorkflow:     getEnv("COMFY_UPSCALE_WORKFLOW", "workflow/upscale_workflow.json"),
		},
		Credits: CreditsConfig{
			CostPerOperation: getEnvInt("CREDITS_COST_PER_OPERATION", 10),
			StartingGrant:    getEnvInt("CREDITS_STARTING_GRANT", 50),
			RefundOnFailure:  getEnvBool("REFUND_ON_FAILURE", false),
		},
		Storage: StorageConfig{
			Backend:     getEnv("ARTIFACT_BACKEND", "local"),
			UploadDir:   getEnv("UPLOAD_DIR", "./uploads"),
			BaseURL:     getEnv("ARTIFACT_BASE_URL", "/api/v1/files"),
			S3Endpoint:  getEnv("S3_ENDPOINT", ""),
			S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
			S3SecretKey: getEnv("S3_SECRET_KEY", ""),
			S3Bucket:    getEnv("S3_BUCKET", "artifacts"),
			S3UseSSL:    getEnvBool("S3_USE_SSL", false),
		},
		Orchestrator: OrchestratorConfig{
			WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 8),
		},
	}

	return cfg
}

// ValidateStorageConfig validates artifact storage configuration
func (c *Config) ValidateStorageConfig() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.UploadDir == "" {
			return ErrUploadDirRequired
		}
	case "s3":
		if c.Storage.S3Endpoint == "" {
			return ErrS3EndpointRequired
		}
		if c.Storage.S3AccessKey == "" || c.Storage.S3SecretKey == "" {
			return ErrS3CredentialsRequired
		}
	default:
		return fmt.Errorf("unsupported artifact backend: %s", c.Storage.Backend)
	}
	return nil
}

// configuration validation errors
var (
	ErrUploadDirRequired     = fmt.Errorf("upload directory is required for local artifact backend")
	ErrS3EndpointRequired    = fmt.Errorf("s3 endpoint is required for s3 artifact backend")
	ErrS3CredentialsRequired = fmt.Errorf("s3 access key and secret key are required")
)

// getEnv gets environment variable, returns default value if not exists
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets integer environment variable, returns default value if not exists
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets boolean environment variable, returns default value if not exists
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvSeconds gets a duration environment variable expressed in seconds
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return time.Duration(intValue) * time.Second
		}
	}
	return defaultValue
}
