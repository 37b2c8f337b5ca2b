package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/Brownie44l1/fancy-fashion/internal/labels"
)

// DefaultModelVersion labels metrics when neither the environment nor the
// artifact names a version.
const DefaultModelVersion = "random"

type Config struct {
	Port             string
	ModelURI         string
	Labels           string
	ModelVersion     string
	RecordConfidence bool
	SessionPoolSize  int
	OnnxRuntimeLib   string
	ModelCacheDir    string
	AWSRegion        string
	S3Endpoint       string
	Debug            bool
}

// Load reads the configuration from the environment and an optional .env
// file in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		ModelURI:         getEnv("MODEL_URI", "./model.json"),
		Labels:           getEnv("LABELS", labels.VariantGarments),
		ModelVersion:     getEnv("MODEL_VERSION", ""),
		RecordConfidence: getEnvBool("RECORD_CONFIDENCE", true),
		SessionPoolSize:  getEnvInt("SESSION_POOL_SIZE", runtime.NumCPU()),
		OnnxRuntimeLib:   getEnv("ONNXRUNTIME_LIB", ""),
		ModelCacheDir:    getEnv("MODEL_CACHE_DIR", ""),
		AWSRegion:        getEnv("AWS_REGION", ""),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		Debug:            getEnvBool("DEBUG", false),
	}

	return cfg, cfg.Validate()
}

// Validate applies defaults for empty values and rejects settings the
// service cannot start with.
func (c *Config) Validate() error {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.Labels == "" {
		c.Labels = labels.VariantGarments
	}
	if c.SessionPoolSize <= 0 {
		c.SessionPoolSize = runtime.NumCPU()
	}

	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		return fmt.Errorf("invalid PORT %q", c.Port)
	}
	if strings.TrimSpace(c.ModelURI) == "" {
		return fmt.Errorf("MODEL_URI is required")
	}
	if _, err := labels.ByName(c.Labels); err != nil {
		return fmt.Errorf("invalid LABELS: %w", err)
	}
	return nil
}

// LabelMapping returns the label table selected by LABELS.
func (c *Config) LabelMapping() *labels.Mapping {
	m, err := labels.ByName(c.Labels)
	if err != nil {
		return labels.Garments
	}
	return m
}

// ResolveModelVersion prefers MODEL_VERSION over the artifact's own version.
func (c *Config) ResolveModelVersion(artifactVersion string) string {
	if c.ModelVersion != "" {
		return c.ModelVersion
	}
	if artifactVersion != "" {
		return artifactVersion
	}
	return DefaultModelVersion
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	value = strings.ToLower(strings.TrimSpace(value))
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}
