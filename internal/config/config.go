package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Dataset       DatasetConfig
	Model         ModelConfig
	ObjectStore   ObjectStoreConfig
	Journal       JournalConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatasetConfig struct {
	// Path is a local file or an s3://bucket/key URI.
	Path     string
	Table    string
	RowLimit int
}

type ModelConfig struct {
	Dir           string
	File          string
	Name          string
	BaseURL       string
	Device        string
	GPULayers     int
	Timeout       time.Duration
	MaxTokens     int
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
	Correction    bool
}

// Path is the weight file location before discovery.
func (m ModelConfig) Path() string {
	return filepath.Join(m.Dir, m.File)
}

type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
}

type JournalConfig struct {
	// DSN selects the Postgres journal; empty keeps the in-memory ring.
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	MemorySize      int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("NLQ_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid NLQ_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	err := errors.Join(
		applyString(lookup, "NLQ_SERVICE_NAME", &cfg.Service.Name),
		applyString(lookup, "NLQ_HTTP_ADDR", &cfg.HTTP.Address),
		applyDuration(lookup, "NLQ_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout),
		applyDuration(lookup, "NLQ_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout),
		applyDuration(lookup, "NLQ_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout),

		applyString(lookup, "NLQ_DATASET_PATH", &cfg.Dataset.Path),
		applyString(lookup, "NLQ_DATASET_TABLE", &cfg.Dataset.Table),
		applyInt(lookup, "NLQ_QUERY_ROW_LIMIT", &cfg.Dataset.RowLimit),

		applyString(lookup, "NLQ_MODEL_DIR", &cfg.Model.Dir),
		applyString(lookup, "NLQ_MODEL_FILE", &cfg.Model.File),
		applyString(lookup, "NLQ_MODEL_NAME", &cfg.Model.Name),
		applyString(lookup, "NLQ_LLM_BASE_URL", &cfg.Model.BaseURL),
		applyString(lookup, "NLQ_LLM_DEVICE", &cfg.Model.Device),
		applyInt(lookup, "NLQ_LLM_GPU_LAYERS", &cfg.Model.GPULayers),
		applyDuration(lookup, "NLQ_LLM_TIMEOUT", &cfg.Model.Timeout),
		applyInt(lookup, "NLQ_LLM_MAX_TOKENS", &cfg.Model.MaxTokens),
		applyFloat(lookup, "NLQ_LLM_TEMPERATURE", &cfg.Model.Temperature),
		applyInt(lookup, "NLQ_LLM_TOP_K", &cfg.Model.TopK),
		applyFloat(lookup, "NLQ_LLM_TOP_P", &cfg.Model.TopP),
		applyFloat(lookup, "NLQ_LLM_REPEAT_PENALTY", &cfg.Model.RepeatPenalty),
		applyBool(lookup, "NLQ_LLM_CORRECTION", &cfg.Model.Correction),

		applyString(lookup, "NLQ_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint),
		applyString(lookup, "NLQ_OBJECTSTORE_REGION", &cfg.ObjectStore.Region),
		applyString(lookup, "NLQ_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID),
		applyString(lookup, "NLQ_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey),
		applyBool(lookup, "NLQ_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL),

		applyString(lookup, "NLQ_JOURNAL_DSN", &cfg.Journal.DSN),
		applyInt(lookup, "NLQ_JOURNAL_MAX_OPEN_CONNS", &cfg.Journal.MaxOpenConns),
		applyInt(lookup, "NLQ_JOURNAL_MAX_IDLE_CONNS", &cfg.Journal.MaxIdleConns),
		applyDuration(lookup, "NLQ_JOURNAL_CONN_MAX_IDLE_TIME", &cfg.Journal.ConnMaxIdleTime),
		applyDuration(lookup, "NLQ_JOURNAL_CONN_MAX_LIFETIME", &cfg.Journal.ConnMaxLifetime),
		applyInt(lookup, "NLQ_JOURNAL_MEMORY_SIZE", &cfg.Journal.MemorySize),

		applyBool(lookup, "NLQ_LOG_JSON", &cfg.Observability.LogJSON),
		applyLogLevel(lookup, "NLQ_LOG_LEVEL", &cfg.Observability.LogLevel),
		applyBool(lookup, "NLQ_AUTH_REQUIRED", &cfg.Auth.Required),
		applyString(lookup, "NLQ_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys),
	)
	if err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Dataset.Table == "" {
		return Config{}, fmt.Errorf("dataset table name is required")
	}
	if cfg.Dataset.RowLimit < 0 {
		return Config{}, fmt.Errorf("invalid NLQ_QUERY_ROW_LIMIT: %d", cfg.Dataset.RowLimit)
	}
	switch cfg.Model.Device {
	case "auto", "gpu", "cpu":
	default:
		return Config{}, fmt.Errorf("invalid NLQ_LLM_DEVICE: %q", cfg.Model.Device)
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "nlq-api"},
		HTTP: HTTPConfig{
			Address:      ":5000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Dataset: DatasetConfig{
			Path:  filepath.Join("basedados", "dados_anonimizados3.xlsx"),
			Table: "tabela",
		},
		Model: ModelConfig{
			Dir:           "models",
			File:          "Meta-Llama-3-8B-Instruct.Q4_K_M.gguf",
			Name:          "llama3:8b-instruct-q4_K_M",
			BaseURL:       "http://localhost:11434",
			Device:        "auto",
			GPULayers:     999,
			Timeout:       5 * time.Minute,
			MaxTokens:     250,
			Temperature:   0.1,
			TopK:          40,
			TopP:          0.4,
			RepeatPenalty: 1.18,
			Correction:    true,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        "localhost:9000",
			Region:          "us-east-1",
			AccessKeyID:     "minio",
			SecretAccessKey: "miniostorage",
		},
		Journal: JournalConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			MemorySize:      200,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":15000"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore = ObjectStoreConfig{Region: "us-east-1", UseSSL: true}
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

// DiscoverFile resolves a relative path against the working directory and the
// executable directory, walking up to three parents from each. The path is
// returned unchanged when nothing matches.
func DiscoverFile(path string) string {
	var roots []string
	if wd, err := os.Getwd(); err == nil {
		roots = append(roots, wd)
	}
	if exe, err := os.Executable(); err == nil {
		roots = append(roots, filepath.Dir(exe))
	}
	if found, ok := discoverFile(path, roots); ok {
		return found
	}
	return path
}

const discoverParentDepth = 3

func discoverFile(path string, roots []string) (string, bool) {
	if path == "" {
		return "", false
	}
	if filepath.IsAbs(path) {
		return path, fileExists(path)
	}
	for _, root := range roots {
		dir := root
		for depth := 0; depth <= discoverParentDepth; depth++ {
			candidate := filepath.Join(dir, path)
			if fileExists(candidate) {
				return candidate, true
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
