package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/medguard-ai/medguard/aggregate"
	"github.com/medguard-ai/medguard/analysis"
	"github.com/medguard-ai/medguard/storage"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Storage     storage.Config
	Scorer      ScorerConfig
	Embedder    EmbedderConfig
	VectorDB    VectorDBConfig
	Aggregation AggregationConfig
	Batch       BatchConfig
	Upload      UploadConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// StoreConfig selects the scan job store and its retention.
type StoreConfig struct {
	Type             string // "memory", "gorm" or "redis"
	TTL              time.Duration
	EvictionSchedule string
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver         string
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	Path           string
	MaxOpenConns   int
	MaxIdleConns   int
	AutoMigrate    bool
	MigrationsPath string
}

// RedisConfig holds redis connection configuration.
type RedisConfig struct {
	URL    string
	Prefix string
}

// ScorerConfig selects the per-photo scorer.
type ScorerConfig struct {
	Type    string // "process" or "similarity"
	Command string
	Args    []string
	Timeout time.Duration
	WorkDir string
}

// EmbedderConfig selects the image embedder.
type EmbedderConfig struct {
	Type      string // "hash" or "process"
	Command   string
	Args      []string
	Timeout   time.Duration
	Dimension int
}

// VectorDBConfig holds reference catalog configuration.
type VectorDBConfig struct {
	CatalogPath string
	TopK        int
	Boundary    float64
}

// AggregationConfig holds score aggregation parameters.
type AggregationConfig struct {
	Threshold        float64
	Offset           float64
	Sensitivity      float64
	BatchPolicy      string
	SequentialPolicy string
	Seed             int64
}

// BatchConfig holds batch processing configuration.
type BatchConfig struct {
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Workers   int
	QueueSize int
}

// UploadConfig holds upload limits.
type UploadConfig struct {
	MaxSize int64
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("MEDGUARD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config

	config.Server.Host = v.GetString("server.host")
	config.Server.Port = v.GetInt("server.port")
	config.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	config.Server.WriteTimeout = v.GetDuration("server.write_timeout")
	config.Server.ShutdownTimeout = v.GetDuration("server.shutdown_timeout")

	config.Log.Level = v.GetString("log.level")

	config.Store.Type = strings.ToLower(v.GetString("store.type"))
	config.Store.TTL = v.GetDuration("store.ttl")
	config.Store.EvictionSchedule = v.GetString("store.eviction_schedule")

	config.Database.Driver = v.GetString("database.driver")
	config.Database.Host = v.GetString("database.host")
	config.Database.Port = v.GetInt("database.port")
	config.Database.User = v.GetString("database.user")
	config.Database.Password = v.GetString("database.password")
	config.Database.Database = v.GetString("database.database")
	config.Database.Path = v.GetString("database.path")
	config.Database.MaxOpenConns = v.GetInt("database.max_open_conns")
	config.Database.MaxIdleConns = v.GetInt("database.max_idle_conns")
	config.Database.AutoMigrate = v.GetBool("database.auto_migrate")
	config.Database.MigrationsPath = v.GetString("database.migrations_path")

	config.Redis.URL = v.GetString("redis.url")
	config.Redis.Prefix = v.GetString("redis.prefix")

	if err := v.UnmarshalKey("storage", &config.Storage); err != nil {
		return nil, fmt.Errorf("failed to parse storage config: %w", err)
	}

	config.Scorer.Type = strings.ToLower(v.GetString("scorer.type"))
	config.Scorer.Command = v.GetString("scorer.command")
	config.Scorer.Args = v.GetStringSlice("scorer.args")
	config.Scorer.Timeout = v.GetDuration("scorer.timeout")
	config.Scorer.WorkDir = v.GetString("scorer.workdir")

	config.Embedder.Type = strings.ToLower(v.GetString("embedder.type"))
	config.Embedder.Command = v.GetString("embedder.command")
	config.Embedder.Args = v.GetStringSlice("embedder.args")
	config.Embedder.Timeout = v.GetDuration("embedder.timeout")
	config.Embedder.Dimension = v.GetInt("embedder.dimension")

	config.VectorDB.CatalogPath = v.GetString("vectordb.catalog_path")
	config.VectorDB.TopK = v.GetInt("vectordb.top_k")
	config.VectorDB.Boundary = v.GetFloat64("vectordb.boundary")

	config.Aggregation.Threshold = v.GetFloat64("aggregation.threshold")
	config.Aggregation.Offset = v.GetFloat64("aggregation.offset")
	config.Aggregation.Sensitivity = v.GetFloat64("aggregation.sensitivity")
	config.Aggregation.BatchPolicy = v.GetString("aggregation.batch_policy")
	config.Aggregation.SequentialPolicy = v.GetString("aggregation.sequential_policy")
	config.Aggregation.Seed = v.GetInt64("aggregation.seed")

	config.Batch.MinDelay = v.GetDuration("batch.min_delay")
	config.Batch.MaxDelay = v.GetDuration("batch.max_delay")
	config.Batch.Workers = v.GetInt("batch.workers")
	config.Batch.QueueSize = v.GetInt("batch.queue_size")

	config.Upload.MaxSize = v.GetInt64("upload.max_size")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	// Sequential uploads wait for the scorer, which may take up to its timeout.
	v.SetDefault("server.write_timeout", "150s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("log.level", "info")

	v.SetDefault("store.type", "memory")
	v.SetDefault("store.ttl", "24h")
	v.SetDefault("store.eviction_schedule", "@every 5m")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.database", "medguard")
	v.SetDefault("database.path", "medguard.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.migrations_path", "")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.prefix", "medguard:scan:")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_dir", "./uploads")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.presign_expiry", "15m")

	v.SetDefault("scorer.type", "process")
	v.SetDefault("scorer.command", "python")
	v.SetDefault("scorer.args", []string{"inference.py", "--image", "{image}"})
	v.SetDefault("scorer.timeout", "120s")
	v.SetDefault("scorer.workdir", "")

	v.SetDefault("embedder.type", "hash")
	v.SetDefault("embedder.command", "python")
	v.SetDefault("embedder.args", []string{"embed.py", "--image", "{image}"})
	v.SetDefault("embedder.timeout", "60s")
	v.SetDefault("embedder.dimension", 32)

	v.SetDefault("vectordb.catalog_path", "")
	v.SetDefault("vectordb.top_k", 5)
	v.SetDefault("vectordb.boundary", 0.85)

	v.SetDefault("aggregation.threshold", aggregate.DefaultThreshold)
	v.SetDefault("aggregation.offset", aggregate.DefaultOffset)
	v.SetDefault("aggregation.sensitivity", aggregate.DefaultSensitivity)
	v.SetDefault("aggregation.batch_policy", string(aggregate.PolicyAnomaly))
	v.SetDefault("aggregation.sequential_policy", string(aggregate.PolicySimilarity))
	v.SetDefault("aggregation.seed", 0)

	v.SetDefault("batch.min_delay", "3s")
	v.SetDefault("batch.max_delay", "8s")
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.queue_size", 64)

	v.SetDefault("upload.max_size", 5<<20)
}

// Validate checks the selectors and the processing configuration.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "gorm", "redis":
	default:
		return fmt.Errorf("unsupported store type: %q", c.Store.Type)
	}
	switch c.Scorer.Type {
	case "process", "similarity":
	default:
		return fmt.Errorf("unsupported scorer type: %q", c.Scorer.Type)
	}
	switch c.Embedder.Type {
	case "hash", "process":
	default:
		return fmt.Errorf("unsupported embedder type: %q", c.Embedder.Type)
	}
	if c.Store.TTL <= 0 {
		return fmt.Errorf("store ttl must be positive, got %s", c.Store.TTL)
	}

	if _, err := c.AnalysisConfig(); err != nil {
		return err
	}
	return nil
}

// Policy builds the aggregation policy of the named kind.
func (a AggregationConfig) Policy(name string) (aggregate.Policy, error) {
	kind, err := aggregate.ParsePolicyKind(name)
	if err != nil {
		return aggregate.Policy{}, err
	}
	if kind == aggregate.PolicySimilarity {
		return aggregate.SimilarityPolicy(a.Offset, a.Sensitivity), nil
	}
	return aggregate.AnomalyPolicy(a.Threshold), nil
}

// AnalysisConfig converts the batch and aggregation sections.
func (c *Config) AnalysisConfig() (analysis.Config, error) {
	batch, err := c.Aggregation.Policy(c.Aggregation.BatchPolicy)
	if err != nil {
		return analysis.Config{}, fmt.Errorf("batch policy: %w", err)
	}
	sequential, err := c.Aggregation.Policy(c.Aggregation.SequentialPolicy)
	if err != nil {
		return analysis.Config{}, fmt.Errorf("sequential policy: %w", err)
	}

	cfg := analysis.Config{
		MinDelay:         c.Batch.MinDelay,
		MaxDelay:         c.Batch.MaxDelay,
		Workers:          c.Batch.Workers,
		QueueSize:        c.Batch.QueueSize,
		BatchPolicy:      batch,
		SequentialPolicy: sequential,
	}
	if err := cfg.Validate(); err != nil {
		return analysis.Config{}, err
	}
	return cfg, nil
}
