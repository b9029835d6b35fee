package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	AWS      AWSConfig      `mapstructure:"aws"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	OTel     OTelConfig     `mapstructure:"otel"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// RedisConfig holds Redis connection settings for the tenant directory and
// system settings store
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// DatabaseConfig holds PostgreSQL settings for the pipeline run store
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// KafkaConfig holds Kafka/Redpanda connection settings for the event bus
type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers"`
	ConsumerGroup      string   `mapstructure:"consumer_group"`
	ClientID           string   `mapstructure:"client_id"`
	ObjectCreatedTopic string   `mapstructure:"object_created_topic"`
	ProvisioningTopic  string   `mapstructure:"provisioning_topic"`
}

// JWTConfig holds token issuing settings
type JWTConfig struct {
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	SigningKeyPath string        `mapstructure:"signing_key_path"`
	KeySetBaseURL  string        `mapstructure:"key_set_base_url"`
}

// AWSConfig holds settings for the managed ML platform collaborators
type AWSConfig struct {
	Region             string        `mapstructure:"region"`
	PooledEndpointName string        `mapstructure:"pooled_endpoint_name"`
	PooledDataBucket   string        `mapstructure:"pooled_data_bucket"`
	PooledModelBucket  string        `mapstructure:"pooled_model_bucket"`
	ScopedRoleARN      string        `mapstructure:"scoped_role_arn"`
	ScopedSessionTTL   time.Duration `mapstructure:"scoped_session_ttl"`
}

// PipelineConfig holds training pipeline settings. Hyperparameters are opaque
// knobs passed through to the training job unmodified.
type PipelineConfig struct {
	EvaluationThreshold float64       `mapstructure:"evaluation_threshold"`
	ModelPackageGroup   string        `mapstructure:"model_package_group"`
	JobPollInterval     time.Duration `mapstructure:"job_poll_interval"`
	JobTimeout          time.Duration `mapstructure:"job_timeout"`
	TrainingImage       string        `mapstructure:"training_image"`
	TrainingInstance    string        `mapstructure:"training_instance"`

	// XGBoost hyperparameters
	Objective      string  `mapstructure:"objective"`
	NumRound       int     `mapstructure:"num_round"`
	MaxDepth       int     `mapstructure:"max_depth"`
	Eta            float64 `mapstructure:"eta"`
	Gamma          float64 `mapstructure:"gamma"`
	MinChildWeight float64 `mapstructure:"min_child_weight"`
	Subsample      float64 `mapstructure:"subsample"`
}

// Hyperparameters returns the training knobs as the flat string map the job
// runner expects.
func (p *PipelineConfig) Hyperparameters() map[string]string {
	return map[string]string{
		"objective":        p.Objective,
		"num_round":        fmt.Sprintf("%d", p.NumRound),
		"max_depth":        fmt.Sprintf("%d", p.MaxDepth),
		"eta":              fmt.Sprintf("%g", p.Eta),
		"gamma":            fmt.Sprintf("%g", p.Gamma),
		"min_child_weight": fmt.Sprintf("%g", p.MinChildWeight),
		"subsample":        fmt.Sprintf("%g", p.Subsample),
	}
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServiceName   string `mapstructure:"service_name"`
	CollectorAddr string `mapstructure:"collector_addr"`
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional; environment variables alone are fine
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			_ = err
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWithPath loads configuration from a specific env file
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "mlaas-platform")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "mlaas")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 20)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "mlaas-pipeline")
	v.SetDefault("KAFKA_CLIENT_ID", "mlaas-platform")
	v.SetDefault("KAFKA_OBJECT_CREATED_TOPIC", "storage.object-created")
	v.SetDefault("KAFKA_PROVISIONING_TOPIC", "tenant.provisioning")

	// JWT defaults
	v.SetDefault("JWT_ISSUER", "mlaas-platform")
	v.SetDefault("JWT_ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("JWT_SIGNING_KEY_PATH", "")
	v.SetDefault("JWT_KEY_SET_BASE_URL", "")

	// AWS defaults
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_POOLED_ENDPOINT_NAME", "mlaas-pooled-endpoint")
	v.SetDefault("AWS_POOLED_DATA_BUCKET", "mlaas-pooled-data")
	v.SetDefault("AWS_POOLED_MODEL_BUCKET", "mlaas-pooled-models")
	v.SetDefault("AWS_SCOPED_ROLE_ARN", "")
	v.SetDefault("AWS_SCOPED_SESSION_TTL", "15m")

	// Pipeline defaults
	v.SetDefault("PIPELINE_EVALUATION_THRESHOLD", 0.5)
	v.SetDefault("PIPELINE_MODEL_PACKAGE_GROUP", "mlaas-models")
	v.SetDefault("PIPELINE_JOB_POLL_INTERVAL", "30s")
	v.SetDefault("PIPELINE_JOB_TIMEOUT", "30m")
	v.SetDefault("PIPELINE_TRAINING_IMAGE", "")
	v.SetDefault("PIPELINE_TRAINING_INSTANCE", "ml.m5.xlarge")
	v.SetDefault("PIPELINE_OBJECTIVE", "reg:linear")
	v.SetDefault("PIPELINE_NUM_ROUND", 50)
	v.SetDefault("PIPELINE_MAX_DEPTH", 5)
	v.SetDefault("PIPELINE_ETA", 0.2)
	v.SetDefault("PIPELINE_GAMMA", 4)
	v.SetDefault("PIPELINE_MIN_CHILD_WEIGHT", 6)
	v.SetDefault("PIPELINE_SUBSAMPLE", 0.7)

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "mlaas-platform")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")

	// Kafka
	brokersStr := v.GetString("KAFKA_BROKERS")
	cfg.Kafka.Brokers = strings.Split(brokersStr, ",")
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.ObjectCreatedTopic = v.GetString("KAFKA_OBJECT_CREATED_TOPIC")
	cfg.Kafka.ProvisioningTopic = v.GetString("KAFKA_PROVISIONING_TOPIC")

	// JWT
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")
	cfg.JWT.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TOKEN_TTL")
	cfg.JWT.SigningKeyPath = v.GetString("JWT_SIGNING_KEY_PATH")
	cfg.JWT.KeySetBaseURL = v.GetString("JWT_KEY_SET_BASE_URL")

	// AWS
	cfg.AWS.Region = v.GetString("AWS_REGION")
	cfg.AWS.PooledEndpointName = v.GetString("AWS_POOLED_ENDPOINT_NAME")
	cfg.AWS.PooledDataBucket = v.GetString("AWS_POOLED_DATA_BUCKET")
	cfg.AWS.PooledModelBucket = v.GetString("AWS_POOLED_MODEL_BUCKET")
	cfg.AWS.ScopedRoleARN = v.GetString("AWS_SCOPED_ROLE_ARN")
	cfg.AWS.ScopedSessionTTL = v.GetDuration("AWS_SCOPED_SESSION_TTL")

	// Pipeline
	cfg.Pipeline.EvaluationThreshold = v.GetFloat64("PIPELINE_EVALUATION_THRESHOLD")
	cfg.Pipeline.ModelPackageGroup = v.GetString("PIPELINE_MODEL_PACKAGE_GROUP")
	cfg.Pipeline.JobPollInterval = v.GetDuration("PIPELINE_JOB_POLL_INTERVAL")
	cfg.Pipeline.JobTimeout = v.GetDuration("PIPELINE_JOB_TIMEOUT")
	cfg.Pipeline.TrainingImage = v.GetString("PIPELINE_TRAINING_IMAGE")
	cfg.Pipeline.TrainingInstance = v.GetString("PIPELINE_TRAINING_INSTANCE")
	cfg.Pipeline.Objective = v.GetString("PIPELINE_OBJECTIVE")
	cfg.Pipeline.NumRound = v.GetInt("PIPELINE_NUM_ROUND")
	cfg.Pipeline.MaxDepth = v.GetInt("PIPELINE_MAX_DEPTH")
	cfg.Pipeline.Eta = v.GetFloat64("PIPELINE_ETA")
	cfg.Pipeline.Gamma = v.GetFloat64("PIPELINE_GAMMA")
	cfg.Pipeline.MinChildWeight = v.GetFloat64("PIPELINE_MIN_CHILD_WEIGHT")
	cfg.Pipeline.Subsample = v.GetFloat64("PIPELINE_SUBSAMPLE")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Pipeline.EvaluationThreshold < 0 {
		return fmt.Errorf("invalid evaluation threshold: %f", c.Pipeline.EvaluationThreshold)
	}

	if c.AWS.PooledEndpointName == "" {
		return fmt.Errorf("pooled endpoint name is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
