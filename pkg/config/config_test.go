package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.App.Name != "mlaas-platform" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "mlaas-platform")
	}
	if cfg.App.Environment != "development" {
		t.Errorf("App.Environment = %q, want %q", cfg.App.Environment, "development")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Redis.Host != "localhost" {
		t.Errorf("Redis.Host = %q, want %q", cfg.Redis.Host, "localhost")
	}
	if cfg.Pipeline.EvaluationThreshold != 0.5 {
		t.Errorf("Pipeline.EvaluationThreshold = %v, want 0.5", cfg.Pipeline.EvaluationThreshold)
	}
	if cfg.JWT.AccessTokenTTL != 15*time.Minute {
		t.Errorf("JWT.AccessTokenTTL = %v, want 15m", cfg.JWT.AccessTokenTTL)
	}
	if cfg.Kafka.ObjectCreatedTopic != "storage.object-created" {
		t.Errorf("Kafka.ObjectCreatedTopic = %q", cfg.Kafka.ObjectCreatedTopic)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("PIPELINE_EVALUATION_THRESHOLD", "0.3")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092,broker-2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Redis.Host != "redis.internal" {
		t.Errorf("Redis.Host = %q", cfg.Redis.Host)
	}
	if cfg.Pipeline.EvaluationThreshold != 0.3 {
		t.Errorf("Pipeline.EvaluationThreshold = %v, want 0.3", cfg.Pipeline.EvaluationThreshold)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "broker-2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestLoadWithPath(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "APP_NAME=custom-platform\nSERVER_PORT=3000\nAWS_REGION=eu-west-1\n"
	if err := os.WriteFile(envFile, []byte(content), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := LoadWithPath(envFile)
	if err != nil {
		t.Fatalf("LoadWithPath() error = %v", err)
	}

	if cfg.App.Name != "custom-platform" {
		t.Errorf("App.Name = %q", cfg.App.Name)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.AWS.Region != "eu-west-1" {
		t.Errorf("AWS.Region = %q", cfg.AWS.Region)
	}
}

func TestLoadWithPath_MissingFile(t *testing.T) {
	if _, err := LoadWithPath("/nonexistent/.env"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			App:      AppConfig{Name: "mlaas-platform"},
			Server:   ServerConfig{Port: 8080},
			Redis:    RedisConfig{Host: "localhost"},
			AWS:      AWSConfig{PooledEndpointName: "pooled"},
			Pipeline: PipelineConfig{EvaluationThreshold: 0.5},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing app name", func(c *Config) { c.App.Name = "" }, true},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, true},
		{"missing redis host", func(c *Config) { c.Redis.Host = "" }, true},
		{"negative threshold", func(c *Config) { c.Pipeline.EvaluationThreshold = -1 }, true},
		{"missing pooled endpoint", func(c *Config) { c.AWS.PooledEndpointName = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRedisAddr(t *testing.T) {
	r := RedisConfig{Host: "cache.internal", Port: 6380}
	if got := r.Addr(); got != "cache.internal:6380" {
		t.Errorf("Addr() = %q", got)
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db.internal", Port: 5432, User: "mlaas",
		Password: "secret", DBName: "pipeline", SSLMode: "require",
	}
	want := "host=db.internal port=5432 user=mlaas password=secret dbname=pipeline sslmode=require"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestHyperparameters(t *testing.T) {
	p := PipelineConfig{
		Objective: "reg:linear", NumRound: 50, MaxDepth: 5,
		Eta: 0.2, Gamma: 4, MinChildWeight: 6, Subsample: 0.7,
	}
	hp := p.Hyperparameters()
	if hp["objective"] != "reg:linear" {
		t.Errorf("objective = %q", hp["objective"])
	}
	if hp["num_round"] != "50" {
		t.Errorf("num_round = %q", hp["num_round"])
	}
	if hp["eta"] != "0.2" {
		t.Errorf("eta = %q", hp["eta"])
	}
	if hp["subsample"] != "0.7" {
		t.Errorf("subsample = %q", hp["subsample"])
	}
}

func TestEnvironmentHelpers(t *testing.T) {
	c := &Config{App: AppConfig{Environment: "production"}}
	if !c.IsProduction() || c.IsDevelopment() {
		t.Error("production flags wrong")
	}
	c.App.Environment = "development"
	if c.IsProduction() || !c.IsDevelopment() {
		t.Error("development flags wrong")
	}
}
