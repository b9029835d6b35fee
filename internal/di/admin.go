package di

import (
	"context"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/handler"
	"github.com/saasml/mlaas-platform/internal/provisioning"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/config"
	"github.com/saasml/mlaas-platform/pkg/database"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/middleware"
)

// AdminContainer holds all dependencies for the tenant-administration API
type AdminContainer struct {
	// Infrastructure
	Redis *redis.Client
	DB    *database.PostgresDB
	Sess  *session.Session

	// Core components
	Directory *directory.RedisDirectory
	Store     *storage.S3Store
	Publisher *provisioning.KafkaPublisher
	Service   *provisioning.Service

	// Audit trail
	AuditLogger *middleware.AuditLogger

	// Handlers
	TenantHandler *handler.TenantHandler
	HealthHandler *handler.HealthHandler

	Engine *gin.Engine
}

// AdminContainerConfig contains configuration for building the container
type AdminContainerConfig struct {
	Cfg   *config.Config
	Log   *logger.Logger
	Redis *redis.Client
	DB    *database.PostgresDB
	Sess  *session.Session
}

// NewAdminContainer creates the dependency container for the admin API
func NewAdminContainer(cfg *AdminContainerConfig) (*AdminContainer, error) {
	c := &AdminContainer{
		Redis: cfg.Redis,
		DB:    cfg.DB,
		Sess:  cfg.Sess,
	}

	c.Directory = directory.NewRedisDirectory(cfg.Redis)
	c.Store = storage.NewS3Store(cfg.Sess)

	publisher, err := provisioning.NewKafkaPublisher(cfg.Cfg.Kafka.Brokers, cfg.Cfg.Kafka.ProvisioningTopic)
	if err != nil {
		return nil, err
	}
	c.Publisher = publisher

	c.Service = provisioning.NewService(
		c.Directory,
		c.Directory,
		c.Store,
		&provisioning.LocalIdentityAdmin{},
		c.Publisher,
		cfg.Log,
	)

	c.AuditLogger = middleware.NewAuditLogger(middleware.DefaultAuditConfig(cfg.DB.Pool()))

	c.TenantHandler = handler.NewTenantHandler(c.Service)
	c.HealthHandler = handler.NewHealthHandler(map[string]handler.HealthCheck{
		"redis":    func(ctx context.Context) error { return cfg.Redis.Ping(ctx).Err() },
		"postgres": func(ctx context.Context) error { return cfg.DB.Ping(ctx) },
	})

	if cfg.Cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	handler.RegisterAdminRoutes(engine, middleware.Audit(c.AuditLogger), c.TenantHandler, c.HealthHandler)
	c.Engine = engine

	return c, nil
}

// Close releases the container's long-lived resources
func (c *AdminContainer) Close() {
	if c.Publisher != nil {
		c.Publisher.Close()
	}
	if c.AuditLogger != nil {
		_ = c.AuditLogger.Close()
	}
}
