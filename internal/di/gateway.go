package di

import (
	"context"
	"crypto/rsa"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/saasml/mlaas-platform/internal/auth"
	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/handler"
	"github.com/saasml/mlaas-platform/internal/routing"
	"github.com/saasml/mlaas-platform/internal/serving"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/config"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/middleware"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// GatewayContainer holds all dependencies for the inference gateway
type GatewayContainer struct {
	// Infrastructure
	Redis *redis.Client
	Sess  *session.Session

	// Core components
	Directory     *directory.RedisDirectory
	Keys          auth.KeySetProvider
	Broker        auth.CredentialsBroker
	Authenticator *auth.Authenticator
	Issuer        *auth.Issuer
	Store         *storage.S3Store
	Invoker       *serving.SageMakerInvoker
	Router        *routing.Router

	// Handlers
	InferenceHandler *handler.InferenceHandler
	UploadHandler    *handler.UploadHandler
	TokenHandler     *handler.TokenHandler
	HealthHandler    *handler.HealthHandler

	Engine *gin.Engine
}

// GatewayContainerConfig contains configuration for building the container
type GatewayContainerConfig struct {
	Cfg        *config.Config
	Log        *logger.Logger
	Redis      *redis.Client
	Sess       *session.Session
	SigningKey *rsa.PrivateKey
	KeyID      string
}

// NewGatewayContainer creates the dependency container for the gateway
func NewGatewayContainer(cfg *GatewayContainerConfig) (*GatewayContainer, error) {
	c := &GatewayContainer{
		Redis: cfg.Redis,
		Sess:  cfg.Sess,
	}

	c.Directory = directory.NewRedisDirectory(cfg.Redis)
	c.Keys = auth.NewHTTPKeySetProvider(cfg.Cfg.JWT.KeySetBaseURL, 0)
	c.Broker = auth.NewSTSBroker(cfg.Sess, cfg.Cfg.AWS.ScopedRoleARN, cfg.Cfg.AWS.ScopedSessionTTL)
	c.Authenticator = auth.NewAuthenticator(c.Directory, c.Keys, c.Broker, cfg.Log)
	c.Issuer = auth.NewIssuer(c.Directory, cfg.SigningKey, cfg.KeyID, cfg.Cfg.JWT.Issuer, cfg.Cfg.JWT.AccessTokenTTL)
	c.Store = storage.NewS3Store(cfg.Sess)
	c.Invoker = serving.NewSageMakerInvoker(cfg.Sess)

	metrics, err := telemetry.NewInferenceMetrics()
	if err != nil {
		return nil, err
	}
	c.Router = routing.NewRouter(c.Directory, c.Invoker, cfg.Cfg.AWS.PooledEndpointName, cfg.Log, metrics)

	c.InferenceHandler = handler.NewInferenceHandler(c.Router)
	c.UploadHandler = handler.NewUploadHandler(c.Directory, c.Store, cfg.Log)
	c.TokenHandler = handler.NewTokenHandler(c.Issuer)
	c.HealthHandler = handler.NewHealthHandler(map[string]handler.HealthCheck{
		"redis": func(ctx context.Context) error { return cfg.Redis.Ping(ctx).Err() },
	})

	if cfg.Cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	authMW := middleware.TenantAuth(&middleware.AuthConfig{Authenticator: c.Authenticator})
	handler.RegisterGatewayRoutes(engine, authMW, c.InferenceHandler, c.UploadHandler, c.TokenHandler, c.HealthHandler)
	c.Engine = engine

	return c, nil
}
