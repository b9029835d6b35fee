package di

import (
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/redis/go-redis/v9"

	"github.com/saasml/mlaas-platform/internal/directory"
	"github.com/saasml/mlaas-platform/internal/ingestion"
	"github.com/saasml/mlaas-platform/internal/pipeline"
	"github.com/saasml/mlaas-platform/internal/storage"
	"github.com/saasml/mlaas-platform/pkg/config"
	"github.com/saasml/mlaas-platform/pkg/database"
	"github.com/saasml/mlaas-platform/pkg/logger"
	"github.com/saasml/mlaas-platform/pkg/telemetry"
)

// PipelineContainer holds all dependencies for the training pipeline worker
type PipelineContainer struct {
	// Infrastructure
	Redis *redis.Client
	DB    *database.PostgresDB
	Sess  *session.Session

	// Core components
	Directory    *directory.RedisDirectory
	Store        *storage.S3Store
	RunStore     *pipeline.PostgresRunStore
	Machine      *pipeline.RunMachine
	Trainer      *pipeline.SageMakerTrainer
	Evaluator    *pipeline.SageMakerEvaluator
	Registry     *pipeline.SageMakerRegistry
	Deployer     *pipeline.SageMakerDeployer
	Promoter     *pipeline.Promoter
	Orchestrator *pipeline.Orchestrator
	Trigger      *ingestion.Trigger
	Consumer     *ingestion.Consumer
}

// PipelineContainerConfig contains configuration for building the container
type PipelineContainerConfig struct {
	Cfg   *config.Config
	Log   *logger.Logger
	Redis *redis.Client
	DB    *database.PostgresDB
	Sess  *session.Session
}

// NewPipelineContainer creates the dependency container for the pipeline worker
func NewPipelineContainer(cfg *PipelineContainerConfig) (*PipelineContainer, error) {
	c := &PipelineContainer{
		Redis: cfg.Redis,
		DB:    cfg.DB,
		Sess:  cfg.Sess,
	}

	c.Directory = directory.NewRedisDirectory(cfg.Redis)
	c.Store = storage.NewS3Store(cfg.Sess)
	c.RunStore = pipeline.NewPostgresRunStore(cfg.DB.Pool())
	c.Machine = pipeline.NewRunMachine(c.RunStore)

	jobCfg := pipeline.JobConfig{
		RoleARN:       cfg.Cfg.AWS.ScopedRoleARN,
		TrainingImage: cfg.Cfg.Pipeline.TrainingImage,
		InstanceType:  cfg.Cfg.Pipeline.TrainingInstance,
		PollInterval:  cfg.Cfg.Pipeline.JobPollInterval,
		JobTimeout:    cfg.Cfg.Pipeline.JobTimeout,
	}
	c.Trainer = pipeline.NewSageMakerTrainer(cfg.Sess, jobCfg)
	c.Evaluator = pipeline.NewSageMakerEvaluator(cfg.Sess, c.Store, cfg.Cfg.AWS.PooledDataBucket, cfg.Cfg.Pipeline.TrainingImage, jobCfg)
	c.Registry = pipeline.NewSageMakerRegistry(cfg.Sess, cfg.Cfg.Pipeline.ModelPackageGroup, cfg.Cfg.Pipeline.TrainingImage)
	c.Deployer = pipeline.NewSageMakerDeployer(
		cfg.Sess,
		cfg.Cfg.AWS.ScopedRoleARN,
		cfg.Cfg.Pipeline.TrainingImage,
		cfg.Cfg.Pipeline.TrainingInstance,
		cfg.Cfg.Pipeline.JobPollInterval,
		cfg.Cfg.Pipeline.JobTimeout,
	)
	c.Promoter = pipeline.NewPromoter(c.Directory, c.Store, c.Deployer, cfg.Log)

	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		return nil, err
	}
	c.Orchestrator = pipeline.NewOrchestrator(
		c.Machine,
		c.Trainer,
		c.Evaluator,
		c.Registry,
		c.Promoter,
		cfg.Cfg.Pipeline.EvaluationThreshold,
		cfg.Log,
		metrics,
	)

	c.Trigger = ingestion.NewTrigger(c.Directory, c.Store, c.Orchestrator, ingestion.TriggerConfig{
		ArtifactBucket:    cfg.Cfg.AWS.PooledModelBucket,
		ModelPackageGroup: cfg.Cfg.Pipeline.ModelPackageGroup,
		Hyperparameters:   cfg.Cfg.Pipeline.Hyperparameters(),
	}, cfg.Log)

	consumer, err := ingestion.NewConsumer(ingestion.ConsumerConfig{
		Brokers: cfg.Cfg.Kafka.Brokers,
		Topic:   cfg.Cfg.Kafka.ObjectCreatedTopic,
		Group:   cfg.Cfg.Kafka.ConsumerGroup,
	}, c.Trigger, cfg.Log)
	if err != nil {
		return nil, err
	}
	c.Consumer = consumer

	return c, nil
}

// Close releases the container's long-lived resources
func (c *PipelineContainer) Close() {
	if c.Consumer != nil {
		c.Consumer.Close()
	}
}
