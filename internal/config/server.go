package config

import (
	"IntelProd/database/postgres"
	detectionHandler "IntelProd/internal/api/detection/handler"
	detectionRepository "IntelProd/internal/api/detection/repository"
	detectionService "IntelProd/internal/api/detection/service"
	"IntelProd/internal/middleware"
	"IntelProd/pkg/annotate"
	"IntelProd/pkg/artifact"
	"IntelProd/pkg/metrics"
	"IntelProd/pkg/redis"
	"IntelProd/pkg/roboflow"
	"IntelProd/pkg/s3"
	"IntelProd/pkg/utils"
	"IntelProd/pkg/vision"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

type ServerOption func(*Server) error

type Server struct {
	engine      *fiber.App
	db          *sqlx.DB
	log         *logrus.Logger
	middleware  middleware.Middleware
	validator   *validator.Validate
	utils       utils.IUtils
	handlers    []handler
	redisServer redis.IRedis
	s3Client    s3.ItfS3
	detection   DetectionConfig
	inference   roboflow.IRoboflow
	detector    vision.CircleDetector
	artifacts   artifact.IStore
	metrics     metrics.IMetrics
}

type handler interface {
	Start(srv fiber.Router)
}

func NewServer(options ...ServerOption) (*Server, error) {
	server := &Server{}

	for _, option := range options {
		if err := option(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.engine == nil {
		return nil, fmt.Errorf("fiber app is required")
	}
	if server.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if server.middleware == nil {
		return nil, fmt.Errorf("middleware is required")
	}

	return server, nil
}

func WithFiber(fiberApp *fiber.App) ServerOption {
	return func(s *Server) error {
		s.engine = fiberApp
		return nil
	}
}

func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

func WithValidator(validator *validator.Validate) ServerOption {
	return func(s *Server) error {
		s.validator = validator
		return nil
	}
}

func WithDatabase() ServerOption {
	return func(s *Server) error {
		db, err := postgres.New()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to connect to database: %v", err)
			}
			return fmt.Errorf("failed to create database connection: %w", err)
		}
		s.db = db
		return nil
	}
}

// WithRedisServer accepts a nil client; the rate limiter is then per process.
func WithRedisServer(redisServer redis.IRedis) ServerOption {
	return func(s *Server) error {
		s.redisServer = redisServer
		return nil
	}
}

func WithDetectionConfig() ServerOption {
	return func(s *Server) error {
		cfg, err := LoadDetectionConfig()
		if err != nil {
			return fmt.Errorf("invalid detection config: %w", err)
		}
		s.detection = cfg
		return nil
	}
}

func WithInferenceClient() ServerOption {
	return func(s *Server) error {
		s.inference = roboflow.NewFromEnv(s.detection.InferenceTimeout)
		return nil
	}
}

func WithCircleDetector() ServerOption {
	return func(s *Server) error {
		detector, err := vision.NewCircleDetector(s.detection.CircleDetector)
		if err != nil {
			if s.log != nil {
				s.log.Errorf("Failed to create circle detector: %v", err)
			}
			return fmt.Errorf("failed to create circle detector: %w", err)
		}
		s.detector = detector
		return nil
	}
}

// WithArtifactStore picks the annotated image backend. The S3 client is only
// built when the s3 backend is selected.
func WithArtifactStore() ServerOption {
	return func(s *Server) error {
		if s.utils == nil {
			return fmt.Errorf("utils must be initialized before artifact store")
		}

		switch s.detection.ArtifactBackend {
		case artifact.BackendS3:
			client, err := s3.New()
			if err != nil {
				if s.log != nil {
					s.log.Errorf("Failed to initialize S3 client: %v", err)
				}
				return fmt.Errorf("failed to create S3 client: %w", err)
			}
			s.s3Client = client
			s.artifacts = artifact.NewS3(client, "annotated", s.utils)
		default:
			store, err := artifact.NewLocal(s.detection.ArtifactDir, s.detection.ArtifactURLPrefix, s.utils)
			if err != nil {
				return fmt.Errorf("failed to create artifact store: %w", err)
			}
			s.artifacts = store
		}

		return nil
	}
}

func WithMetrics() ServerOption {
	return func(s *Server) error {
		m, err := metrics.New()
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		s.metrics = m
		return nil
	}
}

func WithMiddleware() ServerOption {
	return func(s *Server) error {
		if s.log == nil {
			return fmt.Errorf("logger must be initialized before middleware")
		}
		s.middleware = middleware.New(s.log, s.redisServer)
		return nil
	}
}

func WithUtils() ServerOption {
	return func(s *Server) error {
		s.utils = utils.New()
		return nil
	}
}

func (s *Server) RegisterHandler() {
	s.engine.Use(s.middleware.NewRequestIDMiddleware())
	s.engine.Use(middleware.LoggerConfig())

	// Detection
	detectionRepo := detectionRepository.New(s.db, s.log, s.detection.PassClass)
	detectionServices := detectionService.NewDetectionService(
		detectionService.Config{
			PassClass:  s.detection.PassClass,
			ModelID:    s.detection.ModelID,
			Workspace:  s.detection.Workspace,
			WorkflowID: s.detection.WorkflowID,
		},
		detectionRepo,
		vision.NewPreprocessor(s.detector, s.detection.PreprocessWorkers),
		s.inference,
		annotate.New(),
		s.artifacts,
		s.metrics,
		s.utils,
		s.log,
	)
	detectionHandlers := detectionHandler.New(s.log, s.validator, s.middleware, detectionServices, s.utils)

	s.setupHealthCheck()
	s.setupMetrics()
	s.setupStatic()
	s.handlers = append(s.handlers, detectionHandlers)
}

func (s *Server) Run() error {
	router := s.engine.Group("/api/v1")

	for _, h := range s.handlers {
		h.Start(router)
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "3000"
	}

	return s.engine.Listen(fmt.Sprintf(":%s", port))
}

// Shutdown stops accepting requests, then releases the store and redis.
func (s *Server) Shutdown() error {
	err := s.engine.Shutdown()

	if s.redisServer != nil {
		if cerr := s.redisServer.Close(); cerr != nil {
			s.log.Warnf("Failed to close redis client: %v", cerr)
		}
	}
	if s.db != nil {
		if cerr := s.db.Close(); cerr != nil {
			s.log.Warnf("Failed to close database: %v", cerr)
		}
	}

	return err
}

func (s *Server) setupHealthCheck() {
	s.engine.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{
			"message": "Server is Healthy!",
		})
	})
}

func (s *Server) setupMetrics() {
	if s.metrics == nil {
		return
	}
	s.engine.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
}

func (s *Server) setupStatic() {
	if s.detection.ArtifactBackend != artifact.BackendLocal {
		return
	}
	s.engine.Static(s.detection.ArtifactURLPrefix, s.detection.ArtifactDir)
}
