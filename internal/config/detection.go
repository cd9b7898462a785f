package config

import (
	"IntelProd/internal/entity"
	"IntelProd/pkg/artifact"
	"IntelProd/pkg/roboflow"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// DetectionConfig is the inspection pipeline configuration read from the
// environment.
type DetectionConfig struct {
	PassClass  string
	ModelID    string
	Workspace  string
	WorkflowID string

	InferenceTimeout  time.Duration
	PreprocessWorkers int
	CircleDetector    string

	ArtifactBackend   string
	ArtifactDir       string
	ArtifactURLPrefix string
}

func LoadDetectionConfig() (DetectionConfig, error) {
	cfg := DetectionConfig{
		PassClass:         envOr("DETECTION_PASS_CLASS", entity.DefaultPassClass),
		Workspace:         os.Getenv("ROBOFLOW_WORKSPACE"),
		WorkflowID:        os.Getenv("ROBOFLOW_WORKFLOW_ID"),
		InferenceTimeout:  roboflow.DefaultTimeout,
		PreprocessWorkers: runtime.GOMAXPROCS(0),
		CircleDetector:    envOr("CIRCLE_DETECTOR", "hough"),
		ArtifactBackend:   envOr("ARTIFACT_BACKEND", artifact.BackendLocal),
		ArtifactDir:       envOr("ARTIFACT_DIR", artifact.DefaultDir),
		ArtifactURLPrefix: envOr("ARTIFACT_URL_PREFIX", artifact.DefaultURLPrefix),
	}

	if os.Getenv("ROBOFLOW_API_KEY") == "" {
		return DetectionConfig{}, errors.New("ROBOFLOW_API_KEY is required")
	}

	project := strings.Trim(os.Getenv("ROBOFLOW_PROJECT"), "/")
	if project == "" {
		return DetectionConfig{}, errors.New("ROBOFLOW_PROJECT is required")
	}
	cfg.ModelID = project + "/" + envOr("ROBOFLOW_VERSION", "1")

	if raw := os.Getenv("INFERENCE_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil || timeout <= 0 {
			return DetectionConfig{}, fmt.Errorf("INFERENCE_TIMEOUT must be a positive duration, got %q", raw)
		}
		cfg.InferenceTimeout = timeout
	}

	if raw := os.Getenv("PREPROCESS_WORKERS"); raw != "" {
		workers, err := strconv.Atoi(raw)
		if err != nil || workers <= 0 {
			return DetectionConfig{}, fmt.Errorf("PREPROCESS_WORKERS must be a positive integer, got %q", raw)
		}
		cfg.PreprocessWorkers = workers
	}

	switch cfg.ArtifactBackend {
	case artifact.BackendLocal, artifact.BackendS3:
	default:
		return DetectionConfig{}, fmt.Errorf("ARTIFACT_BACKEND must be %q or %q, got %q",
			artifact.BackendLocal, artifact.BackendS3, cfg.ArtifactBackend)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
