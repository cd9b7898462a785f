package roboflow

import (
	"IntelProd/internal/entity"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrUnavailable covers transport failures, timeouts and non-2xx replies.
	ErrUnavailable = errors.New("inference service unavailable")
	// ErrMalformedResponse is returned when a 2xx reply cannot be read as
	// predictions.
	ErrMalformedResponse = errors.New("inference service returned a malformed response")
)

const (
	DefaultAPIURL      = "https://detect.roboflow.com"
	DefaultWorkflowURL = "https://serverless.roboflow.com"
	DefaultTimeout     = 15 * time.Second

	maxResponseBytes = 8 << 20
	maxErrorDetail   = 512
)

type IRoboflow interface {
	// Infer runs a hosted detection model, addressed as "project/version".
	Infer(ctx context.Context, modelID string, image []byte) ([]entity.Prediction, error)
	// RunWorkflow runs a hosted workflow whose output carries predictions.
	RunWorkflow(ctx context.Context, workspace, workflowID string, image []byte) ([]entity.Prediction, error)
}

type Config struct {
	APIURL      string
	WorkflowURL string
	APIKey      string
	Timeout     time.Duration
}

type roboflow struct {
	cfg Config

	once   sync.Once
	client *http.Client
}

func New(cfg Config) IRoboflow {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.WorkflowURL == "" {
		cfg.WorkflowURL = DefaultWorkflowURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.WorkflowURL = strings.TrimRight(cfg.WorkflowURL, "/")

	return &roboflow{cfg: cfg}
}

// NewFromEnv reads ROBOFLOW_API_URL, ROBOFLOW_WORKFLOW_URL and
// ROBOFLOW_API_KEY; timeout is passed in since it is parsed by the caller.
func NewFromEnv(timeout time.Duration) IRoboflow {
	return New(Config{
		APIURL:      os.Getenv("ROBOFLOW_API_URL"),
		WorkflowURL: os.Getenv("ROBOFLOW_WORKFLOW_URL"),
		APIKey:      os.Getenv("ROBOFLOW_API_KEY"),
		Timeout:     timeout,
	})
}

func (r *roboflow) httpClient() *http.Client {
	r.once.Do(func() {
		r.client = &http.Client{}
	})
	return r.client
}

type detectResponse struct {
	Predictions *[]jsoniter.RawMessage `json:"predictions"`
}

func (r *roboflow) Infer(ctx context.Context, modelID string, image []byte) ([]entity.Prediction, error) {
	modelID = strings.Trim(modelID, "/")
	if modelID == "" {
		return nil, fmt.Errorf("%w: model id is empty", ErrUnavailable)
	}

	endpoint := fmt.Sprintf("%s/%s?%s", r.cfg.APIURL, modelID, url.Values{"api_key": {r.cfg.APIKey}}.Encode())
	body := strings.NewReader(base64.StdEncoding.EncodeToString(image))

	raw, err := r.post(ctx, endpoint, "application/x-www-form-urlencoded", body)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.Predictions == nil {
		return nil, fmt.Errorf("%w: missing predictions", ErrMalformedResponse)
	}

	preds, err := entity.ParsePredictions(*resp.Predictions)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return preds, nil
}

type workflowImage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type workflowRequest struct {
	APIKey   string                   `json:"api_key"`
	Inputs   map[string]workflowImage `json:"inputs"`
	UseCache bool                     `json:"use_cache"`
}

type workflowResponse struct {
	Outputs []map[string]jsoniter.RawMessage `json:"outputs"`
}

func (r *roboflow) RunWorkflow(ctx context.Context, workspace, workflowID string, image []byte) ([]entity.Prediction, error) {
	if workspace == "" || workflowID == "" {
		return nil, fmt.Errorf("%w: workspace and workflow id are required", ErrUnavailable)
	}

	payload, err := json.Marshal(workflowRequest{
		APIKey: r.cfg.APIKey,
		Inputs: map[string]workflowImage{
			"image": {Type: "base64", Value: base64.StdEncoding.EncodeToString(image)},
		},
		UseCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal workflow request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/workflows/%s", r.cfg.WorkflowURL, url.PathEscape(workspace), url.PathEscape(workflowID))

	raw, err := r.post(ctx, endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	return parseWorkflowPredictions(raw)
}

// parseWorkflowPredictions reads outputs[0].predictions, which is either the
// detection object {"predictions": [...]} or the list itself.
func parseWorkflowPredictions(raw []byte) ([]entity.Prediction, error) {
	var resp workflowResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(resp.Outputs) == 0 {
		return nil, fmt.Errorf("%w: empty outputs", ErrMalformedResponse)
	}

	block, ok := resp.Outputs[0]["predictions"]
	if !ok {
		return nil, fmt.Errorf("%w: missing predictions output", ErrMalformedResponse)
	}

	var list []jsoniter.RawMessage
	if err := json.Unmarshal(block, &list); err != nil {
		var nested detectResponse
		if err := json.Unmarshal(block, &nested); err != nil || nested.Predictions == nil {
			return nil, fmt.Errorf("%w: predictions output has unexpected shape", ErrMalformedResponse)
		}
		list = *nested.Predictions
	}

	preds, err := entity.ParsePredictions(list)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	return preds, nil
}

func (r *roboflow) post(ctx context.Context, endpoint, contentType string, body io.Reader) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, redact(err.Error(), r.cfg.APIKey))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := truncateDetail(strings.TrimSpace(string(raw)), maxErrorDetail)
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, detail)
	}

	return raw, nil
}

// truncateDetail cuts s to at most limit bytes without splitting a rune.
func truncateDetail(s string, limit int) string {
	if len(s) <= limit {
		return strings.ToValidUTF8(s, "")
	}

	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.ToValidUTF8(s[:cut], "")
}

// redact keeps the api key out of errors that echo the request url.
func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "REDACTED")
}
