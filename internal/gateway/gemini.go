package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"

	// Environment variables the credential is read from when
	// GeminiConfig.APIKey is empty; envAPIKey is checked first.
	envAPIKey    = "GEMINI_API_KEY"
	envAPIKeyAlt = "GOOGLE_API_KEY"
)

// GenerationSettings are passed through to the service per request.
type GenerationSettings struct {
	Temperature      float64 `json:"temperature"`
	TopP             float64 `json:"topP,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

// GeminiConfig configures the Gemini batch client.
type GeminiConfig struct {
	APIKey     string // Optional; falls back to GEMINI_API_KEY / GOOGLE_API_KEY
	BaseURL    string // Optional (tests)
	Model      string
	Generation GenerationSettings
	HTTPClient *http.Client  // Optional (tests)
	Timeout    time.Duration // Per-request timeout
	// Bounded retry for uploads, submission, and downloads.
	RetryAttempts int
	RetryBackoff  time.Duration
	// Bounded retry for polling. Defaults to RetryAttempts.
	PollAttempts int
	Logger       *slog.Logger
}

// GeminiClient implements Gateway against the Gemini batch API.
type GeminiClient struct {
	apiKey        string
	baseURL       string
	model         string
	generation    GenerationSettings
	client        *http.Client
	retryAttempts uint
	pollAttempts  uint
	retryBackoff  time.Duration
	logger        *slog.Logger
}

// NewGeminiClient creates a Gemini batch client.
// Returns an error if no API key is available.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(envAPIKey)
	}
	if apiKey == "" {
		apiKey = os.Getenv(envAPIKeyAlt)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%s (or %s) environment variable not set", envAPIKey, envAPIKeyAlt)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = cfg.RetryAttempts
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &GeminiClient{
		apiKey:        apiKey,
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		model:         cfg.Model,
		generation:    cfg.Generation,
		client:        httpClient,
		retryAttempts: uint(cfg.RetryAttempts),
		pollAttempts:  uint(cfg.PollAttempts),
		retryBackoff:  cfg.RetryBackoff,
		logger:        cfg.Logger,
	}, nil
}

// Submit uploads every page image and the request JSONL, then creates the
// remote batch. Nothing durable happens locally; the caller records the
// returned id before the batch is considered owned.
func (c *GeminiClient) Submit(ctx context.Context, displayName string, items []RequestItem) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("submit %s: empty bundle", displayName)
	}

	var lines bytes.Buffer
	for _, item := range items {
		imageData, err := os.ReadFile(item.ImagePath)
		if err != nil {
			return "", fmt.Errorf("submit %s: read image for %s: %w", displayName, item.Key, err)
		}

		fileName, err := c.uploadFile(ctx, fmt.Sprintf("page-%s", sanitize(item.Key)), "image/jpeg", imageData)
		if err != nil {
			return "", fmt.Errorf("submit %s: upload image for %s: %w", displayName, item.Key, err)
		}

		line, err := json.Marshal(batchRequestLine{
			Key: item.Key,
			Request: generateContentRequest{
				Contents: []content{{
					Parts: []part{
						{FileData: &fileData{MIMEType: "image/jpeg", FileURI: fileName}},
						{Text: item.Prompt},
					},
				}},
				GenerationConfig: &c.generation,
			},
		})
		if err != nil {
			return "", fmt.Errorf("submit %s: marshal request for %s: %w", displayName, item.Key, err)
		}
		lines.Write(line)
		lines.WriteByte('\n')
	}

	inputFile, err := c.uploadFile(ctx, displayName+"-input", "application/jsonl", lines.Bytes())
	if err != nil {
		return "", fmt.Errorf("submit %s: upload request file: %w", displayName, err)
	}

	var resp batchResource
	body := createBatchRequest{
		Batch: batchSpec{
			DisplayName: displayName,
			InputConfig: inputConfig{FileName: inputFile},
		},
	}
	path := fmt.Sprintf("/v1beta/models/%s:batchGenerateContent", c.model)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", fmt.Errorf("submit %s: create batch: %w", displayName, err)
	}
	if resp.Name == "" {
		return "", fmt.Errorf("submit %s: service returned no batch name", displayName)
	}

	c.logger.Info("batch created", "batch_id", resp.Name, "display_name", displayName, "records", len(items))
	return resp.Name, nil
}

// Poll returns the batch's current state.
func (c *GeminiClient) Poll(ctx context.Context, batchID string) (BatchState, error) {
	var resp batchResource
	if err := c.doJSONWithAttempts(ctx, http.MethodGet, "/v1beta/"+batchID, nil, &resp, c.pollAttempts); err != nil {
		return "", fmt.Errorf("poll %s: %w", batchID, err)
	}
	return mapState(resp.state()), nil
}

// Download fetches and parses the batch's results file.
func (c *GeminiClient) Download(ctx context.Context, batchID string) ([]RecordOutcome, error) {
	var resp batchResource
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta/"+batchID, nil, &resp); err != nil {
		return nil, fmt.Errorf("download %s: %w", batchID, err)
	}

	responsesFile := resp.responsesFile()
	if responsesFile == "" {
		return nil, fmt.Errorf("download %s: batch has no responses file", batchID)
	}

	data, err := c.downloadFile(ctx, responsesFile)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", batchID, err)
	}

	var outcomes []RecordOutcome
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var parsed batchResponseLine
		if err := json.Unmarshal(line, &parsed); err != nil {
			return nil, fmt.Errorf("download %s: malformed result line: %w", batchID, err)
		}

		outcome := RecordOutcome{Key: parsed.Key, Raw: string(line)}
		switch {
		case parsed.Status != nil && parsed.Status.Code != 0:
			outcome.Err = &ServiceError{Code: parsed.Status.Code, Message: parsed.Status.Message}
		case parsed.Response != nil:
			outcome.Text = parsed.Response.text()
		default:
			outcome.Err = &ServiceError{Message: "result line has neither response nor error"}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// withRetry wraps a transient-I/O operation in bounded exponential backoff.
func (c *GeminiClient) withRetry(ctx context.Context, op func() error) error {
	return c.withRetryAttempts(ctx, op, c.retryAttempts)
}

func (c *GeminiClient) withRetryAttempts(ctx context.Context, op func() error, attempts uint) error {
	return retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.retryBackoff),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(c.retryBackoff/2),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
	)
}

func sanitize(key string) string {
	return strings.NewReplacer(":", "-", "/", "-", " ", "-").Replace(key)
}
