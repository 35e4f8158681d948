// Package crossencoder scores query/document pairs against a cross-encoder
// served over HTTP (POST /rerank, GET /health).
package crossencoder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/hybridsearch/internal/rerank"
)

const (
	defaultBatchSize = 32
	defaultTimeout   = 10 * time.Second
	maxErrorBody     = 512
)

// ErrBadResponse signals a rerank response that does not match the request.
var ErrBadResponse = errors.New("crossencoder: malformed response")

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	BatchSize int
	Timeout   time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls a cross-encoder server.
type Client struct {
	baseURL   string
	apiKey    string
	model     string
	batchSize int
	http      *http.Client
	logger    *zap.Logger
}

var _ rerank.Loader = (*Client)(nil)

// New creates a Client. BaseURL is required.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("crossencoder: base url is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		http:      hc,
		logger:    logger.With(zap.String("component", "crossencoder")),
	}, nil
}

// Load probes the server and hands out Score as the rerank score function.
func (c *Client) Load(ctx context.Context) (rerank.ScoreFunc, string, error) {
	if err := c.HealthCheck(ctx); err != nil {
		return nil, "", err
	}
	model := c.model
	if model == "" {
		model = c.baseURL
	}
	return c.Score, model, nil
}

// HealthCheck verifies the server answers GET /health with 200.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crossencoder health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("health", resp)
	}
	return nil
}

type scoreRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type scoreResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Score returns one score per document, in input order. Documents are sent in
// batches of at most BatchSize; any failed batch fails the whole call.
func (c *Client) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	scores := make([]float64, len(docs))
	for start := 0; start < len(docs); start += c.batchSize {
		end := min(start+c.batchSize, len(docs))
		batch, err := c.scoreBatch(ctx, query, docs[start:end])
		if err != nil {
			return nil, fmt.Errorf("score batch %d-%d: %w", start, end, err)
		}
		copy(scores[start:end], batch)
	}
	return scores, nil
}

func (c *Client) scoreBatch(ctx context.Context, query string, docs []string) ([]float64, error) {
	body, err := json.Marshal(scoreRequest{Query: query, Documents: docs, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("rerank", resp)
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	if len(parsed.Results) != len(docs) {
		return nil, fmt.Errorf("%w: %d results for %d documents", ErrBadResponse, len(parsed.Results), len(docs))
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range parsed.Results {
		if r.Index < 0 || r.Index >= len(docs) || seen[r.Index] {
			return nil, fmt.Errorf("%w: unexpected index %d", ErrBadResponse, r.Index)
		}
		seen[r.Index] = true
		scores[r.Index] = r.Score
	}

	c.logger.Debug("batch scored",
		zap.Int("documents", len(docs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return scores, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return fmt.Errorf("crossencoder %s: status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
