package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

// maxBatchMessages bounds the error messages kept by SendBatch.
const maxBatchMessages = 10

// maxBodyBytes bounds how much of a response body is kept for reporting.
const maxBodyBytes = 4096

type Config struct {
	BaseURL    string
	APIKey     string
	IngestPath string
	Timeout    time.Duration
	// SendDelay is the minimum spacing between two requests of a batch.
	SendDelay time.Duration
	Retry     RetryPolicy
}

// Response is what the ingestion endpoint answered.
type Response struct {
	StatusCode int
	Body       string
}

// BatchResult tallies a SendBatch call.
type BatchResult struct {
	SuccessCount int
	ErrorCount   int
	Errors       []string
}

// Client posts licitaciones, one per request, to the remote ingestion endpoint.
type Client struct {
	config  Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *logrus.Entry
}

func NewClient(cfg Config, logger logrus.FieldLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IngestPath == "" {
		cfg.IngestPath = "/api/licitaciones"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: newLimiter(cfg.SendDelay),
		logger:  logging.ForSession(logger, logging.CategorySubmission, ""),
	}
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Wait blocks until the next request may be sent.
func (c *Client) Wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// SendOne posts a single payload. Only HTTP 200 is a success; any other
// status comes back as both the Response and a *SubmissionError.
func (c *Client) SendOne(ctx context.Context, payload models.Payload) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &SubmissionError{Kind: KindTerminal, Err: fmt.Errorf("marshal payload: %w", err)}
	}
	return c.post(ctx, body)
}

// Submit sends payload with the client's retry policy applied.
func (c *Client) Submit(ctx context.Context, payload models.Payload) (*Response, error) {
	attempt := 0
	return ExecuteWithRetry(ctx, c.config.Retry, func(ctx context.Context) (*Response, error) {
		attempt++
		resp, err := c.SendOne(ctx, payload)
		if err != nil && IsRetryable(err) {
			c.logger.WithFields(logrus.Fields{
				"licitacion_id": payload.LicitacionID,
				"attempt":       attempt,
				"status":        StatusCode(err),
			}).WithError(err).Warn("submission attempt failed")
		}
		return resp, err
	})
}

// SendBatch submits payloads one after the other, spaced by SendDelay.
func (c *Client) SendBatch(ctx context.Context, payloads []models.Payload) BatchResult {
	var result BatchResult
	for _, payload := range payloads {
		if err := c.Wait(ctx); err != nil {
			result.ErrorCount++
			appendMessage(&result, payload.LicitacionID, err)
			continue
		}

		if _, err := c.Submit(ctx, payload); err != nil {
			result.ErrorCount++
			appendMessage(&result, payload.LicitacionID, err)
			continue
		}
		result.SuccessCount++
	}

	c.logger.WithFields(logrus.Fields{
		"success": result.SuccessCount,
		"errors":  result.ErrorCount,
	}).Info("batch sent")
	return result
}

func appendMessage(result *BatchResult, id string, err error) {
	if len(result.Errors) < maxBatchMessages {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
	}
}

// CheckHealth probes the endpoint with an empty body. The remote validator is
// expected to reject it, so 400 counts as healthy along with 200.
func (c *Client) CheckHealth(ctx context.Context) bool {
	resp, err := c.post(ctx, []byte("{}"))
	if resp == nil {
		c.logger.WithError(err).Warn("ingestion endpoint unreachable")
		return false
	}
	healthy := resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusBadRequest
	if !healthy {
		c.logger.WithField("status", resp.StatusCode).Warn("ingestion endpoint unhealthy")
	}
	return healthy
}

func (c *Client) post(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+c.config.IngestPath, bytes.NewReader(body))
	if err != nil {
		return nil, &SubmissionError{Kind: KindTerminal, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &SubmissionError{Kind: KindRetryable, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &SubmissionError{Kind: KindRetryable, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	result := &Response{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	if resp.StatusCode != http.StatusOK {
		return result, &SubmissionError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       result.Body,
		}
	}
	return result, nil
}
