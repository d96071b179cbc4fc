// Package inference is the HTTP client for the scan classification service.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/neuroscan-portal/internal/domain"
)

const (
	predictPath   = "/predict"
	fieldFile     = "file"
	fieldModel    = "model_type"
	maxErrorBytes = 512
)

// Config represents configuration for the classification service client
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RateLimit   int // requests per second
	MaxRequests uint32
	OpenTimeout time.Duration
}

// ConfigFrom converts the application inference settings
func ConfigFrom(cfg domain.InferenceConfig) Config {
	return Config{
		BaseURL:     cfg.BaseURL,
		Timeout:     cfg.Timeout,
		RateLimit:   cfg.RateLimit,
		MaxRequests: cfg.MaxRequests,
		OpenTimeout: cfg.OpenTimeout,
	}
}

// StatusError is a non-2xx response from the service
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference service returned %d: %s", e.StatusCode, e.Body)
}

// Client posts scans to the classification service
type Client struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	log        *logrus.Logger
}

// NewClient creates a classification client
func NewClient(config Config, logger *logrus.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.OpenTimeout == 0 {
		config.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inference",
		MaxRequests: config.MaxRequests,
		Interval:    30 * time.Second,
		Timeout:     config.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:   breaker,
		log:       logger,
	}
}

// Predict sends the image and scan type as a two-part multipart form and
// returns the service's verdict
func (c *Client) Predict(ctx context.Context, upload domain.UploadRequest, scanType string) (*domain.InferenceOutcome, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.predict(ctx, upload, scanType)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("inference service unavailable (circuit breaker open): %w", err)
		}
		return nil, fmt.Errorf("inference query failed: %w", err)
	}

	return result.(*domain.InferenceOutcome), nil
}

func (c *Client) predict(ctx context.Context, upload domain.UploadRequest, scanType string) (*domain.InferenceOutcome, error) {
	body, contentType, err := encodeForm(upload, scanType)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+predictPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var outcome domain.InferenceOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"model":      outcome.Model,
		"prediction": outcome.Prediction,
		"confidence": outcome.Confidence,
		"duration":   time.Since(start).String(),
	}).Info("Scan classified")

	return &outcome, nil
}

// encodeForm builds a body with exactly the file and model_type parts
func encodeForm(upload domain.UploadRequest, scanType string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldFile, upload.Filename))
	header.Set("Content-Type", upload.ContentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(upload.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}

	if err := w.WriteField(fieldModel, scanType); err != nil {
		return nil, "", fmt.Errorf("failed to write %s part: %w", fieldModel, err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}

	return &buf, w.FormDataContentType(), nil
}

// State reports the circuit breaker state
func (c *Client) State() gobreaker.State {
	return c.breaker.State()
}
