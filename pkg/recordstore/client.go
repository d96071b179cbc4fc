// Package recordstore is an HTTP client for a remote portal record store
// exposing /result/doctor/{username}, /result/patient/{username} and
// /result/save.
package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neuroscan-portal/internal/domain"
)

// Client implements domain.RecordStore over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewClient creates a remote record store client
func NewClient(baseURL string, timeout time.Duration, logger *logrus.Logger) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger,
	}
}

// FetchByDoctor returns records authored by the doctor
func (c *Client) FetchByDoctor(ctx context.Context, username string) ([]domain.DiagnosticRecord, error) {
	return c.fetch(ctx, "/result/doctor/"+url.PathEscape(username))
}

// FetchByPatient returns records about the patient
func (c *Client) FetchByPatient(ctx context.Context, username string) ([]domain.DiagnosticRecord, error) {
	return c.fetch(ctx, "/result/patient/"+url.PathEscape(username))
}

func (c *Client) fetch(ctx context.Context, path string) ([]domain.DiagnosticRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	records := make([]domain.DiagnosticRecord, 0)
	if err := c.do(req, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Create posts a new record and returns the stored copy
func (c *Client) Create(ctx context.Context, in domain.CreateRecordRequest) (*domain.DiagnosticRecord, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/result/save", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var record domain.DiagnosticRecord
	if err := c.do(req, &record); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"result_id": record.ID,
		"remote":    c.baseURL,
	}).Info("Result saved to remote store")

	return &record, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, domain.ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrInvalidCredentials
	case resp.StatusCode == http.StatusConflict:
		return domain.ErrDuplicateUser
	case resp.StatusCode == http.StatusBadRequest:
		var apiErr domain.APIError
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return domain.NewValidationError("body", "rejected by remote store", "")
		}
		return domain.NewValidationError(apiErr.Details, apiErr.Message, "")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.URL.Path,
			"status": resp.StatusCode,
		}).Error("Remote record store request failed")
		return fmt.Errorf("remote store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
