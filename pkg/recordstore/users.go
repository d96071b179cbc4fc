package recordstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/neuroscan-portal/internal/domain"
)

// Verify checks credentials against the remote /user/login endpoint
func (c *Client) Verify(ctx context.Context, email, password string) (*domain.User, error) {
	req, err := c.newJSONRequest(ctx, "/user/login", map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var user domain.User
	if err := c.do(req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login returns the session identity for valid credentials
func (c *Client) Login(ctx context.Context, email, password string) (*domain.Identity, error) {
	user, err := c.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}
	id := user.Identity()
	return &id, nil
}

// Register creates a patient account on the remote store
func (c *Client) Register(ctx context.Context, in domain.RegisterRequest) error {
	req, err := c.newJSONRequest(ctx, "/user/create", in)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) newJSONRequest(ctx context.Context, path string, body interface{}) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}
