package provision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"datapack-backend/config"
)

// Client talks to the provisioning provider over HTTP.
type Client struct {
	cfg    *config.ProvisionerConfig
	client *http.Client
}

// NewClient creates an HTTP-backed Provisioner from configuration.
func NewClient(cfg *config.ProvisionerConfig) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
	}
}

type issueRequest struct {
	SessionID string `json:"session_id"`
	SizeMB    int64  `json:"size_mb"`
}

type issueResponse struct {
	CredentialID string `json:"credential_id"`
}

func (c *Client) IssueCredential(ctx context.Context, sessionID string, sizeMB int64) (string, error) {
	var resp issueResponse
	err := c.do(ctx, http.MethodPost, "/credentials", issueRequest{SessionID: sessionID, SizeMB: sizeMB}, &resp)
	if err != nil {
		return "", &Error{Op: "issue credential", Err: err}
	}
	if resp.CredentialID == "" {
		return "", &Error{Op: "issue credential", Err: fmt.Errorf("provider returned empty credential id")}
	}
	return resp.CredentialID, nil
}

func (c *Client) ActivateCredential(ctx context.Context, credentialID string) error {
	err := c.do(ctx, http.MethodPost, "/credentials/"+url.PathEscape(credentialID)+"/activate", nil, nil)
	if err != nil {
		return &Error{Op: "activate credential", Err: err}
	}
	return nil
}

func (c *Client) RevokeCredential(ctx context.Context, credentialID string) error {
	err := c.do(ctx, http.MethodPost, "/credentials/"+url.PathEscape(credentialID)+"/revoke", nil, nil)
	if err != nil {
		return &Error{Op: "revoke credential", Err: err}
	}
	return nil
}

func (c *Client) CredentialUsage(ctx context.Context, credentialID string) (*CredentialUsage, error) {
	var usage CredentialUsage
	err := c.do(ctx, http.MethodGet, "/credentials/"+url.PathEscape(credentialID)+"/usage", nil, &usage)
	if err != nil {
		return nil, &Error{Op: "credential usage", Err: err}
	}
	return &usage, nil
}

func (c *Client) OwnerUsage(ctx context.Context, ownerID string) ([]CredentialUsage, error) {
	var usages []CredentialUsage
	err := c.do(ctx, http.MethodGet, "/owners/"+url.PathEscape(ownerID)+"/usage", nil, &usages)
	if err != nil {
		return nil, &Error{Op: "owner usage", Err: err}
	}
	return usages, nil
}

// do performs one JSON round trip against the provider.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range c.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("received non-2xx status code: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal provider response: %w", err)
	}
	return nil
}
