package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Message string
	Code    string
	Upgrade bool
}

func (e *apiError) Error() string {
	if e.Upgrade {
		return fmt.Sprintf("%s (run 'wingctl upgrade Basic' or 'wingctl upgrade Premium')", e.Message)
	}
	return e.Message
}

type apiClient struct {
	base   string
	token  string
	client *http.Client
}

func newAPIClient(base, token string) *apiClient {
	return &apiClient{
		base:   strings.TrimRight(base, "/"),
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

// clientFromCredentials builds a client for the signed-in user.
func clientFromCredentials() (*apiClient, credentials, error) {
	creds, err := loadCredentials(credsPath)
	if err != nil {
		return nil, creds, err
	}
	if creds.Token == "" {
		return nil, creds, fmt.Errorf("not signed in, run 'wingctl login <email>' first")
	}
	return newAPIClient(resolveServer(creds), creds.Token), creds, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	target := c.base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var e struct {
			Error   string `json:"error"`
			Code    string `json:"code"`
			Upgrade bool   `json:"upgrade"`
		}
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = fmt.Sprintf("server answered %s", resp.Status)
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error, Code: e.Code, Upgrade: e.Upgrade}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
