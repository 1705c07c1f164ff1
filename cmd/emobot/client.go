package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kalambet/emobot/internal/api"
	"github.com/kalambet/emobot/internal/config"
)

// apiClient talks to a running emobot server.
type apiClient struct {
	http *resty.Client
}

func newClient(baseURL, token string) *apiClient {
	return &apiClient{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetAuthToken(token).
			SetTimeout(30 * time.Second),
	}
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.LoadClient(configFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newClient(serverURL(cfg), cfg.Server.APIToken), nil
}

func serverURL(cfg config.Config) string {
	host, port, err := net.SplitHostPort(cfg.Server.Listen)
	if err != nil {
		return "http://" + cfg.Server.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// do sends body as JSON and decodes a successful response into result.
// Error responses are returned as their message.
func (c *apiClient) do(ctx context.Context, method, path string, body, result any) error {
	var apiErr api.ErrorBody
	req := c.http.R().
		SetContext(ctx).
		SetError(&apiErr).
		ForceContentType("application/json")
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("server not reachable, is emobot running? (%w)", err)
	}
	if resp.IsError() {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode(), apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode())
	}
	return nil
}

func (c *apiClient) get(ctx context.Context, path string, result any) error {
	return c.do(ctx, resty.MethodGet, path, nil, result)
}

func (c *apiClient) post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, resty.MethodPost, path, body, result)
}

func (c *apiClient) put(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, resty.MethodPut, path, body, result)
}

func (c *apiClient) delete(ctx context.Context, path string, result any) error {
	return c.do(ctx, resty.MethodDelete, path, nil, result)
}

// health reports whether a server answers on the health endpoint.
func (c *apiClient) health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	return err == nil && resp.StatusCode() == 200
}
