package manager

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"vumock/internal/config"
	"vumock/internal/middleware"
	"vumock/internal/store"
	"vumock/internal/vuforia"
)

// ErrTransport wraps network failures reaching the target manager. Callers
// surface a server error and never retry: the protocol has no idempotency
// key, so retrying a mutation is not safe.
var ErrTransport = errors.New("manager: target manager unreachable")

// Client is the faces' typed view of the target manager API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(cfg config.ManagerConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) ListDatabases(ctx context.Context) ([]*vuforia.Database, error) {
	var databases []*vuforia.Database
	if err := c.do(ctx, http.MethodGet, "/databases", nil, http.StatusOK, &databases); err != nil {
		return nil, err
	}
	return databases, nil
}

func (c *Client) CreateDatabase(ctx context.Context, database *vuforia.Database) (*vuforia.Database, error) {
	body := createDatabaseRequest{
		Name:            database.Name,
		ServerAccessKey: database.ServerAccessKey,
		ServerSecretKey: database.ServerSecretKey,
		ClientAccessKey: database.ClientAccessKey,
		ClientSecretKey: database.ClientSecretKey,
		State:           string(database.State),
	}
	var created vuforia.Database
	if err := c.do(ctx, http.MethodPost, "/databases", body, http.StatusCreated, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) DeleteDatabase(ctx context.Context, name string) error {
	path := "/databases/" + url.PathEscape(name)
	return c.do(ctx, http.MethodDelete, path, nil, http.StatusOK, nil)
}

func (c *Client) CreateTarget(ctx context.Context, databaseName string, params store.CreateTargetParams) (*vuforia.Target, error) {
	body := createTargetRequest{
		Name:                params.Name,
		Kind:                string(params.Kind),
		Width:               params.Width,
		ImageBase64:         base64.StdEncoding.EncodeToString(params.Image),
		ActiveFlag:          params.ActiveFlag,
		ApplicationMetadata: params.ApplicationMetadata,
	}
	path := "/databases/" + url.PathEscape(databaseName) + "/targets"
	var target vuforia.Target
	if err := c.do(ctx, http.MethodPost, path, body, http.StatusCreated, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

func (c *Client) UpdateTarget(ctx context.Context, databaseName, targetID string, params store.UpdateTargetParams) (*vuforia.Target, error) {
	body := updateTargetRequest{
		Name:                params.Name,
		Width:               params.Width,
		ActiveFlag:          params.ActiveFlag,
		ApplicationMetadata: params.ApplicationMetadata,
	}
	if params.Image != nil {
		encoded := base64.StdEncoding.EncodeToString(params.Image)
		body.ImageBase64 = &encoded
	}
	path := "/databases/" + url.PathEscape(databaseName) + "/targets/" + url.PathEscape(targetID)
	var target vuforia.Target
	if err := c.do(ctx, http.MethodPut, path, body, http.StatusOK, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

func (c *Client) DeleteTarget(ctx context.Context, databaseName, targetID string) (*vuforia.Target, error) {
	path := "/databases/" + url.PathEscape(databaseName) + "/targets/" + url.PathEscape(targetID)
	var target vuforia.Target
	if err := c.do(ctx, http.MethodDelete, path, nil, http.StatusOK, &target); err != nil {
		return nil, err
	}
	return &target, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID := middleware.RequestIDFromContext(ctx); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return statusError(resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError maps the internal API's status codes back onto the store's
// sentinel errors so the faces handle local and remote stores identically.
func statusError(status int) error {
	switch status {
	case http.StatusNotFound:
		return store.ErrTargetNotFound
	case http.StatusConflict:
		return store.ErrNameConflict
	case http.StatusUnprocessableEntity:
		return &store.ValidationError{Field: "request", Reason: "rejected by target manager"}
	default:
		return fmt.Errorf("manager: unexpected status %d", status)
	}
}
