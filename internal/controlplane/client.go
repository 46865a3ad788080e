package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"branchlab/internal/models"
)

// Client talks to the managed service's administrative API. It is an explicit
// handle: callers construct one and pass it down, there is no package-level
// singleton.
type Client struct {
	http *resty.Client
}

func New(baseURL, token string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetTimeout(60 * time.Second)

	return &Client{http: httpClient}
}

// envelope matches the API's response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var env envelope
	var errEnv envelope

	req := c.http.R().
		SetContext(ctx).
		SetResult(&env).
		SetError(&errEnv)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("control plane request %s %s: %w", method, path, err)
	}

	if resp.IsError() {
		return &APIError{
			Status:  resp.StatusCode(),
			Code:    errEnv.Error,
			Message: errEnv.Message,
		}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode control plane response: %w", err)
		}
	}
	return nil
}

func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := c.do(ctx, resty.MethodGet, "/v1/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

func (c *Client) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	var project models.Project
	if err := c.do(ctx, resty.MethodPost, "/v1/projects", req, &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// GetProject returns (nil, nil) when the project does not exist.
func (c *Client) GetProject(ctx context.Context, name string) (*models.Project, error) {
	var project models.Project
	err := c.do(ctx, resty.MethodGet, "/v1/projects/"+name, nil, &project)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

func (c *Client) DeleteProject(ctx context.Context, name string) error {
	return c.do(ctx, resty.MethodDelete, "/v1/projects/"+name, nil, nil)
}

func (c *Client) ListBranches(ctx context.Context, project string) ([]models.Branch, error) {
	var branches []models.Branch
	path := fmt.Sprintf("/v1/projects/%s/branches", project)
	if err := c.do(ctx, resty.MethodGet, path, nil, &branches); err != nil {
		return nil, err
	}
	return branches, nil
}

// GetBranch returns (nil, nil) when the branch does not exist, so callers can
// treat absence as a value instead of catching a not-found error.
func (c *Client) GetBranch(ctx context.Context, project, branchID string) (*models.Branch, error) {
	var branch models.Branch
	path := fmt.Sprintf("/v1/projects/%s/branches/%s", project, branchID)
	err := c.do(ctx, resty.MethodGet, path, nil, &branch)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &branch, nil
}

// CreateBranch blocks until the service reports the branch as created.
func (c *Client) CreateBranch(ctx context.Context, project string, req models.CreateBranchRequest) (*models.Branch, error) {
	var branch models.Branch
	path := fmt.Sprintf("/v1/projects/%s/branches", project)
	if err := c.do(ctx, resty.MethodPost, path, req, &branch); err != nil {
		return nil, err
	}
	return &branch, nil
}

func (c *Client) DeleteBranch(ctx context.Context, project, branchID string) error {
	path := fmt.Sprintf("/v1/projects/%s/branches/%s", project, branchID)
	return c.do(ctx, resty.MethodDelete, path, nil, nil)
}

func (c *Client) ListEndpoints(ctx context.Context, project, branchID string) ([]models.Endpoint, error) {
	var endpoints []models.Endpoint
	path := fmt.Sprintf("/v1/projects/%s/branches/%s/endpoints", project, branchID)
	if err := c.do(ctx, resty.MethodGet, path, nil, &endpoints); err != nil {
		return nil, err
	}
	return endpoints, nil
}

// GenerateCredential mints a fresh short-lived token for an endpoint. The
// result is never cached; every session gets its own credential.
func (c *Client) GenerateCredential(ctx context.Context, project, branchID, endpoint string) (*models.Credential, error) {
	var cred models.Credential
	path := fmt.Sprintf("/v1/projects/%s/branches/%s/endpoints/%s/credentials", project, branchID, endpoint)
	if err := c.do(ctx, resty.MethodPost, path, nil, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// CheckpointBranch records a restorable snapshot of a branch. The managed
// service keeps continuous history and does not need this; the mock server
// only restores to explicitly recorded checkpoints.
func (c *Client) CheckpointBranch(ctx context.Context, project, branchID string) (time.Time, error) {
	var out struct {
		CheckpointTime time.Time `json:"checkpoint_time"`
	}
	path := fmt.Sprintf("/v1/projects/%s/branches/%s/checkpoint", project, branchID)
	if err := c.do(ctx, resty.MethodPost, path, nil, &out); err != nil {
		return time.Time{}, err
	}
	return out.CheckpointTime, nil
}
