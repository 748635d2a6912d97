package testlinesdk

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
)

// Client is a minimal Testline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// TestCase represents the API case model (partial).
type TestCase struct {
	ID           string         `json:"id"`
	TestSuiteID  string         `json:"test_suite_id"`
	Name         string         `json:"name"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Steps        []TestStep     `json:"steps"`
	Dependencies []string       `json:"dependencies,omitempty"`
	SharedData   map[string]any `json:"shared_data,omitempty"`
}

type TestStep struct {
	ID              string `json:"id"`
	Order           int    `json:"order"`
	Action          string `json:"action"`
	Selector        string `json:"selector"`
	Value           string `json:"value,omitempty"`
	ExpectedOutcome string `json:"expected_outcome,omitempty"`
}

// RunReport represents a simulated run result.
type RunReport struct {
	ID           string `json:"id"`
	TestCaseID   string `json:"test_case_id"`
	TestCaseName string `json:"test_case_name"`
	Status       string `json:"status"`
	Browser      string `json:"browser"`
	DurationMS   int64  `json:"duration_ms"`
}

// SharedDataItem is one propagated value.
type SharedDataItem struct {
	ID           string          `json:"id"`
	Key          string          `json:"key"`
	Value        json.RawMessage `json:"value"`
	SourceCaseID string          `json:"source_case_id,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project and its default suite.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name, "description": description}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

// GetCase fetches a case with steps and dependencies.
func (c *Client) GetCase(ctx context.Context, id string) (TestCase, error) {
	var resp TestCase
	err := c.do(ctx, http.MethodGet, "v1/cases/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// GenerateCase drafts a case from a requirement sentence.
func (c *Client) GenerateCase(ctx context.Context, suiteID, requirement string, dependencies []string) (TestCase, error) {
	body := map[string]any{"requirement": requirement, "dependencies": dependencies}
	var resp TestCase
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/suites/%s/generate", url.PathEscape(suiteID)), body, &resp)
	return resp, err
}

// RunCase runs a case in the simulator.
func (c *Client) RunCase(ctx context.Context, caseID, browser string) (RunReport, error) {
	body := map[string]any{"browser": browser}
	var resp RunReport
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v1/cases/%s/run", url.PathEscape(caseID)), body, &resp)
	return resp, err
}

// UpsertSharedData writes a shared value by key.
func (c *Client) UpsertSharedData(ctx context.Context, key string, value any) (SharedDataItem, error) {
	body := map[string]any{"key": key, "value": value}
	var resp SharedDataItem
	err := c.do(ctx, http.MethodPut, "v1/shared-data", body, &resp)
	return resp, err
}

// ListReports returns run reports, optionally filtered by case.
func (c *Client) ListReports(ctx context.Context, caseID string, limit int) ([]RunReport, error) {
	endpoint := "v1/reports"
	params := url.Values{}
	if caseID != "" {
		params.Set("case_id", caseID)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []RunReport
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns events after the given cursor id.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v1/events?after=%d", after)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
