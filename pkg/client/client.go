// Package client is a Go client for the fleet controller HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openshapes/fleet/pkg/api"
)

// Client talks to a fleet controller.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	adminTenant string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the timeout for the HTTP client.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithAdminTenant identifies the caller as an admin tenant for the admin
// endpoints.
func WithAdminTenant(tenantID string) ClientOption {
	return func(c *Client) {
		c.adminTenant = tenantID
	}
}

// NewClient creates a new fleet controller API client.
func NewClient(baseURL string, options ...ClientOption) *Client {
	client := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
	for _, option := range options {
		option(client)
	}
	return client
}

// APIError is a non-2xx response from the controller.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
	Log        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Kind, e.Message)
}

// CreateInstance provisions and starts a new instance.
func (c *Client) CreateInstance(tenantID string, req api.CreateInstanceRequest) (string, error) {
	return c.message("POST", fmt.Sprintf("/api/tenants/%s/instances", url.PathEscape(tenantID)), req)
}

// ListInstances returns the tenant's instances keyed by name.
func (c *Client) ListInstances(tenantID string) (map[string]api.InstanceRecord, error) {
	resp, err := c.doRequest("GET", fmt.Sprintf("/api/tenants/%s/instances", url.PathEscape(tenantID)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var instances map[string]api.InstanceRecord
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// StartInstance starts a stopped instance.
func (c *Client) StartInstance(tenantID, instanceName string) (string, error) {
	return c.message("POST", c.instancePath(tenantID, instanceName)+"/start", nil)
}

// StopInstance stops a running instance.
func (c *Client) StopInstance(tenantID, instanceName string) (string, error) {
	return c.message("POST", c.instancePath(tenantID, instanceName)+"/stop", nil)
}

// RestartInstance restarts an instance.
func (c *Client) RestartInstance(tenantID, instanceName string) (string, error) {
	return c.message("POST", c.instancePath(tenantID, instanceName)+"/restart", nil)
}

// DeleteInstance removes an instance, its container, and its artifacts.
func (c *Client) DeleteInstance(tenantID, instanceName string) (string, error) {
	return c.message("DELETE", c.instancePath(tenantID, instanceName), nil)
}

// InstanceLogs returns the last lines of an instance's output.
func (c *Client) InstanceLogs(tenantID, instanceName string, lines int) (*api.LogsResponse, error) {
	path := c.instancePath(tenantID, instanceName) + "/logs?lines=" + strconv.Itoa(lines)
	resp, err := c.doRequest("GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var logs api.LogsResponse
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		return nil, err
	}
	return &logs, nil
}

// InstanceStats returns a point-in-time resource snapshot for an instance.
func (c *Client) InstanceStats(tenantID, instanceName string) (*api.ResourceSnapshot, error) {
	resp, err := c.doRequest("GET", c.instancePath(tenantID, instanceName)+"/stats", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var snapshot api.ResourceSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Credits returns the tenant's remaining provisioning credits.
func (c *Client) Credits(tenantID string) (*api.CreditBalance, error) {
	resp, err := c.doRequest("GET", fmt.Sprintf("/api/tenants/%s/credits", url.PathEscape(tenantID)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var balance api.CreditBalance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// AllInstances lists every tenant's instances. Admin only.
func (c *Client) AllInstances() (map[string]map[string]api.InstanceRecord, error) {
	resp, err := c.doRequest("GET", "/api/admin/instances", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var instances map[string]map[string]api.InstanceRecord
	if err := json.NewDecoder(resp.Body).Decode(&instances); err != nil {
		return nil, err
	}
	return instances, nil
}

// AdminDeleteInstance removes any tenant's instance. Admin only.
func (c *Client) AdminDeleteInstance(tenantID, instanceName string) (string, error) {
	path := fmt.Sprintf("/api/admin/tenants/%s/instances/%s",
		url.PathEscape(tenantID), url.PathEscape(instanceName))
	return c.message("DELETE", path, nil)
}

// SetInstanceLimit changes the global per-tenant instance cap. Admin only.
func (c *Client) SetInstanceLimit(maxInstances int) (string, error) {
	return c.message("POST", "/api/admin/limit", api.AdminLimitRequest{MaxInstances: maxInstances})
}

// GrantCredits adds credits to a tenant's balance. Admin only.
func (c *Client) GrantCredits(tenantID string, credits int) (*api.CreditBalance, error) {
	resp, err := c.doRequest("POST", "/api/admin/credits",
		api.AdminCreditsRequest{TenantID: tenantID, Credits: credits})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var balance api.CreditBalance
	if err := json.NewDecoder(resp.Body).Decode(&balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// PullBaseImage refreshes the controller's base image. Admin only.
func (c *Client) PullBaseImage() (string, error) {
	return c.message("POST", "/api/admin/image/pull", nil)
}

func (c *Client) instancePath(tenantID, instanceName string) string {
	return fmt.Sprintf("/api/tenants/%s/instances/%s",
		url.PathEscape(tenantID), url.PathEscape(instanceName))
}

// message performs a request whose success body is a MessageResponse.
func (c *Client) message(method, path string, body interface{}) (string, error) {
	resp, err := c.doRequest(method, path, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var msg api.MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		return "", err
	}
	return msg.Message, nil
}

func (c *Client) doRequest(method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.adminTenant != "" {
		req.Header.Set("X-Admin-Tenant", c.adminTenant)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return nil, fmt.Errorf("HTTP error: %s", resp.Status)
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Kind:       apiErr.Kind,
			Message:    apiErr.Error,
			Log:        apiErr.Log,
		}
	}
	return resp, nil
}
