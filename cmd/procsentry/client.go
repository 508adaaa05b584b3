package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// APIClient provides HTTP client functionality to communicate with the procsentry daemon
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = "http://localhost:8080/api"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &APIClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode != http.StatusNotFound
}

// Processes lists tracked processes. All arguments are optional.
func (c *APIClient) Processes(name, security, sort string) (interface{}, error) {
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if security != "" {
		q.Set("security", security)
	}
	if sort != "" {
		q.Set("sort", sort)
	}
	u := c.baseURL + "/processes"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.getJSON(u)
}

// Process fetches a single process record by pid
func (c *APIClient) Process(pid int) (interface{}, error) {
	return c.getJSON(fmt.Sprintf("%s/processes/%d", c.baseURL, pid))
}

// Terminate requests a termination for pid with the given strategy
func (c *APIClient) Terminate(pid int, strategy string) (interface{}, error) {
	body := map[string]interface{}{"pid": pid, "strategy": strategy}
	return c.postJSON(c.baseURL+"/terminate", body)
}

// TerminateBatch requests termination of several pids
func (c *APIClient) TerminateBatch(pids []int, strategy string) (interface{}, error) {
	body := map[string]interface{}{"pids": pids, "strategy": strategy}
	return c.postJSON(c.baseURL+"/terminate/batch", body)
}

// ForceQuit requests an emergency force quit for pid
func (c *APIClient) ForceQuit(pid int) (interface{}, error) {
	body := map[string]interface{}{"pid": pid}
	return c.postJSON(c.baseURL+"/terminate/force", body)
}

// Results fetches recent termination results
func (c *APIClient) Results() (interface{}, error) {
	return c.getJSON(c.baseURL + "/results")
}

// Health fetches the engine health report
func (c *APIClient) Health() (interface{}, error) {
	return c.getJSON(c.baseURL + "/health")
}

// Refresh triggers a synchronous reconciliation scan
func (c *APIClient) Refresh() error {
	_, err := c.postJSON(c.baseURL+"/refresh", nil)
	return err
}

func (c *APIClient) getJSON(u string) (interface{}, error) {
	resp, err := c.client.Get(u)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp)
}

func (c *APIClient) postJSON(u string, body interface{}) (interface{}, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	resp, err := c.client.Post(u, "application/json", reader)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp)
}

// decodeResponse returns the decoded body. Non-2xx responses that still
// carry a result body (failed terminations) return both the body and an error.
func decodeResponse(resp *http.Response) (interface{}, error) {
	var result interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return result, nil
	}
	if m, ok := result.(map[string]interface{}); ok {
		if e, ok := m["error"].(string); ok {
			return nil, fmt.Errorf("API error: %s", e)
		}
		if r, ok := m["reason"].(string); ok {
			return result, fmt.Errorf("request not completed: %s", r)
		}
	}
	return result, fmt.Errorf("API error: status %d", resp.StatusCode)
}
