package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// apiClient talks to the daemon's localhost API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			// Generous: sync --wait holds the request for a whole run.
			Timeout: 10 * time.Minute,
		},
	}
}

// apiError is a non-2xx response decoded from the daemon's error body.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("daemon returned status %d", e.Status)
}

func (c *apiClient) get(path string, out interface{}) error {
	data, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.decode(data, out)
}

func (c *apiClient) post(path string, body, out interface{}) error {
	data, err := c.do(http.MethodPost, path, body)
	if err != nil {
		return err
	}
	return c.decode(data, out)
}

func (c *apiClient) decode(data []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("malformed response from daemon: %w", err)
	}
	return nil
}

func (c *apiClient) do(method, path string, body interface{}) ([]byte, error) {
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach the daemon at %s (is tillsyncd running?): %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		result := &apiError{Status: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(data, &errBody) == nil {
			result.Message = errBody.Error
			result.Code = errBody.Code
		}
		return nil, result
	}

	return data, nil
}

// printRaw fetches and prints the raw response body, for --json.
func printRaw(c *apiClient, method, path string, body interface{}) error {
	data, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
