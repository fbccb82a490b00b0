package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "github.com/tillsync-io/tillsync/internal/errors"
	"github.com/tillsync-io/tillsync/internal/models"
)

// Backend method names, appended to /api/method/.
const (
	MethodSubmitSale     = "tailpos_sync.api.submit_sale"
	MethodUpsertCustomer = "tailpos_sync.api.upsert_customer"
	MethodUpdateItem     = "tailpos_sync.api.update_item"
	MethodAdjustStock    = "tailpos_sync.api.adjust_stock"
	MethodGetCategories  = "tailpos_sync.api.get_categories"
	MethodGetItems       = "tailpos_sync.api.get_items"
	MethodGetCustomers   = "tailpos_sync.api.get_customers"
)

// DefaultTimeout bounds one request round-trip.
const DefaultTimeout = 30 * time.Second

// Config holds client configuration.
type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

// Client speaks the backend's method-endpoint REST dialect. Safe for
// concurrent use; endpoint and credentials can be swapped at runtime.
type Client struct {
	mu        sync.RWMutex
	baseURL   string
	apiKey    string
	apiSecret string

	httpClient *http.Client
}

// NewClient creates a Client. Credentials may be empty until Configure.
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL:   strings.TrimRight(config.BaseURL, "/"),
		apiKey:    config.APIKey,
		apiSecret: config.APISecret,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

// Configure swaps the backend endpoint and credentials.
func (c *Client) Configure(baseURL, apiKey, apiSecret string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(baseURL, "/")
	c.apiKey = apiKey
	c.apiSecret = apiSecret
}

// Configured reports whether a backend and credentials are set.
func (c *Client) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL != "" && c.apiKey != ""
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// Push sends pre-marshalled payload bytes to a method endpoint. The
// payload moves as-is; the client never inspects it.
func (c *Client) Push(ctx context.Context, method string, payload json.RawMessage) error {
	_, err := c.call(ctx, http.MethodPost, method, payload)
	return err
}

// SubmitSale pushes one sale receipt payload.
func (c *Client) SubmitSale(ctx context.Context, payload json.RawMessage) error {
	return c.Push(ctx, MethodSubmitSale, payload)
}

// GetCategories pulls the full remote category set.
func (c *Client) GetCategories(ctx context.Context) ([]models.Category, error) {
	var out []models.Category
	if err := c.pull(ctx, MethodGetCategories, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProducts pulls the full remote item set.
func (c *Client) GetProducts(ctx context.Context) ([]models.Product, error) {
	var out []models.Product
	if err := c.pull(ctx, MethodGetItems, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCustomers pulls the full remote customer set.
func (c *Client) GetCustomers(ctx context.Context) ([]models.Customer, error) {
	var out []models.Customer
	if err := c.pull(ctx, MethodGetCustomers, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// pull performs a GET and decodes the unwrapped message into out.
func (c *Client) pull(ctx context.Context, method string, out interface{}) error {
	msg, err := c.call(ctx, http.MethodGet, method, nil)
	if err != nil {
		return err
	}
	if len(msg) == 0 || string(msg) == "null" {
		return nil
	}
	if err := json.Unmarshal(msg, out); err != nil {
		return &Error{Category: CategoryServer, Message: "malformed payload from " + method, Err: err}
	}
	return nil
}

// call performs one round-trip and unwraps the {"message": ...} envelope.
func (c *Client) call(ctx context.Context, httpMethod, method string, body json.RawMessage) (json.RawMessage, error) {
	c.mu.RLock()
	baseURL := c.baseURL
	apiKey := c.apiKey
	apiSecret := c.apiSecret
	c.mu.RUnlock()

	if baseURL == "" || apiKey == "" {
		return nil, apperrors.New(apperrors.ErrSyncNotConfigured, "no backend credentials configured")
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, baseURL+"/api/method/"+method, rdr)
	if err != nil {
		return nil, &Error{Category: CategoryValidation, Message: "building request failed", Err: err}
	}
	req.Header.Set("Authorization", "token "+apiKey+":"+apiSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Category: Categorize(err, 0), Message: "request to " + method + " failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Category: CategoryNetwork, Message: "reading response failed", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Category:   Categorize(nil, resp.StatusCode),
			Message:    snippet(data),
			StatusCode: resp.StatusCode,
		}
	}

	var envelope struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &Error{
			Category:   CategoryServer,
			Message:    "malformed response envelope",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	return envelope.Message, nil
}

// snippet trims a server error body down to something loggable.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		s = "request rejected"
	}
	return s
}
