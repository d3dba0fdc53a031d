// Package rest implements adapter.Backend for storefront backends that speak
// the generic collection contract: one fetch endpoint and four mutation
// endpoints per collection, answering with the collection or a bare ack.
package rest

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

	"storesync/internal/adapter"
	"storesync/internal/model"
	"storesync/internal/normalize"
)

const serviceName = "backend"

// maxBodyBytes bounds response reads.
const maxBodyBytes = 4 << 20

// Endpoints are path templates relative to the base URL. "{kind}" is
// replaced with the collection kind.
type Endpoints struct {
	Fetch    string `json:"fetch"`
	Add      string `json:"add"`
	Remove   string `json:"remove"`
	Increase string `json:"increase"`
	Decrease string `json:"decrease"`
}

// DefaultEndpoints returns the conventional layout.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Fetch:    "/{kind}",
		Add:      "/{kind}/add",
		Remove:   "/{kind}/remove",
		Increase: "/{kind}/increase",
		Decrease: "/{kind}/decrease",
	}
}

// withDefaults fills empty templates.
func (e Endpoints) withDefaults() Endpoints {
	return e.over(DefaultEndpoints())
}

// over fills e's empty templates from d.
func (e Endpoints) over(d Endpoints) Endpoints {
	if e.Fetch == "" {
		e.Fetch = d.Fetch
	}
	if e.Add == "" {
		e.Add = d.Add
	}
	if e.Remove == "" {
		e.Remove = d.Remove
	}
	if e.Increase == "" {
		e.Increase = d.Increase
	}
	if e.Decrease == "" {
		e.Decrease = d.Decrease
	}
	return e
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Credential string // Session bearer token
	APIKey     string // Optional store-level key, sent as X-API-Key
	Endpoints  Endpoints
	Transport  http.RoundTripper

	// Overrides replaces individual templates for one collection.
	Overrides map[model.Kind]Endpoints
	Timeout    time.Duration

	// Capabilities gates optional request features. Nil advertises nothing.
	Capabilities adapter.Capabilities
}

// Client talks to one backend on behalf of one session.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	credential   string
	apiKey       string
	endpoints    Endpoints
	overrides    map[model.Kind]Endpoints
	capabilities adapter.Capabilities
}

// New creates a REST backend client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("backend URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	caps := cfg.Capabilities
	if caps == nil {
		caps = adapter.NoCapabilities{}
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		credential:   cfg.Credential,
		apiKey:       cfg.APIKey,
		endpoints:    cfg.Endpoints.withDefaults(),
		overrides:    cfg.Overrides,
		capabilities: caps,
	}, nil
}

// mutationRequest is the body of every mutation call.
type mutationRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity,omitempty"`
}

// Fetch implements adapter.Backend.
func (c *Client) Fetch(ctx context.Context, req adapter.FetchRequest) (*adapter.FullCollection, error) {
	_, body, err := c.do(ctx, http.MethodGet, c.endpoint(c.endpointsFor(req.Collection).Fetch, req.Collection, req.Locale), nil, "")
	if err != nil {
		return nil, err
	}
	rows, ok := normalize.Decode(body)
	if !ok {
		return nil, model.NewMalformedError(serviceName)
	}
	return &adapter.FullCollection{Items: normalize.Items(rows)}, nil
}

// Mutate implements adapter.Backend.
func (c *Client) Mutate(ctx context.Context, m adapter.Mutation) (adapter.Response, error) {
	var (
		method = http.MethodPost
		tmpl   string
		body   = mutationRequest{ItemID: m.ItemID}
		eps    = c.endpointsFor(m.Collection)
	)
	switch m.Op {
	case adapter.OpAdd:
		tmpl = eps.Add
		if m.Quantity != 1 {
			body.Quantity = m.Quantity
		}
	case adapter.OpRemove:
		method = http.MethodDelete
		tmpl = eps.Remove
	case adapter.OpIncrease:
		tmpl = eps.Increase
	case adapter.OpDecrease:
		tmpl = eps.Decrease
	default:
		return nil, model.NewValidationError("op", fmt.Sprintf("unsupported operation %q", m.Op))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s request: %w", m.Op, err)
	}

	key := ""
	if m.IdempotencyKey != "" && c.capabilities.Supports(ctx, adapter.FeatureIdempotencyKey) {
		key = m.IdempotencyKey
	}

	status, respBody, err := c.do(ctx, method, c.endpoint(tmpl, m.Collection, m.Locale), payload, key)
	if err != nil {
		return nil, err
	}
	if rows, ok := normalize.Decode(respBody); ok {
		return &adapter.FullCollection{Items: normalize.Items(rows)}, nil
	}
	return &adapter.AckOnly{Status: status}, nil
}

func (c *Client) endpointsFor(kind model.Kind) Endpoints {
	if o, ok := c.overrides[kind]; ok {
		return o.over(c.endpoints)
	}
	return c.endpoints
}

func (c *Client) endpoint(tmpl string, kind model.Kind, locale string) string {
	u := c.baseURL + strings.ReplaceAll(tmpl, "{kind}", url.PathEscape(string(kind)))
	if locale != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + "locale=" + url.QueryEscape(locale)
	}
	return u
}

// do performs one request and returns the 2xx status and body.
func (c *Client) do(ctx context.Context, method, target string, payload []byte, idempotencyKey string) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, payload != nil)
	if err := adapter.SetIdempotencyKey(req, idempotencyKey); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, model.NewNetworkError(serviceName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, model.NewNetworkError(serviceName, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return 0, nil, parseErrorResponse(resp.StatusCode, body)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.credential != "" {
		req.Header.Set("Authorization", "Bearer "+c.credential)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

// errorResponse is the best-effort shape of backend error bodies.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// parseErrorResponse converts a backend error status to APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var e errorResponse
	json.Unmarshal(body, &e) // Best effort parse
	msg := e.Message
	if msg == "" {
		msg = e.Error
	}

	switch statusCode {
	case 401, 403:
		if msg == "" {
			msg = "backend rejected credentials"
		}
		return model.NewUnauthorizedError(msg)
	case 404:
		return model.NewNotFoundError("item")
	case 400, 422:
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError(serviceName)
	default:
		return model.NewUpstreamError(serviceName,
			fmt.Errorf("status %d: %s - %s", statusCode, e.Code, msg))
	}
}

// Verify Client implements Backend interface at compile time.
var _ adapter.Backend = (*Client)(nil)
