package soloracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Query statuses reported by the daemon.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Client wraps the HTTP interactions with the SolOracle Chain REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// QueryRequest is the payload required to submit an oracle query.
type QueryRequest struct {
	ID           string         `json:"id,omitempty"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Prompt       string         `json:"prompt"`
	DryRun       bool           `json:"dry_run,omitempty"`
	Maker        string         `json:"maker,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Addresses lists the derived accounts of one query.
type Addresses struct {
	Maker            string `json:"maker"`
	Counter          string `json:"counter"`
	CounterValue     uint32 `json:"counter_value"`
	CounterObserved  bool   `json:"counter_observed"`
	Context          string `json:"context"`
	ContextBump      uint8  `json:"context_bump"`
	ContextSource    string `json:"context_source"`
	Agent            string `json:"agent"`
	AgentBump        uint8  `json:"agent_bump"`
	Interaction      string `json:"interaction"`
	InteractionBump  uint8  `json:"interaction_bump"`
	Identity         string `json:"identity"`
	AgentInitialized bool   `json:"agent_initialized"`
}

// QueryResult holds the outcome of an executed query.
type QueryResult struct {
	Addresses           Addresses `json:"addresses"`
	InitializeSignature string    `json:"initialize_signature,omitempty"`
	AskSignature        string    `json:"ask_signature,omitempty"`
	StoredPrompt        string    `json:"stored_prompt,omitempty"`
	Response            string    `json:"response,omitempty"`
	TimedOut            bool      `json:"timed_out"`
	DryRun              bool      `json:"dry_run"`
	Notes               []string  `json:"notes,omitempty"`
}

// Query is the daemon's view of a submitted query.
type Query struct {
	ID           string         `json:"id"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Prompt       string         `json:"prompt"`
	DryRun       bool           `json:"dry_run,omitempty"`
	Maker        string         `json:"maker,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Status       string         `json:"status"`
	Attempts     int            `json:"attempts"`
	MaxRetries   int            `json:"max_retries"`
	LastError    string         `json:"last_error,omitempty"`
	ErrorCode    string         `json:"error_code,omitempty"`
	Result       *QueryResult   `json:"result,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	UpdatedAt    int64          `json:"updated_at"`
}

// Done reports whether the query reached a final state.
func (q Query) Done() bool {
	return q.Status == StatusSucceeded || q.Status == StatusFailed
}

// QueryStats aggregates query counts by status.
type QueryStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	TimedOut        int   `json:"timed_out"`
	DryRun          int   `json:"dry_run"`
	OldestUpdatedAt int64 `json:"oldest_updated_at"`
	NewestUpdatedAt int64 `json:"newest_updated_at"`
}

// ListFilter narrows ListQueries results. Zero fields are not sent.
type ListFilter struct {
	Limit    int
	Offset   int
	Statuses []string
	Query    string
	Agent    string
	DryRun   *bool
	TimedOut *bool
}

// DeriveRequest asks the daemon to derive a program address offline.
type DeriveRequest struct {
	Program string   `json:"program"`
	Seeds   []string `json:"seeds"`
	Bump    *uint8   `json:"bump,omitempty"`
}

// Derived is a derived address and its bump.
type Derived struct {
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("soloracle api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("soloracle api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the SolOracle Chain API. When
// httpClient is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// WithToken returns a copy of the client that sends token as a bearer
// credential.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = strings.TrimSpace(token)
	return &clone
}

// SubmitQuery enqueues a query and returns its initial state.
func (c *Client) SubmitQuery(ctx context.Context, req QueryRequest) (Query, error) {
	var query Query
	if err := c.post(ctx, "/api/v1/queries", req, &query); err != nil {
		return Query{}, err
	}
	return query, nil
}

// GetQuery fetches a query by identifier.
func (c *Client) GetQuery(ctx context.Context, id string) (Query, error) {
	if strings.TrimSpace(id) == "" {
		return Query{}, errors.New("soloracle: query id is empty")
	}
	var query Query
	if err := c.get(ctx, "/api/v1/queries/"+url.PathEscape(id), nil, &query); err != nil {
		return Query{}, err
	}
	return query, nil
}

// ListQueries returns queries matching filter, most recently updated first.
func (c *Client) ListQueries(ctx context.Context, filter ListFilter) ([]Query, error) {
	var out struct {
		Tasks []Query `json:"tasks"`
	}
	if err := c.get(ctx, "/api/v1/queries", filter.values(), &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// Stats returns aggregated counts for queries matching filter.
func (c *Client) Stats(ctx context.Context, filter ListFilter) (QueryStats, error) {
	var stats QueryStats
	if err := c.get(ctx, "/api/v1/queries/stats", filter.values(), &stats); err != nil {
		return QueryStats{}, err
	}
	return stats, nil
}

// WaitForQuery polls GetQuery every interval until the query is done or ctx
// ends.
func (c *Client) WaitForQuery(ctx context.Context, id string, interval time.Duration) (Query, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		query, err := c.GetQuery(ctx, id)
		if err != nil {
			return Query{}, err
		}
		if query.Done() {
			return query, nil
		}
		select {
		case <-ctx.Done():
			return query, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Derive computes a program derived address on the daemon.
func (c *Client) Derive(ctx context.Context, req DeriveRequest) (Derived, error) {
	var derived Derived
	if err := c.post(ctx, "/api/v1/pda/derive", req, &derived); err != nil {
		return Derived{}, err
	}
	return derived, nil
}

// Plan resolves the oracle account set for maker.
func (c *Client) Plan(ctx context.Context, maker string) (Addresses, error) {
	var addrs Addresses
	if err := c.get(ctx, "/api/v1/oracle/plan", url.Values{"maker": {maker}}, &addrs); err != nil {
		return Addresses{}, err
	}
	return addrs, nil
}

func (f ListFilter) values() url.Values {
	values := url.Values{}
	if f.Limit > 0 {
		values.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		values.Set("offset", strconv.Itoa(f.Offset))
	}
	if len(f.Statuses) > 0 {
		values.Set("status", strings.Join(f.Statuses, ","))
	}
	if f.Query != "" {
		values.Set("q", f.Query)
	}
	if f.Agent != "" {
		values.Set("agent", f.Agent)
	}
	if f.DryRun != nil {
		values.Set("dry_run", strconv.FormatBool(*f.DryRun))
	}
	if f.TimedOut != nil {
		values.Set("timed_out", strconv.FormatBool(*f.TimedOut))
	}
	return values
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr}); err != nil {
				_ = json.Unmarshal(data, &apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
