package conventionsdk

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

// Client is a minimal conventions HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path, e.g. http://host:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Convention represents the API convention model (partial).
type Convention struct {
	ID             string         `json:"id"`
	ConventionType string         `json:"convention_type"`
	Status         string         `json:"status"`
	IsMinor        bool           `json:"is_minor"`
	Student        map[string]any `json:"student"`
	Company        map[string]any `json:"company"`
	CreatedBy      string         `json:"created_by"`
	CreatedAt      string         `json:"created_at"`
}

// ConventionDetail is a convention with its periods and document identity.
type ConventionDetail struct {
	Convention Convention       `json:"convention"`
	Periods    []map[string]any `json:"periods"`
	Title      string           `json:"title"`
	Code       string           `json:"code"`
}

// Signature is a recorded signature.
type Signature struct {
	ID            string `json:"id"`
	ConventionID  string `json:"convention_id"`
	SignerRole    string `json:"signer_role"`
	SignerName    string `json:"signer_name"`
	SignerEmail   string `json:"signer_email,omitempty"`
	SignatureData string `json:"signature_data"`
	SignedAt      string `json:"signed_at,omitempty"`
}

// SignRequest is the body of a signature submission.
type SignRequest struct {
	SignerRole    string `json:"signer_role"`
	SignerName    string `json:"signer_name"`
	SignerEmail   string `json:"signer_email,omitempty"`
	SignatureData string `json:"signature_data"`
}

// SignResult reports the status after a signature.
type SignResult struct {
	Signature     Signature   `json:"signature"`
	Status        string      `json:"status"`
	StatusChanged bool        `json:"status_changed"`
	Signatures    []Signature `json:"signatures"`
}

// Eligibility tells which roles may sign now.
type Eligibility struct {
	ConventionID string            `json:"convention_id"`
	Status       string            `json:"status"`
	Sequence     []string          `json:"sequence"`
	CanSign      map[string]bool   `json:"can_sign"`
	Signed       map[string]bool   `json:"signed"`
	Next         string            `json:"next,omitempty"`
	Labels       map[string]string `json:"labels"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the machine-readable error code when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a token and keeps it on the client.
func (c *Client) Login(ctx context.Context, login, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"login": login, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

// CreateConvention creates a draft. body follows the API's convention request schema.
func (c *Client) CreateConvention(ctx context.Context, body any) (ConventionDetail, error) {
	var resp ConventionDetail
	err := c.do(ctx, http.MethodPost, "conventions", body, &resp)
	return resp, err
}

// GetConvention fetches one convention.
func (c *Client) GetConvention(ctx context.Context, id string) (ConventionDetail, error) {
	var resp ConventionDetail
	err := c.do(ctx, http.MethodGet, "conventions/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// SubmitConvention opens signature collection.
func (c *Client) SubmitConvention(ctx context.Context, id string) (Convention, error) {
	var resp Convention
	err := c.do(ctx, http.MethodPost, "conventions/"+url.PathEscape(id)+"/submit", nil, &resp)
	return resp, err
}

// Sign records a signature.
func (c *Client) Sign(ctx context.Context, conventionID string, req SignRequest) (SignResult, error) {
	var resp SignResult
	err := c.do(ctx, http.MethodPost, "conventions/"+url.PathEscape(conventionID)+"/signatures", req, &resp)
	return resp, err
}

// Eligibility returns which roles may sign a convention now.
func (c *Client) Eligibility(ctx context.Context, conventionID string) (Eligibility, error) {
	var resp Eligibility
	err := c.do(ctx, http.MethodGet, "conventions/"+url.PathEscape(conventionID)+"/signatures/eligibility", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
