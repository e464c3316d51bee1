// Package websearch provides a Tavily search client together with the
// formatting helpers that turn raw results into a bounded context block for
// answer synthesis.
package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.tavily.com"
	defaultTimeout = 30 * time.Second

	// DefaultMaxResults bounds how many results a single search requests.
	// Results arrive relevance-ranked, so a small number is enough for
	// synthesis.
	DefaultMaxResults = 5
)

// Result is a single web search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// StatusError is returned when the search API answers with a non-200 status.
// RetryAfter is populated from the Retry-After header on 429 responses.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("tavily: status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("tavily: status %d", e.Code)
}

// HTTPStatus returns the upstream status code.
func (e *StatusError) HTTPStatus() int { return e.Code }

// RetryDelay returns the server-suggested wait before retrying, zero when
// the response carried no hint.
func (e *StatusError) RetryDelay() time.Duration { return e.RetryAfter }

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	se := &StatusError{
		Code: resp.StatusCode,
		Body: strings.TrimSpace(string(body)),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
				se.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	}
	return se
}

// Client communicates with the Tavily search API.
type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
}

// NewClient creates a Tavily client with the given API key. maxResults <= 0
// falls back to DefaultMaxResults.
func NewClient(apiKey string, maxResults int) *Client {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		maxResults: maxResults,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewClientWithBaseURL(apiKey, baseURL string, maxResults int) *Client {
	c := NewClient(apiKey, maxResults)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Available reports whether the client can perform searches. A nil client
// or a missing API key means web search is disabled.
func (c *Client) Available() bool {
	return c != nil && c.apiKey != ""
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search runs a web search for the query and returns the ranked results.
// Result content is stripped of HTML markup before it is returned.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:     c.apiKey,
		Query:      query,
		MaxResults: c.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	for i := range sr.Results {
		sr.Results[i].Content = StripHTML(sr.Results[i].Content)
	}
	return sr.Results, nil
}
