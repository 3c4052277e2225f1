package vectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/datamancy/toolhost/pkg/hosterror"
)

// Client talks to a Qdrant instance over its HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Qdrant client. The API key is sent on every
// request; Qdrant ignores the header when auth is disabled.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ScoredPoint is a single search hit.
type ScoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Search runs a nearest-neighbour query against one collection.
func (c *Client) Search(ctx context.Context, collection string, vector []float64, limit int) ([]ScoredPoint, error) {
	reqBody := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}

	var result struct {
		Result []ScoredPoint `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", collection)
	if err := c.post(ctx, path, reqBody, &result); err != nil {
		return nil, err
	}
	return result.Result, nil
}

// Collections lists the collection names on the instance.
func (c *Client) Collections(ctx context.Context) ([]string, error) {
	var result struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := c.get(ctx, "/collections", &result); err != nil {
		return nil, err
	}

	names := make([]string, len(result.Result.Collections))
	for i, col := range result.Result.Collections {
		names[i] = col.Name
	}
	return names, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return hosterror.Backendf("vector store unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		body, _ := io.ReadAll(resp.Body)
		return hosterror.New(hosterror.CodeNotFound, "vector store: %s", truncateBody(body))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return hosterror.Backendf("vector store error (status %d): %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return hosterror.Backendf("failed to decode vector store response: %v", err)
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 160
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}
