package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultSearchBaseURL = "https://api.duckduckgo.com"

// WebSearch queries the DuckDuckGo instant-answer API. An unreachable
// endpoint or a non-200 status is an execution error the engine feeds
// back to the model.
type WebSearch struct {
	baseURL string
	client  *http.Client
}

// NewWebSearch creates the web search tool. baseURL is overridable for
// tests; empty selects the public endpoint.
func NewWebSearch(baseURL string) *WebSearch {
	if baseURL == "" {
		baseURL = defaultSearchBaseURL
	}
	return &WebSearch{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *WebSearch) Name() string  { return "web_search" }
func (s *WebSearch) Label() string { return "Web Search" }

func (s *WebSearch) Description() string {
	return "Search the web for a short factual answer. Returns an abstract and related results for the query."
}

func (s *WebSearch) Params() []Param {
	return []Param{
		{Name: "query", Type: "string", Description: "Search query", Required: true},
		{Name: "max_results", Type: "integer", Description: "Maximum related results to return (default 3)", Required: false},
	}
}

type searchResponse struct {
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

func (s *WebSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	maxResults := 3
	if v, ok := args["max_results"].(float64); ok && v > 0 {
		maxResults = int(v)
	}

	endpoint := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var parts []string
	if parsed.Answer != "" {
		parts = append(parts, parsed.Answer)
	}
	if parsed.AbstractText != "" {
		abstract := parsed.AbstractText
		if parsed.AbstractURL != "" {
			abstract += " (" + parsed.AbstractURL + ")"
		}
		parts = append(parts, abstract)
	}
	for i, topic := range parsed.RelatedTopics {
		if i >= maxResults {
			break
		}
		if topic.Text == "" {
			continue
		}
		parts = append(parts, "- "+topic.Text)
	}

	if len(parts) == 0 {
		return "No results found for: " + query, nil
	}
	return strings.Join(parts, "\n"), nil
}
