package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/opaldolphin/opaldolphin/internal/shared/stringutils"
)

// WebFetchTool fetches a URL and returns readable article text.
type WebFetchTool struct {
	maxChars   int
	httpClient *http.Client
}

// NewWebFetchTool creates a WebFetchTool. maxChars defaults to 20000 and
// timeoutSeconds to 15.
func NewWebFetchTool(maxChars, timeoutSeconds int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = 20000
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 15
	}
	return &WebFetchTool{
		maxChars:   maxChars,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }
func (t *WebFetchTool) Description() string {
	return "Fetch a web page and return its readable text content."
}

func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The http(s) URL to fetch",
			},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return "Error: url is required", nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Sprintf("Error: invalid URL %q (http/https only)", rawURL), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("Error fetching %s: %v", rawURL, err), nil
	}
	defer resp.Body.Close()

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return fmt.Sprintf("Error extracting content from %s: %v", rawURL, err), nil
	}

	out := article.TextContent
	if article.Title != "" {
		out = article.Title + "\n\n" + out
	}
	return stringutils.Truncate(out, t.maxChars), nil
}
