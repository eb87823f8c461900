package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	braveSearchURL = "https://api.search.brave.com/res/v1/web/search"
	userAgent      = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36"
	maxRedirects   = 5

	// DefaultFetchMaxChars caps web_fetch output when no limit is given.
	DefaultFetchMaxChars = 50000
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]+`)
)

// WebSearchTool queries the Brave Search API.
type WebSearchTool struct {
	apiKey     string
	maxResults int
	endpoint   string
	client     *http.Client
}

// NewWebSearchTool creates web_search. An empty apiKey falls back to BRAVE_API_KEY.
func NewWebSearchTool(apiKey string, maxResults int) *WebSearchTool {
	if apiKey == "" {
		apiKey = os.Getenv("BRAVE_API_KEY")
	}
	if maxResults <= 0 {
		maxResults = 5
	}
	return &WebSearchTool{
		apiKey:     apiKey,
		maxResults: maxResults,
		endpoint:   braveSearchURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Description() string {
	return "Search the web. Returns titles, URLs, and snippets."
}

func (t *WebSearchTool) Parameters() *Schema {
	count := Integer("Number of results (1-10)")
	count.Minimum = Float(1)
	count.Maximum = Float(10)

	return Object(map[string]*Schema{
		"query": String("Search query"),
		"count": count,
	}, "query")
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	if t.apiKey == "" {
		return "Error: BRAVE_API_KEY not configured", nil
	}
	query, err := requireString(params, "query")
	if err != nil {
		return "", err
	}

	n := t.maxResults
	if c, ok := intParam(params, "count"); ok && c != 0 {
		n = c
	}
	n = min(max(n, 1), 10)

	results, err := t.search(ctx, query, n)
	if err != nil {
		return fmt.Sprintf("Error: %v", err), nil
	}
	if len(results.Web.Results) == 0 {
		return "No results for: " + query, nil
	}

	lines := []string{fmt.Sprintf("Results for: %s\n", query)}
	for i, item := range results.Web.Results {
		if i >= n {
			break
		}
		lines = append(lines, fmt.Sprintf("%d. %s\n   %s", i+1, item.Title, item.URL))
		if item.Description != "" {
			lines = append(lines, "   "+item.Description)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (t *WebSearchTool) search(ctx context.Context, query string, count int) (*braveResponse, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("search request failed with status %d", resp.StatusCode)
	}

	var out braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &out, nil
}

// WebFetchTool fetches a URL and extracts readable content.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

// NewWebFetchTool creates web_fetch.
func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = DefaultFetchMaxChars
	}
	return &WebFetchTool{
		maxChars: maxChars,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Fetch URL and extract readable content (HTML → markdown/text)."
}

func (t *WebFetchTool) Parameters() *Schema {
	mode := String("Extraction mode")
	mode.Enum = []any{"markdown", "text"}
	mode.Default = "markdown"

	maxChars := Integer("Maximum characters to return")
	maxChars.Minimum = Float(100)

	return Object(map[string]*Schema{
		"url":         String("URL to fetch"),
		"extractMode": mode,
		"maxChars":    maxChars,
	}, "url")
}

type fetchResult struct {
	URL       string `json:"url"`
	FinalURL  string `json:"finalUrl"`
	Status    int    `json:"status"`
	Extractor string `json:"extractor"`
	Truncated bool   `json:"truncated"`
	Length    int    `json:"length"`
	Text      string `json:"text"`
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rawURL, err := requireString(params, "url")
	if err != nil {
		return "", err
	}
	mode := stringParam(params, "extractMode")
	if mode == "" {
		mode = "markdown"
	}
	maxChars := t.maxChars
	if c, ok := intParam(params, "maxChars"); ok && c > 0 {
		maxChars = c
	}

	if err := validateURL(rawURL); err != nil {
		return fetchError(rawURL, "URL validation failed: "+err.Error()), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetchError(rawURL, err.Error()), nil
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return fetchError(rawURL, err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fetchError(rawURL, fmt.Sprintf("HTTP status %d", resp.StatusCode)), nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fetchError(rawURL, err.Error()), nil
	}

	text, extractor, err := extractContent(resp.Header.Get("Content-Type"), body, mode)
	if err != nil {
		return fetchError(rawURL, err.Error()), nil
	}

	truncated := utf8.RuneCountInString(text) > maxChars
	if truncated {
		text = string([]rune(text)[:maxChars])
	}

	out, err := json.Marshal(fetchResult{
		URL:       rawURL,
		FinalURL:  resp.Request.URL.String(),
		Status:    resp.StatusCode,
		Extractor: extractor,
		Truncated: truncated,
		Length:    utf8.RuneCountInString(text),
		Text:      text,
	})
	if err != nil {
		return fetchError(rawURL, err.Error()), nil
	}
	return string(out), nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		scheme := u.Scheme
		if scheme == "" {
			scheme = "none"
		}
		return fmt.Errorf("only http/https allowed, got '%s'", scheme)
	}
	if u.Host == "" {
		return errors.New("missing domain")
	}
	return nil
}

func fetchError(rawURL, msg string) string {
	out, _ := json.Marshal(map[string]string{"error": msg, "url": rawURL})
	return string(out)
}

func extractContent(contentType string, body []byte, mode string) (string, string, error) {
	if strings.Contains(contentType, "application/json") {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err != nil {
			return "", "", fmt.Errorf("failed to parse JSON: %w", err)
		}
		return buf.String(), "json", nil
	}

	head := strings.ToLower(strings.TrimSpace(string(body[:min(len(body), 256)])))
	if strings.Contains(contentType, "text/html") || strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html") {
		title, content, err := extractHTML(body, mode == "markdown")
		if err != nil {
			return "", "", err
		}
		if title != "" {
			content = "# " + title + "\n\n" + content
		}
		return content, "html", nil
	}

	return string(body), "raw", nil
}

// extractHTML returns the page title and the body rendered as markdown or plain text.
func extractHTML(body []byte, markdown bool) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var title string
	var root *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "title":
				if title == "" {
					title = strings.TrimSpace(nodeText(n))
				}
			case "body":
				if root == nil {
					root = n
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	if root == nil {
		root = doc
	}

	var sb strings.Builder
	renderNode(root, &sb, markdown, 0)
	return title, cleanText(sb.String()), nil
}

func renderNode(n *html.Node, sb *strings.Builder, markdown bool, depth int) {
	if depth > 100 {
		return
	}

	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "iframe", "svg", "head":
			return
		case "br", "hr":
			sb.WriteString("\n")
			return
		}

		if markdown {
			switch n.Data {
			case "a":
				href := getAttr(n, "href")
				if href != "" {
					sb.WriteString("[" + strings.TrimSpace(nodeText(n)) + "](" + href + ")")
					return
				}
			case "h1", "h2", "h3", "h4", "h5", "h6":
				level := int(n.Data[1] - '0')
				sb.WriteString("\n" + strings.Repeat("#", level) + " " + strings.TrimSpace(nodeText(n)) + "\n")
				return
			case "li":
				sb.WriteString("\n- " + strings.TrimSpace(nodeText(n)))
				return
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(c, sb, markdown, depth+1)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "section", "article":
			sb.WriteString("\n\n")
		case "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr":
			sb.WriteString("\n")
		}
	}
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func cleanText(s string) string {
	s = multiSpacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
