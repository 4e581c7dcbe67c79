// Package fetch retrieves and cleans web page content for the URL
// extractor. The pipeline core never performs network I/O itself; it
// consumes a Page produced here through the Fetcher interface.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// ErrFetchFailed marks unreachable or non-OK fetches. Callers degrade to
// their completion fallback instead of propagating it.
var ErrFetchFailed = errors.New("content fetch failed")

// Page is the cleaned result of fetching one URL.
type Page struct {
	// Title is the document <title>, trimmed.
	Title string
	// Content is the visible text with scripts, styles, and navigation
	// chrome removed.
	Content string
	// JSONLD holds the raw contents of application/ld+json script blocks
	// in document order, for structured-data extraction.
	JSONLD []string
}

// Fetcher retrieves a page for the URL extractor.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// Config bounds the HTTP fetch.
type Config struct {
	Timeout      int    `koanf:"timeout"`        // seconds
	MaxBodyBytes int64  `koanf:"max_body_bytes"` // response size cap
	UserAgent    string `koanf:"user_agent"`
}

const (
	defaultTimeout      = 15
	defaultMaxBodyBytes = 2 << 20 // 2 MiB
	defaultUserAgent    = "eventd/1.0"
	maxContentRunes     = 20000
)

// HTTPFetcher is the default Fetcher.
type HTTPFetcher struct {
	client       *http.Client
	maxBodyBytes int64
	userAgent    string
	log          *zap.Logger
}

func NewHTTPFetcher(cfg Config, log *zap.Logger) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &HTTPFetcher{
		client:       &http.Client{Timeout: time.Duration(timeout) * time.Second},
		maxBodyBytes: maxBody,
		userAgent:    ua,
		log:          log.Named("fetch"),
	}
}

// Fetch retrieves the URL and extracts the title, visible text, and any
// JSON-LD blocks. All transport failures are reported as ErrFetchFailed.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return Page{}, fmt.Errorf("%w: reading body: %v", ErrFetchFailed, err)
	}

	page, err := Parse(string(body))
	if err != nil {
		return Page{}, fmt.Errorf("%w: parsing html: %v", ErrFetchFailed, err)
	}

	f.log.Debug("fetched page",
		zap.String("url", url),
		zap.String("title", page.Title),
		zap.Int("content_len", len(page.Content)),
		zap.Int("jsonld_blocks", len(page.JSONLD)))

	return page, nil
}

// Elements whose text is never event content.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"header":   true,
	"footer":   true,
	"aside":    true,
	"iframe":   true,
	"svg":      true,
}

// Parse extracts the title, visible text, and JSON-LD blocks from raw
// HTML. Exposed so tests and callers holding pre-fetched documents can
// reuse the cleaning pass.
func Parse(rawHTML string) (Page, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Page{}, err
	}

	var page Page
	var sb strings.Builder

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "title":
				if n.FirstChild != nil && page.Title == "" {
					page.Title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case n.Data == "script" && attrValue(n, "type") == "application/ld+json":
				if n.FirstChild != nil {
					page.JSONLD = append(page.JSONLD, n.FirstChild.Data)
				}
				return
			case skipElements[n.Data]:
				return
			}
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				sb.WriteString(text)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	content := sb.String()
	if runes := []rune(content); len(runes) > maxContentRunes {
		content = string(runes[:maxContentRunes])
	}
	page.Content = strings.TrimSpace(content)

	return page, nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

var _ Fetcher = (*HTTPFetcher)(nil)
