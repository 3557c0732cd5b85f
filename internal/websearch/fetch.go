package websearch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"scholar/internal/text"
)

const (
	maxPageBytes  = 5 << 20
	blockElements = "p, div, br, li, h1, h2, h3, h4, h5, h6, td, th, section, article, header, footer, blockquote, pre"
)

type Page struct {
	URL   string
	Title string
	Text  string
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// HTTPFetcher downloads pages no faster than its limiter allows and keeps
// only the visible body text.
type HTTPFetcher struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewHTTPFetcher allows perSecond requests per second with a burst of one.
// A non-positive rate disables throttling.
func NewHTTPFetcher(client *http.Client, perSecond float64) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &HTTPFetcher{client: client, limiter: rate.NewLimiter(limit, 1), userAgent: DefaultUserAgent}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return Page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{}, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Page{}, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxPageBytes)
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	switch {
	case mediaType == "text/plain":
		b, err := io.ReadAll(body)
		if err != nil {
			return Page{}, err
		}
		return Page{URL: url, Text: text.CollapseWhitespace(string(b))}, nil
	case mediaType == "" || strings.Contains(mediaType, "html"):
		return parseHTML(url, body)
	default:
		return Page{}, fmt.Errorf("fetch %s: unsupported content type %q", url, mediaType)
	}
}

func parseHTML(url string, r io.Reader) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse %s: %w", url, err)
	}

	doc.Find("script, style, noscript, template").Remove()
	// Keep words of adjacent blocks apart once text nodes are concatenated.
	doc.Find(blockElements).AppendHtml(" ")

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	return Page{
		URL:   url,
		Title: text.CollapseWhitespace(doc.Find("title").First().Text()),
		Text:  text.CollapseWhitespace(root.Text()),
	}, nil
}
