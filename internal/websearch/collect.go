package websearch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"scholar/internal/apperr"
	"scholar/internal/domain"
	"scholar/internal/text"
)

var ErrAllQueriesFailed = errors.New("all search queries failed")

// Queries builds the search queries issued for a research topic.
func Queries(topic, requirements string) []string {
	topic = strings.TrimSpace(topic)
	qs := []string{topic}
	if r := strings.TrimSpace(requirements); r != "" {
		qs = append(qs, topic+" "+r)
	}
	return append(qs, topic+" research", topic+" analysis")
}

// SourceID derives a stable id for a web page.
func SourceID(pageURL string) string {
	return "web-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(pageURL)).String()
}

type Collector struct {
	searcher    Searcher
	fetcher     Fetcher
	exclusions  []string
	concurrency int
	now         func() time.Time
}

func NewCollector(searcher Searcher, fetcher Fetcher, exclusions []string, concurrency int) *Collector {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Collector{
		searcher:    searcher,
		fetcher:     fetcher,
		exclusions:  exclusions,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Collect runs every query, fetches the distinct result pages and returns
// the pages that look like real content, in search order. Failed queries
// and pages are logged and skipped. ErrAllQueriesFailed is returned with an
// empty result when no query succeeded.
func (c *Collector) Collect(ctx context.Context, topic, requirements string, maxResults int) ([]domain.SourceDocument, error) {
	var (
		links   []string
		titles  = make(map[string]string)
		success int
	)
	for _, q := range Queries(topic, requirements) {
		results, err := c.searcher.Search(ctx, q, maxResults)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.WarnContext(ctx, "web search query failed", "query", q, "error", err)
			continue
		}
		success++
		for _, r := range results {
			links = append(links, r.URL)
			for _, norm := range FilterLinks([]string{r.URL}, nil) {
				if _, ok := titles[norm]; !ok {
					titles[norm] = r.Title
				}
			}
		}
	}
	if success == 0 {
		return nil, apperr.External("web search", ErrAllQueriesFailed)
	}

	links = FilterLinks(links, c.exclusions)
	docs := make([]*domain.SourceDocument, len(links))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for n, link := range links {
		g.Go(func() error {
			page, err := c.fetcher.Fetch(gctx, link)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.WarnContext(gctx, "page dropped", "url", link, "error", err)
				return nil
			}
			if text.IsBoilerplate(page.Text) {
				slog.DebugContext(gctx, "page dropped as boilerplate", "url", link)
				return nil
			}

			title := page.Title
			if title == "" {
				title = titles[link]
			}
			docs[n] = &domain.SourceDocument{
				SourceMeta: domain.SourceMeta{
					ID:          SourceID(link),
					Origin:      domain.OriginWeb,
					Kind:        domain.KindWeb,
					URI:         link,
					Title:       title,
					RetrievedAt: c.now().UTC(),
				},
				RawText: page.Text,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.SourceDocument
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	slog.InfoContext(ctx, "web sources collected", "links", len(links), "kept", len(out))
	return out, nil
}
