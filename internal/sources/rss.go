package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

// Feed is one RSS or Atom feed.
type Feed struct {
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Language string `yaml:"language" json:"language"`
	// Targets limits the feed to these targets. Empty means every query.
	Targets []string `yaml:"targets" json:"targets"`
}

func (f Feed) serves(target string) bool {
	if len(f.Targets) == 0 || target == "" {
		return true
	}
	for _, t := range f.Targets {
		if t == target {
			return true
		}
	}
	return false
}

// DefaultFeeds returns the Iran Wire English and Farsi feeds.
func DefaultFeeds() []Feed {
	return []Feed{
		{Name: "Iran Wire", URL: "https://iranwire.com/en/feed/", Language: "en", Targets: []string{"iran"}},
		{Name: "Iran Wire", URL: "https://iranwire.com/fa/feed/", Language: "fa", Targets: []string{"iran"}},
	}
}

// RSSProvider reads a fixed list of feeds.
type RSSProvider struct {
	*client
	feeds        []Feed
	itemsPerFeed int
	now          func() time.Time
}

// NewRSSProvider creates a feed reader. MaxRecords bounds items per feed.
func NewRSSProvider(cfg ClientConfig, feeds []Feed, logger *zap.Logger) *RSSProvider {
	cfg = cfg.withDefaults("")
	items := cfg.MaxRecords
	if items <= 0 {
		items = 15
	}
	return &RSSProvider{
		client:       newClient("rss", cfg, logger),
		feeds:        feeds,
		itemsPerFeed: items,
		now:          time.Now,
	}
}

// Name returns the provider identifier.
func (p *RSSProvider) Name() string {
	return "rss"
}

// Fetch reads every feed serving the query target. Feeds that fail are
// skipped; the fetch only fails when every feed failed.
func (p *RSSProvider) Fetch(ctx context.Context, q Query) ([]signal.RawRecord, error) {
	now := p.now()
	var (
		records []signal.RawRecord
		errs    []error
		tried   int
	)
	for _, feed := range p.feeds {
		if !feed.serves(q.Target) {
			continue
		}
		tried++

		items, err := p.readFeed(ctx, feed)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("Feed fetch failed", zap.String("feed", feed.URL), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", feed.URL, err))
			continue
		}
		for _, item := range items {
			records = append(records, newRecord(signal.ProviderRSS, feed.Name, item, q, now, nil))
		}
	}

	if tried > 0 && len(errs) == tried {
		return nil, fmt.Errorf("reading feeds: %w", errors.Join(errs...))
	}
	return records, nil
}

func (p *RSSProvider) readFeed(ctx context.Context, feed Feed) ([]map[string]any, error) {
	body, err := p.get(ctx, feed.URL, map[string]string{"Accept": "application/rss+xml, application/atom+xml, text/xml"})
	if err != nil {
		return nil, err
	}
	items, err := parseFeed(body, feed)
	if err != nil {
		return nil, err
	}
	if len(items) > p.itemsPerFeed {
		items = items[:p.itemsPerFeed]
	}
	return items, nil
}

// parseFeed decodes an RSS, Atom or JSON feed into raw record data.
// Publication times are emitted as RFC 3339; entries without one fall back
// to their updated time, then to the raw string.
func parseFeed(body []byte, feed Feed) ([]map[string]any, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	language := feed.Language
	if language == "" {
		language = parsed.Language
	}

	var items []map[string]any
	for _, it := range parsed.Items {
		if it == nil || it.Title == "" || it.Link == "" {
			continue
		}
		items = append(items, map[string]any{
			"title":       it.Title,
			"link":        it.Link,
			"pubDate":     published(it),
			"description": it.Description,
			"content":     it.Content,
			"language":    language,
			"feed":        feed.Name,
		})
	}
	return items, nil
}

func published(it *gofeed.Item) string {
	switch {
	case it.PublishedParsed != nil:
		return it.PublishedParsed.UTC().Format(time.RFC3339)
	case it.UpdatedParsed != nil:
		return it.UpdatedParsed.UTC().Format(time.RFC3339)
	case it.Published != "":
		return it.Published
	}
	return it.Updated
}
