package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

const redditDefaultBaseURL = "https://www.reddit.com"

// RedditProvider searches posts in the query's subreddits.
type RedditProvider struct {
	*client
	now func() time.Time
}

// DefaultRedditConfig returns sensible defaults for Reddit. The public JSON
// endpoints tolerate roughly one request every two seconds.
func DefaultRedditConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.BaseURL = redditDefaultBaseURL
	cfg.RequestsPerSecond = 0.5
	cfg.Burst = 1
	cfg.MaxRecords = 25
	return cfg
}

// NewRedditProvider creates a Reddit provider.
func NewRedditProvider(cfg ClientConfig, logger *zap.Logger) *RedditProvider {
	cfg = cfg.withDefaults(redditDefaultBaseURL)
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 25
	}
	return &RedditProvider{client: newClient("reddit", cfg, logger), now: time.Now}
}

// Name returns the provider identifier.
func (p *RedditProvider) Name() string {
	return "reddit"
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data map[string]any `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Fetch searches each subreddit for the first three reddit keywords.
func (p *RedditProvider) Fetch(ctx context.Context, q Query) ([]signal.RawRecord, error) {
	if len(q.Subreddits) == 0 {
		return nil, nil
	}
	keywords := q.RedditKeywords
	if len(keywords) == 0 {
		keywords = q.Keywords
	}
	if len(keywords) > 3 {
		keywords = keywords[:3]
	}

	now := p.now()
	var (
		records []signal.RawRecord
		errs    []error
	)
	for _, sub := range q.Subreddits {
		posts, err := p.search(ctx, sub, orQuery(keywords), q.Days)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("Subreddit search failed", zap.String("subreddit", sub), zap.Error(err))
			errs = append(errs, fmt.Errorf("r/%s: %w", sub, err))
			continue
		}
		for _, post := range posts {
			if _, ok := post["subreddit"]; !ok {
				post["subreddit"] = sub
			}
			records = append(records, newRecord(signal.ProviderReddit, "r/"+sub, post, q, now, targetTags(q)))
		}
	}

	if len(errs) == len(q.Subreddits) {
		return nil, fmt.Errorf("searching reddit: %w", errors.Join(errs...))
	}
	return records, nil
}

func (p *RedditProvider) search(ctx context.Context, sub, query string, days int) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("restrict_sr", "true")
	params.Set("sort", "new")
	params.Set("t", redditTimeFilter(days))
	params.Set("limit", fmt.Sprint(p.config.MaxRecords))

	endpoint := fmt.Sprintf("%s/r/%s/search.json?%s",
		strings.TrimSuffix(p.config.BaseURL, "/"), url.PathEscape(sub), params.Encode())

	var listing redditListing
	if err := p.getJSON(ctx, endpoint, nil, &listing); err != nil {
		return nil, err
	}

	posts := make([]map[string]any, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		if child.Data != nil {
			posts = append(posts, child.Data)
		}
	}
	return posts, nil
}

func redditTimeFilter(days int) string {
	switch {
	case days <= 1:
		return "day"
	case days <= 7:
		return "week"
	case days <= 30:
		return "month"
	default:
		return "year"
	}
}
