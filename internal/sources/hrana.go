package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

const (
	hranaDefaultBaseURL = "https://api.rss2json.com"
	hranaFeedURL        = "https://en-hrana.org/feed/"
)

// HRANAProvider reads the HRANA feed through the rss2json proxy, which the
// origin server does not block.
type HRANAProvider struct {
	*client
	feedURL string
	targets []string
	now     func() time.Time
}

// DefaultHRANAConfig returns sensible defaults for HRANA.
func DefaultHRANAConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.BaseURL = hranaDefaultBaseURL
	cfg.Timeout = 20 * time.Second
	cfg.MaxRecords = 10
	return cfg
}

// NewHRANAProvider creates an HRANA provider. It only serves iran queries.
func NewHRANAProvider(cfg ClientConfig, logger *zap.Logger) *HRANAProvider {
	cfg = cfg.withDefaults(hranaDefaultBaseURL)
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 10
	}
	return &HRANAProvider{
		client:  newClient("hrana", cfg, logger),
		feedURL: hranaFeedURL,
		targets: []string{"iran"},
		now:     time.Now,
	}
}

// Name returns the provider identifier.
func (p *HRANAProvider) Name() string {
	return "hrana"
}

type rss2jsonResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	Items   []map[string]any `json:"items"`
}

// Fetch returns the latest HRANA items.
func (p *HRANAProvider) Fetch(ctx context.Context, q Query) ([]signal.RawRecord, error) {
	if !(Feed{Targets: p.targets}).serves(q.Target) {
		return nil, nil
	}

	endpoint := strings.TrimSuffix(p.config.BaseURL, "/") + "/v1/api.json?rss_url=" + url.QueryEscape(p.feedURL)

	var resp rss2jsonResponse
	if err := p.getJSON(ctx, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetching hrana feed: %w", err)
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("rss2json error: %s", resp.Message)
	}

	items := resp.Items
	if len(items) > p.config.MaxRecords {
		items = items[:p.config.MaxRecords]
	}

	now := p.now()
	records := make([]signal.RawRecord, 0, len(items))
	for _, item := range items {
		records = append(records, newRecord(signal.ProviderHRANA, "HRANA", item, q, now, []string{"iran"}))
	}
	return records, nil
}
