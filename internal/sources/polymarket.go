package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

const polymarketDefaultBaseURL = "https://gamma-api.polymarket.com"

// Market is one tracked prediction market.
type Market struct {
	Slug    string   `yaml:"slug" json:"slug"`
	Targets []string `yaml:"targets" json:"targets"`
}

// DefaultMarkets returns the stock tracked markets.
func DefaultMarkets() []Market {
	return []Market{
		{Slug: "will-israel-strike-iran-in-2025", Targets: []string{"iran"}},
		{Slug: "will-israel-and-hezbollah-reach-ceasefire-2025", Targets: []string{"hezbollah"}},
		{Slug: "will-there-be-full-scale-war-israel-iran-2025", Targets: []string{"iran"}},
	}
}

// PolymarketProvider quotes tracked markets from the gamma API.
type PolymarketProvider struct {
	*client
	markets []Market
	now     func() time.Time
}

// NewPolymarketProvider creates a Polymarket provider.
func NewPolymarketProvider(cfg ClientConfig, markets []Market, logger *zap.Logger) *PolymarketProvider {
	cfg = cfg.withDefaults(polymarketDefaultBaseURL)
	return &PolymarketProvider{
		client:  newClient("polymarket", cfg, logger),
		markets: markets,
		now:     time.Now,
	}
}

// Name returns the provider identifier.
func (p *PolymarketProvider) Name() string {
	return "polymarket"
}

// Fetch quotes the markets tagged with the query target.
func (p *PolymarketProvider) Fetch(ctx context.Context, q Query) ([]signal.RawRecord, error) {
	now := p.now()
	var (
		records []signal.RawRecord
		errs    []error
		tried   int
	)
	for _, m := range p.markets {
		if !(Feed{Targets: m.Targets}).serves(q.Target) {
			continue
		}
		tried++

		data, err := p.quote(ctx, m.Slug)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("Market quote failed", zap.String("slug", m.Slug), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", m.Slug, err))
			continue
		}
		if _, ok := data["url"]; !ok {
			data["url"] = "https://polymarket.com/event/" + m.Slug
		}
		records = append(records, newRecord(signal.ProviderPolymarket, "Polymarket", data, q, now, m.Targets))
	}

	if tried > 0 && len(errs) == tried {
		return nil, fmt.Errorf("quoting markets: %w", errors.Join(errs...))
	}
	return records, nil
}

// quote fetches one market. The endpoint answers either the market object
// or a one-element list.
func (p *PolymarketProvider) quote(ctx context.Context, slug string) (map[string]any, error) {
	endpoint := strings.TrimSuffix(p.config.BaseURL, "/") + "/markets/" + url.PathEscape(slug)

	body, err := p.get(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var list []map[string]any
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("market %s not found", slug)
		}
		return list[0], nil
	}

	var market map[string]any
	if err := json.Unmarshal(body, &market); err != nil {
		return nil, fmt.Errorf("decoding market: %w", err)
	}
	return market, nil
}
