package sources

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

const newsAPIDefaultBaseURL = "https://newsapi.org"

// NewsAPIProvider searches NewsAPI's everything endpoint.
type NewsAPIProvider struct {
	*client
	apiKey string
	now    func() time.Time
}

// DefaultNewsAPIConfig returns sensible defaults for NewsAPI.
func DefaultNewsAPIConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.APIKeyEnv = "NEWSAPI_KEY"
	cfg.BaseURL = newsAPIDefaultBaseURL
	cfg.MaxRecords = 100
	return cfg
}

// NewNewsAPIProvider creates a NewsAPI provider. The key is read from the
// configured env var.
func NewNewsAPIProvider(cfg ClientConfig, logger *zap.Logger) (*NewsAPIProvider, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("newsapi key not found in env var %q: %w", cfg.APIKeyEnv, ErrMissingAPIKey)
	}
	cfg = cfg.withDefaults(newsAPIDefaultBaseURL)
	if cfg.MaxRecords <= 0 || cfg.MaxRecords > 100 {
		cfg.MaxRecords = 100
	}
	return &NewsAPIProvider{
		client: newClient("newsapi", cfg, logger),
		apiKey: apiKey,
		now:    time.Now,
	}, nil
}

// Name returns the provider identifier.
func (p *NewsAPIProvider) Name() string {
	return "newsapi"
}

type newsAPIResponse struct {
	Status   string           `json:"status"`
	Code     string           `json:"code"`
	Message  string           `json:"message"`
	Articles []map[string]any `json:"articles"`
}

// Fetch searches articles matching any of the query keywords.
func (p *NewsAPIProvider) Fetch(ctx context.Context, q Query) ([]signal.RawRecord, error) {
	if len(q.Keywords) == 0 {
		return nil, nil
	}
	now := p.now()

	params := url.Values{}
	params.Set("q", orQuery(q.Keywords))
	params.Set("from", now.AddDate(0, 0, -q.Days).Format("2006-01-02"))
	params.Set("sortBy", "publishedAt")
	params.Set("language", "en")
	params.Set("pageSize", strconv.Itoa(p.config.MaxRecords))

	endpoint := strings.TrimSuffix(p.config.BaseURL, "/") + "/v2/everything?" + params.Encode()

	var resp newsAPIResponse
	if err := p.getJSON(ctx, endpoint, map[string]string{"X-Api-Key": p.apiKey}, &resp); err != nil {
		return nil, fmt.Errorf("searching newsapi: %w", err)
	}
	if resp.Status != "" && resp.Status != "ok" {
		return nil, fmt.Errorf("newsapi error %s: %s", resp.Code, resp.Message)
	}

	records := make([]signal.RawRecord, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if _, ok := a["language"]; !ok {
			a["language"] = "en"
		}
		records = append(records, newRecord(signal.ProviderNewsAPI, "", a, q, now, targetTags(q)))
	}

	p.logger.Debug("Fetched articles", zap.Int("count", len(records)))
	return records, nil
}

// orQuery joins terms with OR, quoting multi-word terms.
func orQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.Contains(t, " ") {
			t = `"` + t + `"`
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " OR ")
}
