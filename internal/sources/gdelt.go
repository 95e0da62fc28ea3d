package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/signal"
)

const gdeltDefaultBaseURL = "https://api.gdeltproject.org"

var gdeltLanguageCodes = map[string]string{
	"eng": "en",
	"ara": "ar",
	"heb": "he",
	"fas": "fa",
}

// GDELTProvider queries the GDELT doc API once per source language.
type GDELTProvider struct {
	*client
	now func() time.Time
}

// DefaultGDELTConfig returns sensible defaults for GDELT.
func DefaultGDELTConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.BaseURL = gdeltDefaultBaseURL
	cfg.MaxRecords = 75
	return cfg
}

// NewGDELTProvider creates a GDELT provider. GDELT needs no key.
func NewGDELTProvider(cfg ClientConfig, logger *zap.Logger) *GDELTProvider {
	cfg = cfg.withDefaults(gdeltDefaultBaseURL)
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 75
	}
	return &GDELTProvider{client: newClient("gdelt", cfg, logger), now: time.Now}
}

// Name returns the provider identifier.
func (p *GDELTProvider) Name() string {
	return "gdelt"
}

type gdeltResponse struct {
	Articles []map[string]any `json:"articles"`
}

// Fetch runs the query for every configured language. A language that fails
// is skipped; the fetch only fails when every language failed.
func (p *GDELTProvider) Fetch(ctx context.Context, q Query) ([]signal.RawRecord, error) {
	if len(q.Keywords) == 0 {
		return nil, nil
	}
	langs := q.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}

	query := orQuery(q.Keywords)
	if len(q.Keywords) > 1 {
		query = "(" + query + ")"
	}

	now := p.now()
	var (
		records []signal.RawRecord
		errs    []error
	)
	for _, lang := range langs {
		articles, err := p.fetchLanguage(ctx, query, lang, q.Days)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Warn("GDELT language fetch failed", zap.String("language", lang), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", lang, err))
			continue
		}
		code := gdeltLanguageCodes[lang]
		for _, a := range articles {
			if code != "" {
				a["language"] = code
			}
			records = append(records, newRecord(signal.ProviderGDELT, "", a, q, now, targetTags(q)))
		}
	}

	if len(errs) == len(langs) {
		return nil, fmt.Errorf("querying gdelt: %w", errors.Join(errs...))
	}
	return records, nil
}

func (p *GDELTProvider) fetchLanguage(ctx context.Context, query, lang string, days int) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("mode", "artlist")
	params.Set("maxrecords", strconv.Itoa(p.config.MaxRecords))
	params.Set("timespan", fmt.Sprintf("%dd", days))
	params.Set("format", "json")
	params.Set("sourcelang", lang)

	endpoint := strings.TrimSuffix(p.config.BaseURL, "/") + "/api/v2/doc/doc?" + params.Encode()

	body, err := p.get(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	// GDELT answers an empty body when nothing matched.
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var resp gdeltResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp.Articles, nil
}
