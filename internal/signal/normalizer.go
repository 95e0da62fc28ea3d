package signal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const (
	gdeltTimeLayout = "20060102T150405Z"
	hranaTimeLayout = "2006-01-02 15:04:05"
)

// NormalizerConfig holds normalization settings.
type NormalizerConfig struct {
	// FutureSkew is how far past collection time a timestamp may be before
	// the record is rejected. Timestamps inside the skew are clamped.
	FutureSkew time.Duration `yaml:"future_skew"`
	// MaxTextLength truncates overly long bodies.
	MaxTextLength int `yaml:"max_text_length"`
}

// DefaultNormalizerConfig returns sensible defaults.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		FutureSkew:    2 * time.Minute,
		MaxTextLength: 4000,
	}
}

// BatchStats summarizes a best-effort batch normalization.
type BatchStats struct {
	Accepted int            `json:"accepted"`
	Dropped  int            `json:"dropped"`
	Reasons  map[string]int `json:"reasons,omitempty"`
}

// Normalizer converts provider records into Signals.
type Normalizer struct {
	config NormalizerConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewNormalizer creates a new normalizer. A nil logger discards output.
func NewNormalizer(cfg NormalizerConfig, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{config: cfg, logger: logger, now: time.Now}
}

// Normalize converts one raw record. It returns a *MalformedSignalError when
// required fields are missing or unparseable.
func (n *Normalizer) Normalize(raw RawRecord) (Signal, error) {
	var (
		sig Signal
		err error
	)

	switch raw.Provider {
	case ProviderNewsAPI:
		sig, err = n.fromNewsAPI(raw)
	case ProviderGDELT:
		sig, err = n.fromGDELT(raw)
	case ProviderReddit:
		sig, err = n.fromReddit(raw)
	case ProviderRSS:
		sig, err = n.fromRSS(raw)
	case ProviderHRANA:
		sig, err = n.fromHRANA(raw)
	case ProviderPolymarket:
		sig, err = n.fromPolymarket(raw)
	default:
		return Signal{}, malformed(raw.Provider, KindUnsupported, "unsupported provider")
	}
	if err != nil {
		return Signal{}, err
	}

	if strings.TrimSpace(sig.Text) == "" {
		return Signal{}, malformed(raw.Provider, KindMissingText, "missing text")
	}

	collected := raw.CollectedAt
	if collected.IsZero() {
		collected = n.now()
	}
	if sig.Timestamp.After(collected) {
		if sig.Timestamp.Sub(collected) > n.config.FutureSkew {
			return Signal{}, malformed(raw.Provider, KindFutureTimestamp, "timestamp %s is in the future", sig.Timestamp.Format(time.RFC3339))
		}
		sig.Timestamp = collected
	}

	if n.config.MaxTextLength > 0 {
		sig.Text = truncate(sig.Text, n.config.MaxTextLength)
	}
	sig.Provider = raw.Provider
	sig.OriginWindow = raw.OriginWindow
	sig.TargetTags = append([]string(nil), raw.TargetTags...)
	return sig, nil
}

// truncate cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	i := limit
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

// NormalizeBatch normalizes every record, continuing past bad ones.
func (n *Normalizer) NormalizeBatch(raws []RawRecord) ([]Signal, BatchStats) {
	stats := BatchStats{Reasons: make(map[string]int)}
	signals := make([]Signal, 0, len(raws))

	for _, raw := range raws {
		sig, err := n.Normalize(raw)
		if err != nil {
			stats.Dropped++
			reason := "unknown"
			var me *MalformedSignalError
			if errors.As(err, &me) {
				reason = me.Kind
			}
			stats.Reasons[reason]++
			n.logger.Debug("skipping record",
				zap.String("provider", string(raw.Provider)),
				zap.String("source", raw.Source),
				zap.Error(err))
			continue
		}
		stats.Accepted++
		signals = append(signals, sig)
	}

	return signals, stats
}

func (n *Normalizer) fromNewsAPI(raw RawRecord) (Signal, error) {
	title := str(raw.Data, "title")
	published := str(raw.Data, "publishedAt")
	if published == "" {
		return Signal{}, malformed(raw.Provider, KindMissingTime, "missing publishedAt")
	}
	ts, err := time.Parse(time.RFC3339, published)
	if err != nil {
		return Signal{}, malformed(raw.Provider, KindBadTime, "unparseable publishedAt %q", published)
	}

	source := str(raw.Data, "source.name")
	if source == "" {
		source = raw.Source
	}

	return Signal{
		Timestamp: ts.UTC(),
		Title:     title,
		Text:      joinText(title, str(raw.Data, "description"), str(raw.Data, "content")),
		Source:    source,
		URL:       str(raw.Data, "url"),
		Language:  orDefault(str(raw.Data, "language"), "en"),
	}, nil
}

func (n *Normalizer) fromGDELT(raw RawRecord) (Signal, error) {
	title := str(raw.Data, "title")
	seen := str(raw.Data, "seendate")
	if seen == "" {
		return Signal{}, malformed(raw.Provider, KindMissingTime, "missing seendate")
	}
	ts, err := time.Parse(gdeltTimeLayout, seen)
	if err != nil {
		return Signal{}, malformed(raw.Provider, KindBadTime, "unparseable seendate %q", seen)
	}

	return Signal{
		Timestamp: ts.UTC(),
		Title:     title,
		Text:      title,
		Source:    orDefault(str(raw.Data, "domain"), "GDELT"),
		URL:       str(raw.Data, "url"),
		Language:  str(raw.Data, "language"),
	}, nil
}

func (n *Normalizer) fromReddit(raw RawRecord) (Signal, error) {
	created, ok := num(raw.Data, "created_utc")
	if !ok || created <= 0 {
		return Signal{}, malformed(raw.Provider, KindMissingTime, "missing created_utc")
	}
	sec := int64(created)
	ts := time.Unix(sec, int64((created-float64(sec))*1e9)).UTC()

	title := str(raw.Data, "title")
	source := raw.Source
	if sub := str(raw.Data, "subreddit"); sub != "" {
		source = "r/" + sub
	}

	var engagement float64
	if score, ok := num(raw.Data, "score"); ok {
		engagement += score
	}
	if comments, ok := num(raw.Data, "num_comments"); ok {
		engagement += comments
	}

	url := str(raw.Data, "permalink")
	if url != "" && strings.HasPrefix(url, "/") {
		url = "https://www.reddit.com" + url
	}

	return Signal{
		Timestamp:  ts,
		Title:      title,
		Text:       joinText(title, str(raw.Data, "selftext")),
		Source:     orDefault(source, "Reddit"),
		URL:        url,
		Language:   "en",
		Engagement: engagement,
	}, nil
}

func (n *Normalizer) fromRSS(raw RawRecord) (Signal, error) {
	title := StripHTML(str(raw.Data, "title"))
	pub := str(raw.Data, "pubDate")
	if pub == "" {
		return Signal{}, malformed(raw.Provider, KindMissingTime, "missing pubDate")
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(pub))
	if err != nil {
		return Signal{}, malformed(raw.Provider, KindBadTime, "unparseable pubDate %q", pub)
	}

	body := str(raw.Data, "description")
	if body == "" {
		body = str(raw.Data, "content")
	}

	return Signal{
		Timestamp: ts.UTC(),
		Title:     title,
		Text:      joinText(title, StripHTML(body)),
		Source:    orDefault(raw.Source, str(raw.Data, "feed")),
		URL:       str(raw.Data, "link"),
		Language:  str(raw.Data, "language"),
	}, nil
}

func (n *Normalizer) fromHRANA(raw RawRecord) (Signal, error) {
	title := str(raw.Data, "title")
	pub := str(raw.Data, "pubDate")
	if pub == "" {
		return Signal{}, malformed(raw.Provider, KindMissingTime, "missing pubDate")
	}
	ts, err := time.Parse(hranaTimeLayout, pub)
	if err != nil {
		if ts, err = time.Parse(time.RFC3339, strings.TrimSpace(pub)); err != nil {
			return Signal{}, malformed(raw.Provider, KindBadTime, "unparseable pubDate %q", pub)
		}
	}

	body := str(raw.Data, "content")
	if body == "" {
		body = str(raw.Data, "description")
	}

	return Signal{
		Timestamp: ts.UTC(),
		Title:     title,
		Text:      joinText(title, StripHTML(body)),
		Source:    "HRANA",
		URL:       str(raw.Data, "link"),
		Language:  "en",
	}, nil
}

func (n *Normalizer) fromPolymarket(raw RawRecord) (Signal, error) {
	question := str(raw.Data, "question")
	updated := str(raw.Data, "updatedAt")
	if updated == "" {
		return Signal{}, malformed(raw.Provider, KindMissingTime, "missing updatedAt")
	}
	ts, err := time.Parse(time.RFC3339, updated)
	if err != nil {
		return Signal{}, malformed(raw.Provider, KindBadTime, "unparseable updatedAt %q", updated)
	}

	text := question
	if p, ok := marketProbability(raw.Data); ok {
		text = fmt.Sprintf("%s (market %.0f%%)", question, p*100)
	}
	volume, _ := num(raw.Data, "volume")

	return Signal{
		Timestamp:  ts.UTC(),
		Title:      question,
		Text:       text,
		Source:     "Polymarket",
		URL:        str(raw.Data, "url"),
		Language:   "en",
		Engagement: volume,
	}, nil
}

// marketProbability reads outcomePrices, which the gamma API returns either
// as a JSON array or as a JSON-encoded string of one.
func marketProbability(data map[string]any) (float64, bool) {
	switch v := data["outcomePrices"].(type) {
	case []any:
		if len(v) == 0 {
			return 0, false
		}
		return toFloat(v[0])
	case []string:
		if len(v) == 0 {
			return 0, false
		}
		return toFloat(v[0])
	case string:
		trimmed := strings.Trim(v, "[] ")
		first, _, _ := strings.Cut(trimmed, ",")
		return toFloat(strings.Trim(first, `" `))
	}
	return 0, false
}

// str reads a string at a dotted path.
func str(data map[string]any, path string) string {
	v, ok := lookup(data, path)
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case fmt.Stringer:
		return s.String()
	default:
		return ""
	}
}

func num(data map[string]any, path string) (float64, bool) {
	v, ok := lookup(data, path)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func lookup(data map[string]any, path string) (any, bool) {
	cur := any(data)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func joinText(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
