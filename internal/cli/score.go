package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/cache"
	"github.com/lvonguyen/threatpulse/internal/config"
	"github.com/lvonguyen/threatpulse/internal/headline"
	"github.com/lvonguyen/threatpulse/internal/matrix"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/quota"
	"github.com/lvonguyen/threatpulse/internal/scoring"
	"github.com/lvonguyen/threatpulse/internal/service"
	"github.com/lvonguyen/threatpulse/internal/signal"
	"github.com/lvonguyen/threatpulse/internal/sources"
)

// scoreOutput is what `threatctl score` prints in JSON format.
type scoreOutput struct {
	Threat *service.ThreatResponse `json:"threat"`
	Matrix *service.MatrixResponse `json:"matrix,omitempty"`
}

func newScoreCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score <records.json>",
		Short: "Score a captured batch of raw records offline",
		Long: `Score runs a saved batch of raw provider records through the
normalizer, scoring engine, headline weigher and matrix aggregator without
any network access. The file holds a JSON array of records as the
collectors produce them ("-" reads stdin).

Example:
  threatctl score capture.json --target iran --days 7
  threatctl score capture.json --target hezbollah --matrix --format text
  THREATPULSE_NOW=2026-10-16T12:00:00Z threatctl score capture.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, v, args[0])
		},
	}

	cmd.Flags().String("target", "iran", "target to score")
	cmd.Flags().Int("days", 7, "scoring window in days (1, 2, 7, 30)")
	cmd.Flags().String("now", "", "reference time, RFC3339 (default: current time)")
	cmd.Flags().Bool("matrix", false, "also print the directional threat matrix (7-day window)")
	cmd.Flags().String("format", "json", "output format (json, text)")
	for _, name := range []string{"target", "days", "now", "matrix", "format"} {
		_ = v.BindPFlag(name, cmd.Flags().Lookup(name))
	}
	return cmd
}

func runScore(cmd *cobra.Command, v *viper.Viper, path string) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if s := v.GetString("now"); s != "" {
		if now, err = time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("invalid --now %q: %w", s, err)
		}
	}
	clock := func() time.Time { return now }

	records, err := readRecords(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	logCfg := cfg.Telemetry("cli", "local")
	if v.GetString("log-level") == "" {
		logCfg.LogLevel = "warn"
	}
	logCfg.LogFormat = "console"
	logger, err := observability.NewLogger(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	svc, err := offlineService(cfg, records, clock, logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := scoreOutput{}
	out.Threat, err = svc.Threat(ctx, service.ThreatRequest{Target: v.GetString("target"), WindowDays: v.GetInt("days")})
	if err != nil {
		return err
	}
	if v.GetBool("matrix") {
		if out.Matrix, err = svc.Matrix(ctx, v.GetString("target")); err != nil {
			return err
		}
	}

	switch format := v.GetString("format"); format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "text":
		writeText(cmd.OutOrStdout(), out)
		return nil
	default:
		return fmt.Errorf("unknown format %q (want json or text)", format)
	}
}

// offlineService wires the full pipeline over a fixed record batch.
func offlineService(cfg *config.Config, records []signal.RawRecord, clock func() time.Time, logger *zap.Logger) (*service.Service, error) {
	engine, err := scoring.NewEngine(cfg.Scoring, clock)
	if err != nil {
		return nil, err
	}
	return service.New(service.Dependencies{
		Engine:     engine,
		Normalizer: signal.NewNormalizer(cfg.Normalizer, logger.Named("normalizer")),
		Cache:      cache.New(cache.NewMemoryStore(), clock, logger.Named("cache")),
		Quota:      quota.NewMemoryTracker(quota.Config{Limit: 1 << 20, Window: 24 * time.Hour}, clock),
		Collector:  staticCollector(records),
		Weigher:    headline.NewWeigher(engine, cfg.Headline),
		Aggregator: matrix.NewAggregator(cfg.Matrix),
		Targets:    cfg.Sources.Targets,
		Logger:     logger,
	})
}

// staticCollector serves the same batch for every query.
type staticCollector []signal.RawRecord

func (c staticCollector) Collect(context.Context, sources.Query) (sources.Result, error) {
	return sources.Result{Records: c}, nil
}

func readRecords(stdin io.Reader, path string) ([]signal.RawRecord, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open records: %w", err)
		}
		defer f.Close()
		r = f
	}
	var records []signal.RawRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode records from %s: %w", path, err)
	}
	return records, nil
}

func writeText(w io.Writer, out scoreOutput) {
	t := out.Threat
	fmt.Fprintf(w, "Target:      %s (%dd)\n", t.Target, t.WindowDays)
	if t.Probability == nil {
		fmt.Fprintf(w, "Status:      %s\n", t.Status)
		return
	}
	b := t.Breakdown
	fmt.Fprintf(w, "Probability: %d%% (base %d%%, coordination +%.0f)\n", *t.Probability, b.BaseProbability, b.CoordinationBonus)
	fmt.Fprintf(w, "Timeline:    %s\n", t.Timeline)
	fmt.Fprintf(w, "Confidence:  %s\n", t.Confidence)
	fmt.Fprintf(w, "Momentum:    %s (x%.2f)\n", t.Momentum, b.MomentumFactor)
	fmt.Fprintf(w, "Components:  volume %.1f, escalation %.1f, mention %.1f\n", b.Volume, b.Escalation, b.Mention)
	fmt.Fprintf(w, "Signals:     %d current, %d prior, %d sources, %d dropped\n", b.SignalCount, b.PriorCount, b.SourceCount, t.Dropped)

	if len(t.Headlines) > 0 {
		fmt.Fprintln(w, "\nHeadlines:")
		for _, h := range t.Headlines {
			fmt.Fprintf(w, "  %5.2f  %-10s %s (%s)\n", h.Weight, h.ThreatType, h.Title, h.Source)
		}
	}

	if m := out.Matrix; m != nil {
		fmt.Fprintln(w, "\nMatrix:")
		fmt.Fprintf(w, "  combined    %s (%s)\n", pct(m.CombinedProbability), m.RiskLevel)
		fmt.Fprintf(w, "  israel ->   %s\n", pct(m.Incoming.Israel))
		fmt.Fprintf(w, "  us ->       %s\n", pct(m.Incoming.US))
		fmt.Fprintf(w, "  -> israel   %s\n", pct(m.Outgoing.VsIsrael))
		fmt.Fprintf(w, "  -> us       %s\n", pct(m.Outgoing.VsUS))
	}
}

func pct(p *int) string {
	if p == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d%%", *p)
}
