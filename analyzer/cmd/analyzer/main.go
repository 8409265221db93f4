package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/stuckorders/stuckorders/analyzer/internal/config"
	"github.com/stuckorders/stuckorders/analyzer/internal/publisher"
	"github.com/stuckorders/stuckorders/analyzer/internal/source"
	"github.com/stuckorders/stuckorders/pkg/analysis"
	"github.com/stuckorders/stuckorders/pkg/export"
	"github.com/stuckorders/stuckorders/pkg/ingest"
)

const flushTimeout = 30 * time.Second

type overrides struct {
	input string
	out   string
}

// apply lets command-line flags win over the config file.
func (o overrides) apply(cfg *config.Config) {
	if o.input != "" {
		if strings.HasPrefix(o.input, "http://") || strings.HasPrefix(o.input, "https://") {
			cfg.Analyzer.Input.URL, cfg.Analyzer.Input.Path = o.input, ""
		} else {
			cfg.Analyzer.Input.Path, cfg.Analyzer.Input.URL = o.input, ""
		}
	}
	if o.out != "" {
		cfg.Analyzer.OutputDir = o.out
	}
}

func main() {
	configPath := flag.String("config", "analyzer.yaml", "path to config file")
	input := flag.String("input", "", "table path or http(s) URL; overrides analyzer.input")
	out := flag.String("out", "", "export directory; overrides analyzer.output_dir")
	watch := flag.Bool("watch", false, "keep running and recompute on every config change")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("stuckorders-analyzer starting", "config", *configPath, "watch", *watch)

	ov := overrides{input: *input, out: *out}
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	ov.apply(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var pub *publisher.Publisher
	if cfg.Analyzer.Publish.Enabled {
		pub = publisher.New(cfg.Analyzer.Publish)
		slog.Info("kafka publisher enabled",
			"brokers", cfg.Analyzer.Publish.Brokers,
			"profiles_topic", cfg.Analyzer.Publish.ProfilesTopic,
			"cohorts_topic", cfg.Analyzer.Publish.CohortsTopic,
		)
	}

	if !*watch {
		err := runOnce(ctx, cfg.Analyzer, pub)
		if pub != nil {
			fctx, fcancel := context.WithTimeout(ctx, flushTimeout)
			if ferr := pub.Flush(fctx); ferr != nil {
				slog.Error("publisher flush failed", "err", ferr, "pending", pub.Pending())
				err = errors.Join(err, ferr)
			}
			fcancel()
			pub.Close() //nolint:errcheck
		}
		if err != nil {
			slog.Error("analysis failed", "err", err)
			os.Exit(1)
		}
		return
	}

	if pub != nil {
		go pub.Run(ctx)
		defer pub.Close() //nolint:errcheck
	}

	if err := runOnce(ctx, cfg.Analyzer, pub); err != nil {
		slog.Error("analysis failed", "err", err)
	}

	// Publisher settings are fixed at start; reloads only change the analysis.
	go func() {
		err := config.Watch(ctx, *configPath, config.DefaultDebounce, func(updated *config.Config) {
			ov.apply(updated)
			slog.Info("config hot-reloaded, recomputing",
				"churn_threshold", updated.Analyzer.ChurnThreshold)
			if err := runOnce(ctx, updated.Analyzer, pub); err != nil {
				slog.Error("analysis failed", "err", err)
			}
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("stuckorders-analyzer shutting down")
}

// runOnce loads the table, analyses it and writes every export table.
func runOnce(ctx context.Context, cfg config.AnalyzerConfig, pub *publisher.Publisher) error {
	started := time.Now()

	in, err := source.Open(ctx, cfg.Input)
	if err != nil {
		return err
	}
	defer in.Close()

	bar := progressbar.NewOptions64(in.Size,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("reading "+in.Name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)
	rd := progressbar.NewReader(in, bar)
	table, err := ingest.Read(&rd, ingest.ReadOptions{Delimiter: cfg.DelimiterRune()})
	bar.Finish() //nolint:errcheck
	if err != nil {
		return err
	}
	slog.Info("table ingested",
		"input", in.Name,
		"records", len(table.Records),
		"has_status", table.Schema.HasStatus,
		"has_extended", table.Schema.HasExtended,
	)

	now := cfg.EvalTime()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	params := analysis.Params{Now: now, ChurnThreshold: cfg.ChurnThreshold}
	if !cfg.Filter.IsZero() {
		pred := cfg.Filter.Apply(analysis.ObservedPredicate(table, now))
		params.Predicate = &pred
	}

	res, err := analysis.Run(table, params)
	if err != nil {
		return err
	}

	written, err := exportAll(res, cfg)
	if err != nil {
		return err
	}

	m := res.Metrics()
	attrs := []any{
		"evaluated_at", res.EvaluatedAt,
		"filtered_orders", res.FilteredOrders,
		"filtered_users", res.FilteredUsers,
		"cohort_months", len(res.Cohorts),
		"tables_written", written,
		"elapsed", time.Since(started),
	}
	for _, k := range []string{"avg_days_stuck", "long_stuck_pct", "churn_rate", "churn_correlation"} {
		if v, ok := m[k]; ok {
			attrs = append(attrs, k, v)
		}
	}
	slog.Info("analysis complete", attrs...)
	for _, h := range res.Hints {
		slog.Info("hint", "key", h.Key, "level", h.Level, "title", h.Title)
	}

	if pub != nil {
		n, err := pub.Publish(res)
		if err != nil {
			return err
		}
		slog.Info("results queued for kafka", "messages", n, "pending", pub.Pending())
	}
	return nil
}

// exportAll writes every table available for res and returns how many were written.
func exportAll(res *analysis.Result, cfg config.AnalyzerConfig) (int, error) {
	bar := progressbar.NewOptions(len(export.Names),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("exporting"),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish() //nolint:errcheck

	written := 0
	for _, name := range export.Names {
		bar.Add(1) //nolint:errcheck
		t, err := export.Build(res, name)
		if errors.Is(err, analysis.ErrNoExtendedSchema) {
			slog.Debug("skipping churn table", "table", name)
			continue
		}
		if err != nil {
			return written, err
		}
		path := export.TimestampedFilename(cfg.OutputDir, name, time.Now())
		if err := export.WriteFile(path, t, cfg.DelimiterRune()); err != nil {
			return written, err
		}
		slog.Info("table exported", "table", name, "rows", len(t.Rows), "path", path)
		written++
	}
	return written, nil
}
