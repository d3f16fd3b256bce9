package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Agustinjoel/aftr-mvp/internal/cache"
	"github.com/Agustinjoel/aftr-mvp/internal/config"
	"github.com/Agustinjoel/aftr-mvp/internal/fixtures"
	"github.com/Agustinjoel/aftr-mvp/internal/footballdata"
	"github.com/Agustinjoel/aftr-mvp/internal/logger"
	"github.com/Agustinjoel/aftr-mvp/internal/metrics"
	"github.com/Agustinjoel/aftr-mvp/internal/models"
	"github.com/Agustinjoel/aftr-mvp/internal/pipeline"
	"github.com/Agustinjoel/aftr-mvp/internal/poisson"
	"github.com/Agustinjoel/aftr-mvp/internal/selector"
	"github.com/Agustinjoel/aftr-mvp/internal/settlement"
	"github.com/Agustinjoel/aftr-mvp/internal/storage"
	"github.com/Agustinjoel/aftr-mvp/internal/strength"
	"github.com/Agustinjoel/aftr-mvp/internal/telegram"
)

const usage = `usage: aftr [-config path] <command> [flags]

commands:
  refresh   build pick snapshots (-leagues, -date, -interval, -metrics-addr)
  settle    settle pending picks against final scores (-leagues)
  stats     print win rate, net units and ROI (-league)
`

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Failed to load .env: %v", err)
	}

	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !isFlagSet("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if path != "" {
		logger.Info("Configuration loaded from %s", path)
	}

	command := "refresh"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	var code int
	switch command {
	case "refresh":
		code = runRefresh(ctx, cfg, args)
	case "settle":
		code = runSettle(ctx, cfg, args)
	case "stats":
		code = runStats(ctx, cfg, args)
	default:
		flag.Usage()
		code = 64
	}
	os.Exit(code)
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func parseLeagues(s string, fallback []string) []string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	var out []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.ToUpper(strings.TrimSpace(l)); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func openStorage(cfg *config.Config) *storage.Storage {
	store, err := storage.Open(cfg.Storage.Driver, cfg.DataSource())
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	return store
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Store, func()) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(), func() {}
	case "redis":
		rs, err := cache.NewRedisStore(ctx,
			cache.WithAddr(cfg.Cache.RedisAddr),
			cache.WithPassword(cfg.Cache.RedisPassword),
			cache.WithDB(cfg.Cache.RedisDB),
			cache.WithPrefix(cfg.Cache.RedisPrefix),
			cache.WithTTL(cfg.Cache.TTL),
		)
		if err != nil {
			logger.Fatal("Failed to connect to redis: %v", err)
		}
		return rs, func() { _ = rs.Close() }
	default:
		fsStore, err := cache.NewFileStore(cfg.Cache.Dir)
		if err != nil {
			logger.Fatal("Failed to initialize cache: %v", err)
		}
		return fsStore, func() {}
	}
}

func newRefresher(cfg *config.Config, store cache.Store, evals *storage.Storage, rec *metrics.Recorder) *pipeline.Refresher {
	client := footballdata.NewClient(footballdata.Config{
		BaseURL:        cfg.FootballData.BaseURL,
		APIKey:         cfg.FootballData.APIKey,
		Timeout:        cfg.FootballData.Timeout,
		MaxRetries:     cfg.FootballData.MaxRetries,
		RetryDelayBase: cfg.FootballData.RetryDelayBase,
		RetryDelayMax:  cfg.FootballData.RetryDelayMax,
	})
	if cfg.FootballData.APIKey == "" {
		logger.Warn("football_data.api_key is empty; requests will be heavily rate limited")
	}

	opts := pipeline.Options{
		Workers:            cfg.Pipeline.Workers,
		FetchTimeout:       cfg.Pipeline.FetchTimeout,
		LookbackDays:       cfg.Pipeline.LookbackDays,
		SettleLookbackDays: cfg.Pipeline.SettleLookbackDays,
		Devig:              cfg.Model.Devig,
		Strength: strength.Config{
			MinMatches:     cfg.Model.MinMatches,
			MinCoefficient: cfg.Model.MinCoefficient,
		},
		Model: poisson.Config{
			MaxGoals:  cfg.Model.MaxGoals,
			Tolerance: cfg.Model.Tolerance,
		},
		Selector: selector.Config{
			MinProbability:       cfg.Selector.MinProbability,
			MinEdge:              cfg.Selector.MinEdge,
			MaxPerFixture:        cfg.Selector.MaxPerFixture,
			MaxPerDay:            cfg.Selector.MaxPerDay,
			ExcludeLowConfidence: cfg.Selector.ExcludeLowConfidence,
		},
		Policy: settlement.Policy{
			VoidPostponed: cfg.Settlement.VoidPostponed,
			ResultGrace:   cfg.Settlement.ResultGrace,
		},
	}
	r, err := pipeline.New(client, store, evals, rec, opts)
	if err != nil {
		logger.Fatal("Failed to initialize pipeline: %v", err)
	}
	return r
}

func newTelegram(cfg *config.Config) *telegram.Client {
	if !cfg.Telegram.Enabled {
		logger.Debug("Telegram notifications disabled")
		return nil
	}
	tc, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram client: %v", err)
	}
	logger.Info("Telegram client initialized successfully")
	return tc
}

func serveMetrics(addr string, rec *metrics.Recorder) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func runRefresh(ctx context.Context, cfg *config.Config, args []string) int {
	fset := flag.NewFlagSet("refresh", flag.ExitOnError)
	leaguesFlag := fset.String("leagues", "", "Comma-separated league codes (default from config)")
	dateFlag := fset.String("date", "", "Match day YYYY-MM-DD (default today, UTC)")
	interval := fset.Duration("interval", cfg.Pipeline.Interval, "Repeat refresh+settle on this interval (0 = once)")
	metricsAddr := fset.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	_ = fset.Parse(args)

	leagues := parseLeagues(*leaguesFlag, cfg.Pipeline.Leagues)
	var fixedDate time.Time
	if *dateFlag != "" {
		d, err := fixtures.ParseDay(*dateFlag)
		if err != nil {
			logger.Error("%v", err)
			return 64
		}
		fixedDate = d
	}

	evals := openStorage(cfg)
	defer func() {
		if err := evals.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()
	store, closeCache := openCache(ctx, cfg)
	defer closeCache()

	rec := metrics.New()
	addr := *metricsAddr
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		stop := serveMetrics(addr, rec)
		defer stop()
	}

	refresher := newRefresher(cfg, store, evals, rec)
	telegramClient := newTelegram(cfg)
	if telegramClient != nil && *interval > 0 {
		telegramClient.ListenForCommands(ctx, evals)
	}

	consecutiveFailures := 0
	runCycle := func() pipeline.Summary {
		date := fixedDate
		if date.IsZero() {
			date = time.Now().UTC()
		}
		summary := refresher.Refresh(ctx, leagues, date)

		if _, err := refresher.Settle(ctx, leagues, time.Now().UTC()); err != nil {
			logger.Warn("Settle cycle failed: %v", err)
		}

		if summary.Status == pipeline.StatusNone {
			consecutiveFailures++
			if consecutiveFailures == 1 && telegramClient != nil {
				if err := telegramClient.SendError(summary.Err()); err != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", err)
				}
			}
			return summary
		}
		if consecutiveFailures > 0 && telegramClient != nil {
			if err := telegramClient.SendRecovery(consecutiveFailures); err != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", err)
			}
		}
		consecutiveFailures = 0
		if telegramClient != nil {
			if err := telegramClient.Send(summary, topPicks(ctx, store, summary, 5)); err != nil {
				logger.Warn("Failed to send summary to Telegram: %v", err)
			}
		}
		return summary
	}

	if *interval <= 0 {
		summary := runCycle()
		printJSON(summary)
		return summary.ExitCode()
	}

	logger.Info("Starting scheduled refresh (interval: %v, leagues: %v)", *interval, leagues)
	runCycle()
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("Service stopped")
			return 0
		case <-ticker.C:
			logger.Debug("Starting scheduled refresh cycle")
			runCycle()
		}
	}
}

// topPicks merges the freshly written snapshots and returns the n best candidates.
func topPicks(ctx context.Context, store cache.Store, summary pipeline.Summary, n int) []models.PickCandidate {
	var all []models.PickCandidate
	for _, lr := range summary.Leagues {
		if !lr.OK {
			continue
		}
		snap, err := store.Read(ctx, lr.League, summary.Date)
		if err != nil {
			logger.Warn("Failed to read snapshot %s/%s: %v", lr.League, summary.Date, err)
			continue
		}
		all = append(all, snap.Candidates...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

func runSettle(ctx context.Context, cfg *config.Config, args []string) int {
	fset := flag.NewFlagSet("settle", flag.ExitOnError)
	leaguesFlag := fset.String("leagues", "", "Comma-separated league codes (default from config)")
	_ = fset.Parse(args)

	evals := openStorage(cfg)
	defer evals.Close()

	refresher := newRefresher(cfg, cache.NewMemoryStore(), evals, nil)
	summary, err := refresher.Settle(ctx, parseLeagues(*leaguesFlag, cfg.Pipeline.Leagues), time.Now().UTC())
	if err != nil {
		logger.Error("Settle failed: %v", err)
		return 1
	}
	fmt.Print(summary.String())
	if summary.Err() != nil {
		return 2
	}
	return 0
}

func runStats(ctx context.Context, cfg *config.Config, args []string) int {
	fset := flag.NewFlagSet("stats", flag.ExitOnError)
	league := fset.String("league", "", "League code (empty = all leagues)")
	_ = fset.Parse(args)

	evals := openStorage(cfg)
	defer evals.Close()

	summary, err := evals.StatsSummary(ctx, strings.ToUpper(*league))
	if err != nil {
		logger.Error("Failed to compute stats: %v", err)
		return 1
	}
	printJSON(summary)
	return 0
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error("Failed to encode output: %v", err)
	}
}
