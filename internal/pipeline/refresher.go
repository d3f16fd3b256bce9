// Package pipeline runs refresh and settle cycles across leagues.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/Agustinjoel/aftr-mvp/internal/cache"
	"github.com/Agustinjoel/aftr-mvp/internal/fixtures"
	"github.com/Agustinjoel/aftr-mvp/internal/logger"
	"github.com/Agustinjoel/aftr-mvp/internal/markets"
	"github.com/Agustinjoel/aftr-mvp/internal/metrics"
	"github.com/Agustinjoel/aftr-mvp/internal/models"
	"github.com/Agustinjoel/aftr-mvp/internal/poisson"
	"github.com/Agustinjoel/aftr-mvp/internal/selector"
	"github.com/Agustinjoel/aftr-mvp/internal/settlement"
	"github.com/Agustinjoel/aftr-mvp/internal/strength"
)

// Status is the overall result of a refresh cycle.
type Status string

const (
	StatusAll     Status = "ALL"
	StatusPartial Status = "PARTIAL"
	StatusNone    Status = "NONE"
)

// Options configures a Refresher.
type Options struct {
	Workers            int
	FetchTimeout       time.Duration
	LookbackDays       int
	SettleLookbackDays int
	Devig              bool
	Strength           strength.Config
	Model              poisson.Config
	Selector           selector.Config
	Policy             settlement.Policy
}

// DefaultOptions returns the algorithm defaults with a small worker pool.
func DefaultOptions() Options {
	return Options{
		Workers:            4,
		FetchTimeout:       time.Minute,
		LookbackDays:       365,
		SettleLookbackDays: 7,
		Devig:              true,
		Strength:           strength.DefaultConfig(),
		Model:              poisson.DefaultConfig(),
		Selector:           selector.DefaultConfig(),
		Policy:             settlement.DefaultPolicy(),
	}
}

// LeagueResult is the outcome of refreshing one league.
type LeagueResult struct {
	League          string        `json:"league"`
	OK              bool          `json:"ok"`
	Fixtures        int           `json:"fixtures"`
	Candidates      int           `json:"candidates"`
	SkippedFixtures int           `json:"skipped_fixtures"`
	Err             error         `json:"-"`
	Duration        time.Duration `json:"duration"`
}

// Summary reports a whole refresh cycle. Leagues keep the requested order.
type Summary struct {
	RunID     string         `json:"run_id"`
	Date      string         `json:"date"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Leagues   []LeagueResult `json:"leagues"`
	Status    Status         `json:"status"`
}

// ExitCode maps the status to the process exit code: 0 all, 2 partial, 1 none.
func (s Summary) ExitCode() int {
	switch s.Status {
	case StatusAll:
		return 0
	case StatusPartial:
		return 2
	default:
		return 1
	}
}

// Err joins the errors of failed leagues; nil when every league succeeded.
func (s Summary) Err() error {
	var errs []error
	for _, r := range s.Leagues {
		if !r.OK {
			errs = append(errs, fmt.Errorf("%s: %w", r.League, r.Err))
		}
	}
	return errors.Join(errs...)
}

func overallStatus(results []LeagueResult) Status {
	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	switch {
	case ok == len(results) && ok > 0:
		return StatusAll
	case ok > 0:
		return StatusPartial
	default:
		return StatusNone
	}
}

// Refresher wires the fixture source, model and stores into refresh cycles.
type Refresher struct {
	repo    fixtures.Repository
	cache   cache.Store
	evals   settlement.Store
	model   *poisson.Model
	settler *settlement.Engine
	metrics *metrics.Recorder
	opts    Options
	now     func() time.Time
}

// New builds a Refresher. evals and rec may be nil.
func New(repo fixtures.Repository, store cache.Store, evals settlement.Store, rec *metrics.Recorder, opts Options) (*Refresher, error) {
	model, err := poisson.New(opts.Model)
	if err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	r := &Refresher{
		repo:    repo,
		cache:   store,
		evals:   evals,
		model:   model,
		metrics: rec,
		opts:    opts,
		now:     time.Now,
	}
	if evals != nil {
		r.settler = settlement.New(evals, opts.Policy)
	}
	return r, nil
}

// Refresh regenerates the snapshot of every league for date. A failing league
// never aborts the others.
func (r *Refresher) Refresh(ctx context.Context, leagues []string, date time.Time) Summary {
	start := r.now()
	summary := Summary{
		RunID:     uuid.NewString(),
		Date:      date.UTC().Format(fixtures.DayLayout),
		StartedAt: start,
	}
	logger.Info("Starting refresh %s for %s (%d leagues)", summary.RunID, summary.Date, len(leagues))

	type indexed struct {
		i   int
		res LeagueResult
	}
	p := pool.NewWithResults[indexed]().WithMaxGoroutines(r.opts.Workers)
	for i, league := range leagues {
		i, league := i, league
		p.Go(func() indexed {
			return indexed{i: i, res: r.refreshLeague(ctx, league, date)}
		})
	}
	collected := p.Wait()
	sort.Slice(collected, func(a, b int) bool { return collected[a].i < collected[b].i })

	summary.Leagues = make([]LeagueResult, 0, len(collected))
	for _, c := range collected {
		summary.Leagues = append(summary.Leagues, c.res)
	}
	summary.Status = overallStatus(summary.Leagues)
	summary.Duration = r.now().Sub(start)
	r.metrics.RecordCycle(string(summary.Status))

	logger.Info("Refresh %s finished: %s in %v", summary.RunID, summary.Status, summary.Duration.Round(time.Millisecond))
	return summary
}

func (r *Refresher) refreshLeague(ctx context.Context, league string, date time.Time) (res LeagueResult) {
	start := r.now()
	res.League = league
	defer func() {
		res.Duration = r.now().Sub(start)
		result := "ok"
		if !res.OK {
			result = failureKind(res.Err)
			logger.Error("League %s failed: %v", league, res.Err)
		}
		r.metrics.RecordLeague(league, result, res.Candidates, res.SkippedFixtures, res.Duration)
	}()

	history, upcoming, err := r.fetch(ctx, league, date)
	if err != nil {
		var fe *models.FetchError
		if errors.As(err, &fe) {
			r.metrics.RecordFetchError(league, string(fe.Reason))
		}
		res.Err = err
		return res
	}
	res.Fixtures = len(upcoming)

	now := r.now()
	snap, skipped, err := r.BuildSnapshot(league, date, history, upcoming, now)
	res.SkippedFixtures = skipped
	if err != nil {
		res.Err = err
		return res
	}

	// Modelling is done; finish the write even on shutdown.
	writeCtx := context.WithoutCancel(ctx)
	if err := r.cache.Write(writeCtx, snap); err != nil {
		res.Err = err
		return res
	}
	res.Candidates = snap.Count
	res.OK = true

	r.registerPending(writeCtx, snap.Candidates, now)
	logger.Info("League %s: %d candidates from %d fixtures (%d skipped)", league, snap.Count, res.Fixtures, skipped)
	return res
}

// fetch loads the lookback history and the fixtures of date under the
// per-league fetch timeout.
func (r *Refresher) fetch(ctx context.Context, league string, date time.Time) ([]models.Fixture, []models.Fixture, error) {
	if r.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.FetchTimeout)
		defer cancel()
	}
	window := fixtures.Window{End: date.UTC().AddDate(0, 0, -1), Days: r.opts.LookbackDays}
	history, err := r.repo.ListHistoricalResults(ctx, league, window)
	if err != nil {
		return nil, nil, err
	}
	upcoming, err := r.repo.ListFixtures(ctx, league, fixtures.Day(date))
	if err != nil {
		return nil, nil, err
	}
	return history, upcoming, nil
}

// BuildSnapshot runs strength estimation, the match model, market evaluation
// and selection for one league/day. A fixture whose model cannot be built is
// skipped and counted; a league without usable averages yields an error.
func (r *Refresher) BuildSnapshot(league string, date time.Time, history, upcoming []models.Fixture, now time.Time) (*models.CacheSnapshot, int, error) {
	table, err := strength.Estimate(league, history, r.opts.Strength, now)
	if err != nil {
		return nil, 0, fmt.Errorf("strength estimation failed: %w", err)
	}

	skipped := 0
	inputs := make([]selector.FixtureInput, 0, len(upcoming))
	for _, f := range upcoming {
		if f.Status != models.StatusScheduled {
			continue
		}
		in := selector.FixtureInput{Fixture: f}
		home, away, ok := table.MatchInputs(f.HomeTeam, f.AwayTeam)
		if !ok {
			logger.Debug("No strength estimate for %s vs %s, skipping", f.HomeTeam, f.AwayTeam)
			inputs = append(inputs, in)
			continue
		}
		lh, la := poisson.Lambdas(table.Averages, home, away)
		dist, err := r.model.Distribution(f.ID, lh, la)
		if err != nil {
			logger.Warn("Skipping fixture %s: %v", f.ID, err)
			skipped++
			continue
		}
		in.HasStrength = true
		in.LowConfidence = home.LowConfidence || away.LowConfidence
		in.LambdaHome, in.LambdaAway = lh, la
		in.Outcomes = markets.Evaluate(dist, f.Odds, r.opts.Devig)
		inputs = append(inputs, in)
	}

	candidates := selector.ForDay(inputs, r.opts.Selector, now)
	return models.NewCacheSnapshot(league, date.UTC().Format(fixtures.DayLayout), candidates, now), skipped, nil
}

func (r *Refresher) registerPending(ctx context.Context, candidates []models.PickCandidate, now time.Time) {
	if r.evals == nil {
		return
	}
	for _, c := range candidates {
		if err := r.evals.UpsertEvaluation(ctx, models.NewPendingEvaluation(c, now)); err != nil {
			logger.Warn("Failed to register pick %s: %v", c.ID, err)
		}
	}
}

func failureKind(err error) string {
	var fe *models.FetchError
	var ce *models.CacheWriteError
	switch {
	case errors.As(err, &fe):
		return "fetch_failed"
	case errors.As(err, &ce):
		return "cache_failed"
	case errors.Is(err, strength.ErrNoLeagueAverage):
		return "no_data"
	default:
		return "failed"
	}
}

// LeagueSettlement is the outcome of settling one league.
type LeagueSettlement struct {
	League string
	Report settlement.Report
	Err    error
}

// SettleSummary reports a settle cycle.
type SettleSummary struct {
	RunID   string
	Leagues []LeagueSettlement
}

// Err joins the errors of leagues that could not be settled.
func (s SettleSummary) Err() error {
	var errs []error
	for _, l := range s.Leagues {
		if l.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.League, l.Err))
		}
	}
	return errors.Join(errs...)
}

// String renders a one-line report per league.
func (s SettleSummary) String() string {
	var b strings.Builder
	for _, l := range s.Leagues {
		if l.Err != nil {
			fmt.Fprintf(&b, "%s: error: %v\n", l.League, l.Err)
			continue
		}
		rep := l.Report
		fmt.Fprintf(&b, "%s: checked %d, won %d, lost %d, void %d, pending %d, conflicts %d\n",
			l.League, rep.Checked, rep.Won, rep.Lost, rep.Voided, rep.Pending, rep.Conflicts)
	}
	return b.String()
}

// Settle reconciles pending evaluations with recent results. A league whose
// fetch fails is left untouched so its picks are not voided for lack of data.
func (r *Refresher) Settle(ctx context.Context, leagues []string, now time.Time) (SettleSummary, error) {
	summary := SettleSummary{RunID: uuid.NewString()}
	if r.settler == nil {
		return summary, errors.New("no evaluation store configured")
	}

	for _, league := range leagues {
		ls := LeagueSettlement{League: league}
		recent, err := r.fetchRecent(ctx, league, now)
		if err != nil {
			var fe *models.FetchError
			if errors.As(err, &fe) {
				r.metrics.RecordFetchError(league, string(fe.Reason))
			}
			logger.Error("Settle %s: fetch failed: %v", league, err)
			ls.Err = err
			summary.Leagues = append(summary.Leagues, ls)
			continue
		}
		ls.Report, ls.Err = r.settler.Settle(ctx, league, recent, now)
		if ls.Err != nil {
			logger.Error("Settle %s failed: %v", league, ls.Err)
		} else {
			rep := ls.Report
			r.metrics.RecordSettlement(league, rep.Won, rep.Lost, rep.Voided, rep.Conflicts)
			logger.Info("Settle %s: checked %d, won %d, lost %d, void %d, conflicts %d",
				league, rep.Checked, rep.Won, rep.Lost, rep.Voided, rep.Conflicts)
		}
		summary.Leagues = append(summary.Leagues, ls)
	}
	return summary, nil
}

// settleChunkDays bounds the date range of one fixture request.
const settleChunkDays = 10

// fetchRecent loads the fixtures of league from the earliest pending kickoff
// (or the settle lookback, whichever is older) up to now, in chunks.
func (r *Refresher) fetchRecent(ctx context.Context, league string, now time.Time) ([]models.Fixture, error) {
	days := r.opts.SettleLookbackDays
	if days < 1 {
		days = 1
	}
	from := now.AddDate(0, 0, -days)
	pending, err := r.evals.ListPendingEvaluations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending evaluations: %w", err)
	}
	for _, rec := range pending {
		if rec.League == league && rec.Kickoff.Before(from) {
			from = rec.Kickoff
		}
	}

	end := fixtures.Day(now).To
	var out []models.Fixture
	for start := fixtures.Day(from).From; !start.After(end); start = start.AddDate(0, 0, settleChunkDays) {
		to := start.AddDate(0, 0, settleChunkDays-1)
		if to.After(end) {
			to = end
		}
		chunk, err := r.listFixtures(ctx, league, fixtures.DateRange{From: start, To: to})
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (r *Refresher) listFixtures(ctx context.Context, league string, dr fixtures.DateRange) ([]models.Fixture, error) {
	if r.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.FetchTimeout)
		defer cancel()
	}
	return r.repo.ListFixtures(ctx, league, dr)
}
