package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agustinjoel/aftr-mvp/internal/cache"
	"github.com/Agustinjoel/aftr-mvp/internal/fixtures"
	"github.com/Agustinjoel/aftr-mvp/internal/metrics"
	"github.com/Agustinjoel/aftr-mvp/internal/models"
	"github.com/Agustinjoel/aftr-mvp/internal/settlement"
	"github.com/Agustinjoel/aftr-mvp/internal/storage"
)

var (
	matchDay = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	runAt    = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

func result(id, league, home, away string, day, hg, ag int) models.Fixture {
	return models.Fixture{
		ID: id, League: league, HomeTeam: home, AwayTeam: away,
		Kickoff: time.Date(2025, 2, day, 15, 0, 0, 0, time.UTC),
		Status:  models.StatusFinished,
		Score:   &models.Score{Home: hg, Away: ag},
	}
}

func upcoming(id, league, home, away string) models.Fixture {
	return models.Fixture{
		ID: id, League: league, HomeTeam: home, AwayTeam: away,
		Kickoff: matchDay.Add(15 * time.Hour),
		Status:  models.StatusScheduled,
	}
}

// leagueFixtures is a four-team league where every side has played twice at
// home and twice away, plus three fixtures on matchDay (one with a newcomer).
func leagueFixtures(league string) []models.Fixture {
	return []models.Fixture{
		result(league+"-h1", league, "A", "B", 1, 2, 0),
		result(league+"-h2", league, "C", "D", 1, 1, 1),
		result(league+"-h3", league, "B", "C", 8, 1, 2),
		result(league+"-h4", league, "D", "A", 8, 0, 1),
		result(league+"-h5", league, "A", "C", 15, 3, 1),
		result(league+"-h6", league, "B", "D", 15, 0, 0),
		result(league+"-h7", league, "C", "A", 22, 2, 1),
		result(league+"-h8", league, "D", "B", 22, 1, 2),
		upcoming(league+"-u1", league, "A", "B"),
		upcoming(league+"-u2", league, "C", "D"),
		upcoming(league+"-u3", league, "E", "A"),
	}
}

func newRefresher(t *testing.T, repo fixtures.Repository, store cache.Store, evals settlement.Store, opts Options) *Refresher {
	t.Helper()
	r, err := New(repo, store, evals, metrics.New(), opts)
	require.NoError(t, err)
	r.now = func() time.Time { return runAt }
	return r
}

type failingCache struct{}

func (failingCache) Write(ctx context.Context, s *models.CacheSnapshot) error {
	return &models.CacheWriteError{League: s.League, Date: s.Date, Err: errors.New("disk full")}
}

func (failingCache) Read(ctx context.Context, league, date string) (*models.CacheSnapshot, error) {
	return nil, cache.ErrNotFound
}

func TestRefresh_AllLeagues(t *testing.T) {
	ctx := context.Background()
	repo := fixtures.NewStatic(append(leagueFixtures("PL"), leagueFixtures("PD")...)...)
	store := cache.NewMemoryStore()
	r := newRefresher(t, repo, store, nil, DefaultOptions())

	summary := r.Refresh(ctx, []string{"PL", "PD"}, matchDay)
	require.Len(t, summary.Leagues, 2)
	assert.Equal(t, StatusAll, summary.Status)
	assert.Equal(t, 0, summary.ExitCode())
	assert.NoError(t, summary.Err())
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, "2025-03-01", summary.Date)
	assert.Equal(t, "PL", summary.Leagues[0].League)
	assert.Equal(t, "PD", summary.Leagues[1].League)

	for _, lr := range summary.Leagues {
		assert.True(t, lr.OK)
		assert.Equal(t, 3, lr.Fixtures)
		assert.Zero(t, lr.SkippedFixtures)

		snap, err := store.Read(ctx, lr.League, "2025-03-01")
		require.NoError(t, err)
		require.NoError(t, snap.Verify())
		assert.Equal(t, lr.Candidates, snap.Count)
		assert.NotZero(t, snap.Count)
		for _, c := range snap.Candidates {
			assert.NotEqual(t, lr.League+"-u3", c.FixtureID, "newcomer without strength yields no candidates")
			assert.GreaterOrEqual(t, c.Probability, 0.50)
			assert.InDelta(t, c.XGHome+c.XGAway, c.XGTotal, 1e-12)
		}
	}
}

func TestRefresh_OneLeagueFetchFails(t *testing.T) {
	ctx := context.Background()
	repo := fixtures.NewStatic(append(leagueFixtures("PL"), leagueFixtures("PD")...)...)
	repo.Fail("PD", errors.New("connection reset"))
	store := cache.NewMemoryStore()
	r := newRefresher(t, repo, store, nil, DefaultOptions())

	summary := r.Refresh(ctx, []string{"PL", "PD"}, matchDay)
	assert.Equal(t, StatusPartial, summary.Status)
	assert.Equal(t, 2, summary.ExitCode())
	assert.True(t, summary.Leagues[0].OK)
	assert.False(t, summary.Leagues[1].OK)

	var fe *models.FetchError
	assert.True(t, errors.As(summary.Leagues[1].Err, &fe))
	assert.Error(t, summary.Err())

	_, err := store.Read(ctx, "PD", "2025-03-01")
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestRefresh_NoLeagueSucceeds(t *testing.T) {
	repo := fixtures.NewStatic()
	repo.Fail("PL", errors.New("timeout"))
	r := newRefresher(t, repo, cache.NewMemoryStore(), nil, DefaultOptions())

	summary := r.Refresh(context.Background(), []string{"PL", "SA"}, matchDay)
	assert.Equal(t, StatusNone, summary.Status)
	assert.Equal(t, 1, summary.ExitCode())
	// SA has no history, so no league average can be computed.
	assert.Equal(t, "no_data", failureKind(summary.Leagues[1].Err))
}

func TestRefresh_CacheWriteFailsLeague(t *testing.T) {
	repo := fixtures.NewStatic(leagueFixtures("PL")...)
	r := newRefresher(t, repo, failingCache{}, nil, DefaultOptions())

	summary := r.Refresh(context.Background(), []string{"PL"}, matchDay)
	require.Len(t, summary.Leagues, 1)
	assert.False(t, summary.Leagues[0].OK)
	var ce *models.CacheWriteError
	assert.True(t, errors.As(summary.Leagues[0].Err, &ce))
	assert.Equal(t, StatusNone, summary.Status)
}

func TestRefresh_ModelErrorSkipsFixture(t *testing.T) {
	opts := DefaultOptions()
	// A vs B expects three home goals, beyond a one-goal grid.
	opts.Model.MaxGoals = 1
	repo := fixtures.NewStatic(leagueFixtures("PL")...)
	store := cache.NewMemoryStore()
	r := newRefresher(t, repo, store, nil, opts)

	summary := r.Refresh(context.Background(), []string{"PL"}, matchDay)
	lr := summary.Leagues[0]
	assert.True(t, lr.OK, "model errors skip fixtures, not the league")
	assert.Greater(t, lr.SkippedFixtures, 0)

	snap, err := store.Read(context.Background(), "PL", "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, lr.Candidates, snap.Count)
}

func TestBuildSnapshot_Deterministic(t *testing.T) {
	all := leagueFixtures("PL")
	history, upcomingFx := all[:8], all[8:]
	r := newRefresher(t, fixtures.NewStatic(), cache.NewMemoryStore(), nil, DefaultOptions())

	first, _, err := r.BuildSnapshot("PL", matchDay, history, upcomingFx, runAt)
	require.NoError(t, err)

	reversedHistory := make([]models.Fixture, len(history))
	for i := range history {
		reversedHistory[len(history)-1-i] = history[i]
	}
	reversedUpcoming := []models.Fixture{upcomingFx[2], upcomingFx[1], upcomingFx[0]}
	second, _, err := r.BuildSnapshot("PL", matchDay, reversedHistory, reversedUpcoming, runAt)
	require.NoError(t, err)

	assert.Equal(t, first.Checksum, second.Checksum)
	require.Equal(t, len(first.Candidates), len(second.Candidates))
	for i := range first.Candidates {
		assert.Equal(t, first.Candidates[i].ID, second.Candidates[i].ID)
	}
}

func TestBuildSnapshot_SkipsNonScheduled(t *testing.T) {
	all := leagueFixtures("PL")
	postponed := all[8]
	postponed.Status = models.StatusPostponed
	r := newRefresher(t, fixtures.NewStatic(), cache.NewMemoryStore(), nil, DefaultOptions())

	snap, skipped, err := r.BuildSnapshot("PL", matchDay, all[:8], []models.Fixture{postponed}, runAt)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Zero(t, snap.Count)
	assert.NotNil(t, snap.Candidates)
}

func TestRefreshThenSettle(t *testing.T) {
	ctx := context.Background()
	evals, err := storage.New(":memory:")
	require.NoError(t, err)
	defer evals.Close()

	repo := fixtures.NewStatic(leagueFixtures("PL")...)
	r := newRefresher(t, repo, cache.NewMemoryStore(), evals, DefaultOptions())
	summary := r.Refresh(ctx, []string{"PL"}, matchDay)
	require.Equal(t, StatusAll, summary.Status)

	pending, err := evals.ListPendingEvaluations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, summary.Leagues[0].Candidates)

	// Results come in the next day.
	played := leagueFixtures("PL")
	for i := range played[8:] {
		f := &played[8+i]
		f.Status = models.StatusFinished
		f.Score = &models.Score{Home: 2, Away: 1}
	}
	settleRepo := fixtures.NewStatic(played...)
	settler := newRefresher(t, settleRepo, cache.NewMemoryStore(), evals, DefaultOptions())

	out, err := settler.Settle(ctx, []string{"PL"}, runAt.Add(24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, out.Err())
	require.Len(t, out.Leagues, 1)
	rep := out.Leagues[0].Report
	assert.Equal(t, len(pending), rep.Checked)
	assert.Equal(t, rep.Checked, rep.Won+rep.Lost)
	assert.Contains(t, out.String(), "PL: checked")

	left, err := evals.ListPendingEvaluations(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)

	// Refreshing again must not reopen settled picks.
	r.Refresh(ctx, []string{"PL"}, matchDay)
	left, err = evals.ListPendingEvaluations(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSettle_FetchFailureLeavesPicksPending(t *testing.T) {
	ctx := context.Background()
	evals, err := storage.New(":memory:")
	require.NoError(t, err)
	defer evals.Close()

	r := newRefresher(t, fixtures.NewStatic(leagueFixtures("PL")...), cache.NewMemoryStore(), evals, DefaultOptions())
	require.Equal(t, StatusAll, r.Refresh(ctx, []string{"PL"}, matchDay).Status)
	before, _ := evals.ListPendingEvaluations(ctx)

	broken := fixtures.NewStatic()
	broken.Fail("PL", errors.New("503"))
	settler := newRefresher(t, broken, cache.NewMemoryStore(), evals, DefaultOptions())

	// Well past the grace period: without data nothing may be voided.
	out, err := settler.Settle(ctx, []string{"PL"}, runAt.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Error(t, out.Err())

	after, _ := evals.ListPendingEvaluations(ctx)
	assert.Len(t, after, len(before))
}

func TestSettle_WithoutStore(t *testing.T) {
	r := newRefresher(t, fixtures.NewStatic(), cache.NewMemoryStore(), nil, DefaultOptions())
	_, err := r.Settle(context.Background(), []string{"PL"}, runAt)
	assert.Error(t, err)
}

type countingRepo struct {
	fixtures.Repository
	ranges []fixtures.DateRange
}

func (c *countingRepo) ListFixtures(ctx context.Context, league string, r fixtures.DateRange) ([]models.Fixture, error) {
	c.ranges = append(c.ranges, r)
	return c.Repository.ListFixtures(ctx, league, r)
}

func pendingPick(id string, f models.Fixture) models.EvaluationRecord {
	return models.EvaluationRecord{
		PickID: id, FixtureID: f.ID, League: f.League,
		Market: "1X2", Selection: "HOME", Probability: 0.6, FairOdds: 1 / 0.6,
		Kickoff: f.Kickoff, Outcome: models.OutcomePending, CreatedAt: f.Kickoff.Add(-24 * time.Hour),
	}
}

func TestSettle_LongAfterKickoffStillFindsResult(t *testing.T) {
	ctx := context.Background()
	evals, err := storage.New(":memory:")
	require.NoError(t, err)
	defer evals.Close()

	played := upcoming("PL-u1", "PL", "A", "B")
	played.Status = models.StatusFinished
	played.Score = &models.Score{Home: 2, Away: 0}
	require.NoError(t, evals.UpsertEvaluation(ctx, pendingPick("p1", played)))

	repo := &countingRepo{Repository: fixtures.NewStatic(played)}
	r := newRefresher(t, repo, cache.NewMemoryStore(), evals, DefaultOptions())

	out, err := r.Settle(ctx, []string{"PL"}, played.Kickoff.Add(25*24*time.Hour))
	require.NoError(t, err)
	require.NoError(t, out.Err())
	assert.Equal(t, settlement.Report{Checked: 1, Won: 1}, out.Leagues[0].Report)

	rec, err := evals.GetEvaluation(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, models.OutcomeWin, rec.Outcome)

	require.Len(t, repo.ranges, 3, "26 days in 10-day requests")
	assert.Equal(t, matchDay, repo.ranges[0].From)
	assert.Equal(t, time.Date(2025, 3, 26, 0, 0, 0, 0, time.UTC), repo.ranges[2].To)
}

func TestSettle_CorrectedScoreIsAConflict(t *testing.T) {
	ctx := context.Background()
	evals, err := storage.New(":memory:")
	require.NoError(t, err)
	defer evals.Close()

	played := upcoming("PL-u1", "PL", "A", "B")
	played.Status = models.StatusFinished
	played.Score = &models.Score{Home: 2, Away: 0}
	require.NoError(t, evals.UpsertEvaluation(ctx, pendingPick("p1", played)))

	settleAt := played.Kickoff.Add(3 * time.Hour)
	r := newRefresher(t, fixtures.NewStatic(played), cache.NewMemoryStore(), evals, DefaultOptions())
	out, err := r.Settle(ctx, []string{"PL"}, settleAt)
	require.NoError(t, err)
	require.Equal(t, 1, out.Leagues[0].Report.Won)

	corrected := played
	corrected.Score = &models.Score{Home: 0, Away: 1}
	r = newRefresher(t, fixtures.NewStatic(corrected), cache.NewMemoryStore(), evals, DefaultOptions())
	out, err = r.Settle(ctx, []string{"PL"}, settleAt.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, settlement.Report{Conflicts: 1}, out.Leagues[0].Report)
	assert.Contains(t, out.String(), "conflicts 1")

	rec, err := evals.GetEvaluation(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWin, rec.Outcome)
	assert.Equal(t, models.Score{Home: 2, Away: 0}, *rec.FinalScore)
}

type cancelAfterFetch struct {
	fixtures.Repository
	cancel context.CancelFunc
}

func (c cancelAfterFetch) ListFixtures(ctx context.Context, league string, r fixtures.DateRange) ([]models.Fixture, error) {
	out, err := c.Repository.ListFixtures(ctx, league, r)
	c.cancel()
	return out, err
}

func TestRefresh_ShutdownAfterFetchStillWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	evals, err := storage.New(":memory:")
	require.NoError(t, err)
	defer evals.Close()
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)

	repo := cancelAfterFetch{Repository: fixtures.NewStatic(leagueFixtures("PL")...), cancel: cancel}
	r := newRefresher(t, repo, store, evals, DefaultOptions())

	summary := r.Refresh(ctx, []string{"PL"}, matchDay)
	require.Error(t, ctx.Err())
	require.Equal(t, StatusAll, summary.Status, "%v", summary.Err())

	snap, err := store.Read(context.Background(), "PL", "2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, summary.Leagues[0].Candidates, snap.Count)

	pending, err := evals.ListPendingEvaluations(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, snap.Count)
}
