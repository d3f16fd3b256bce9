package footballdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agustinjoel/aftr-mvp/internal/fixtures"
	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

const matchesJSON = `{
  "matches": [
    {"id": 101, "utcDate": "2025-03-01T15:00:00Z", "status": "FINISHED",
     "homeTeam": {"id": 1, "name": "Arsenal FC"}, "awayTeam": {"id": 2, "name": "Chelsea FC"},
     "score": {"fullTime": {"home": 2, "away": 1}}},
    {"id": 102, "utcDate": "2025-03-02T17:30:00Z", "status": "TIMED",
     "homeTeam": {"id": 3, "name": "Everton FC"}, "awayTeam": {"id": 4, "name": "Fulham FC"},
     "score": {"fullTime": {"home": null, "away": null}},
     "odds": {"homeWin": 2.1, "draw": 3.3, "awayWin": 3.6}},
    {"id": 103, "utcDate": "2025-03-02T20:00:00Z", "status": "CANCELLED",
     "homeTeam": {"id": 5, "name": "Brentford FC"}, "awayTeam": {"id": 6, "name": "Wolves"},
     "score": {"fullTime": {"home": null, "away": null}}},
    {"id": 104, "utcDate": "2025-03-01T12:30:00Z", "status": "FINISHED",
     "homeTeam": {"id": 7, "name": "Burnley FC"}, "awayTeam": {"id": 8, "name": "Luton Town"},
     "score": {"fullTime": {"home": null, "away": null}}}
  ]
}`

func testClient(url string, retries int) *Client {
	return NewClient(Config{
		BaseURL:        url,
		APIKey:         "secret",
		Timeout:        2 * time.Second,
		MaxRetries:     retries,
		RetryDelayBase: time.Millisecond,
		RetryDelayMax:  5 * time.Millisecond,
	})
}

func TestListFixtures_DecodesAndMapsStatus(t *testing.T) {
	var gotPath, gotToken, gotFrom, gotTo string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Auth-Token")
		gotFrom = r.URL.Query().Get("dateFrom")
		gotTo = r.URL.Query().Get("dateTo")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(matchesJSON))
	}))
	defer srv.Close()

	day := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	got, err := testClient(srv.URL, 0).ListFixtures(context.Background(), "PL", fixtures.Day(day))
	require.NoError(t, err)

	assert.Equal(t, "/v4/competitions/PL/matches", gotPath)
	assert.Equal(t, "secret", gotToken)
	assert.Equal(t, "2025-03-02", gotFrom)
	assert.Equal(t, "2025-03-02", gotTo)

	// Match 104 is FINISHED without a score and is dropped.
	require.Len(t, got, 3)

	assert.Equal(t, "101", got[0].ID)
	assert.Equal(t, models.StatusFinished, got[0].Status)
	require.NotNil(t, got[0].Score)
	assert.Equal(t, models.Score{Home: 2, Away: 1}, *got[0].Score)

	assert.Equal(t, models.StatusScheduled, got[1].Status)
	assert.Nil(t, got[1].Score)
	assert.Equal(t, 2.1, got[1].Odds[models.SelectionKey("1X2", "HOME")])
	assert.Equal(t, 3.3, got[1].Odds[models.SelectionKey("1X2", "DRAW")])
	assert.Equal(t, "PL", got[1].League)

	assert.Equal(t, models.StatusPostponed, got[2].Status)
}

func TestListHistoricalResults_FinishedOnly(t *testing.T) {
	var gotStatus, gotFrom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStatus = r.URL.Query().Get("status")
		gotFrom = r.URL.Query().Get("dateFrom")
		_, _ = w.Write([]byte(matchesJSON))
	}))
	defer srv.Close()

	end := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)
	got, err := testClient(srv.URL, 0).ListHistoricalResults(context.Background(), "PL", fixtures.Window{End: end, Days: 30})
	require.NoError(t, err)
	assert.Equal(t, "FINISHED", gotStatus)
	assert.Equal(t, "2025-02-01", gotFrom)
	require.Len(t, got, 1)
	assert.Equal(t, "101", got[0].ID)

	_, err = testClient(srv.URL, 0).ListHistoricalResults(context.Background(), "PL", fixtures.Window{End: end})
	require.NoError(t, err)
	assert.Empty(t, gotFrom, "unbounded window omits the date filter")
}

func TestMapStatus(t *testing.T) {
	tests := map[string]models.FixtureStatus{
		"SCHEDULED": models.StatusScheduled,
		"TIMED":     models.StatusScheduled,
		"IN_PLAY":   models.StatusScheduled,
		"PAUSED":    models.StatusScheduled,
		"FINISHED":  models.StatusFinished,
		"AWARDED":   models.StatusFinished,
		"POSTPONED": models.StatusPostponed,
		"SUSPENDED": models.StatusPostponed,
		"CANCELLED": models.StatusPostponed,
	}
	for in, want := range tests {
		assert.Equal(t, want, mapStatus(in), in)
	}
}

func TestDoRequest_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"matches": []}`))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL, 3).ListFixtures(context.Background(), "PL", fixtures.Day(time.Now()))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRequest_RateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 2).ListFixtures(context.Background(), "PL", fixtures.Day(time.Now()))
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.FetchRateLimit, fe.Reason)
	assert.Equal(t, "PL", fe.League)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoRequest_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 3).ListFixtures(context.Background(), "PL", fixtures.Day(time.Now()))
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.FetchStatus, fe.Reason)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetch_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"matches": [`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, 0).ListFixtures(context.Background(), "PL", fixtures.Day(time.Now()))
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.FetchMalformed, fe.Reason)
}

func TestFetch_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := testClient(url, 1).ListFixtures(context.Background(), "PL", fixtures.Day(time.Now()))
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, models.FetchNetwork, fe.Reason)
}

func TestFetch_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testClient(srv.URL, 5).ListFixtures(ctx, "PL", fixtures.Day(time.Now()))
	var fe *models.FetchError
	require.True(t, errors.As(err, &fe))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff(t *testing.T) {
	c := NewClient(Config{RetryDelayBase: 100 * time.Millisecond, RetryDelayMax: time.Second})
	assert.Equal(t, 100*time.Millisecond, c.backoff(0, nil))
	assert.Equal(t, 400*time.Millisecond, c.backoff(2, nil))
	assert.Equal(t, time.Second, c.backoff(10, nil))

	hinted := &statusError{code: 429, retryAfter: 700 * time.Millisecond}
	assert.Equal(t, 700*time.Millisecond, c.backoff(0, hinted))
	hinted.retryAfter = time.Minute
	assert.Equal(t, time.Second, c.backoff(0, hinted), "retry-after is capped")
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Zero(t, parseRetryAfter(""))
	assert.Zero(t, parseRetryAfter("garbage"))
}
