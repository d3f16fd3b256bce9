// Package footballdata implements fixtures.Repository on top of the
// football-data.org v4 REST API.
package footballdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Agustinjoel/aftr-mvp/internal/fixtures"
	"github.com/Agustinjoel/aftr-mvp/internal/logger"
	"github.com/Agustinjoel/aftr-mvp/internal/models"
)

const DefaultBaseURL = "https://api.football-data.org"

// Config holds the client's transport settings.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
	RetryDelayMax  time.Duration
}

// Client provides access to the football-data.org API
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var _ fixtures.Repository = (*Client)(nil)

type matchesResponse struct {
	Matches []apiMatch `json:"matches"`
}

type apiMatch struct {
	ID       int64     `json:"id"`
	UTCDate  time.Time `json:"utcDate"`
	Status   string    `json:"status"`
	HomeTeam apiTeam   `json:"homeTeam"`
	AwayTeam apiTeam   `json:"awayTeam"`
	Score    struct {
		FullTime struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"fullTime"`
	} `json:"score"`
	Odds *struct {
		HomeWin *float64 `json:"homeWin"`
		Draw    *float64 `json:"draw"`
		AwayWin *float64 `json:"awayWin"`
	} `json:"odds"`
}

type apiTeam struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NewClient creates a new football-data.org client
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.RetryDelayMax < cfg.RetryDelayBase {
		cfg.RetryDelayMax = cfg.RetryDelayBase
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// ListFixtures returns every match of the competition inside the date range.
func (c *Client) ListFixtures(ctx context.Context, league string, r fixtures.DateRange) ([]models.Fixture, error) {
	q := url.Values{}
	q.Set("dateFrom", r.From.UTC().Format(fixtures.DayLayout))
	q.Set("dateTo", r.To.UTC().Format(fixtures.DayLayout))
	return c.fetchMatches(ctx, league, q, nil)
}

// ListHistoricalResults returns finished matches inside the lookback window.
// An unbounded window asks for the current season's finished matches.
func (c *Client) ListHistoricalResults(ctx context.Context, league string, w fixtures.Window) ([]models.Fixture, error) {
	q := url.Values{}
	q.Set("status", "FINISHED")
	if w.Days > 0 {
		r := w.Range()
		q.Set("dateFrom", r.From.UTC().Format(fixtures.DayLayout))
		q.Set("dateTo", r.To.UTC().Format(fixtures.DayLayout))
	}
	return c.fetchMatches(ctx, league, q, func(f models.Fixture) bool {
		return f.Status == models.StatusFinished
	})
}

func (c *Client) fetchMatches(ctx context.Context, league string, q url.Values, keep func(models.Fixture) bool) ([]models.Fixture, error) {
	u, err := url.Parse(fmt.Sprintf("%s/v4/competitions/%s/matches", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(league)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	u.RawQuery = q.Encode()

	body, err := c.doRequest(ctx, league, u.String())
	if err != nil {
		return nil, err
	}

	var resp matchesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &models.FetchError{League: league, Reason: models.FetchMalformed, Err: fmt.Errorf("failed to decode matches: %w", err)}
	}

	out := make([]models.Fixture, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		f, err := toFixture(league, m)
		if err != nil {
			logger.Warn("Skipping match %d in %s: %v", m.ID, league, err)
			continue
		}
		if keep != nil && !keep(f) {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func toFixture(league string, m apiMatch) (models.Fixture, error) {
	f := models.Fixture{
		ID:       strconv.FormatInt(m.ID, 10),
		League:   league,
		HomeTeam: m.HomeTeam.Name,
		AwayTeam: m.AwayTeam.Name,
		Kickoff:  m.UTCDate.UTC(),
		Status:   mapStatus(m.Status),
	}
	if f.Status == models.StatusFinished {
		ft := m.Score.FullTime
		if ft.Home == nil || ft.Away == nil {
			return f, errors.New("finished match without full-time score")
		}
		f.Score = &models.Score{Home: *ft.Home, Away: *ft.Away}
	}
	if o := m.Odds; o != nil {
		odds := make(map[string]float64, 3)
		setOdds(odds, "1X2", "HOME", o.HomeWin)
		setOdds(odds, "1X2", "DRAW", o.Draw)
		setOdds(odds, "1X2", "AWAY", o.AwayWin)
		if len(odds) > 0 {
			f.Odds = odds
		}
	}
	if err := f.Validate(); err != nil {
		return f, err
	}
	return f, nil
}

func setOdds(dst map[string]float64, market, selection string, v *float64) {
	if v != nil && *v > 1 {
		dst[models.SelectionKey(market, selection)] = *v
	}
}

// mapStatus folds the provider's lifecycle into the three pipeline states.
func mapStatus(s string) models.FixtureStatus {
	switch strings.ToUpper(s) {
	case "FINISHED", "AWARDED":
		return models.StatusFinished
	case "POSTPONED", "SUSPENDED", "CANCELLED", "CANCELED":
		return models.StatusPostponed
	default:
		return models.StatusScheduled
	}
}

// doRequest performs the HTTP request with retry logic. Network errors, 429
// and 5xx are retried with capped exponential backoff.
func (c *Client) doRequest(ctx context.Context, league, urlStr string) ([]byte, error) {
	var lastErr error
	lastReason := models.FetchNetwork

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.backoff(attempt-1, lastErr)); err != nil {
				return nil, &models.FetchError{League: league, Reason: models.FetchNetwork, Err: err}
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, &models.FetchError{League: league, Reason: models.FetchNetwork, Err: err}
		}
		req.Header.Set("Accept", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("X-Auth-Token", c.cfg.APIKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &models.FetchError{League: league, Reason: models.FetchNetwork, Err: ctx.Err()}
			}
			lastErr, lastReason = err, models.FetchNetwork
			logger.Debug("Request to %s failed (attempt %d): %v", urlStr, attempt+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = &statusError{code: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
			lastReason = models.FetchRateLimit
			logger.Warn("Rate limited by football-data.org for %s (attempt %d)", league, attempt+1)
			continue
		case resp.StatusCode >= 500:
			lastErr, lastReason = &statusError{code: resp.StatusCode}, models.FetchStatus
			continue
		case resp.StatusCode != http.StatusOK:
			return nil, &models.FetchError{League: league, Reason: models.FetchStatus, Err: &statusError{code: resp.StatusCode}}
		}
		if readErr != nil {
			lastErr, lastReason = readErr, models.FetchNetwork
			continue
		}
		return body, nil
	}

	return nil, &models.FetchError{League: league, Reason: lastReason, Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}

// backoff returns base*2^n capped at RetryDelayMax; a Retry-After hint
// replaces it when it is longer, still within the cap.
func (c *Client) backoff(n int, lastErr error) time.Duration {
	d := c.cfg.RetryDelayBase
	for i := 0; i < n && d < c.cfg.RetryDelayMax; i++ {
		d *= 2
	}
	var se *statusError
	if errors.As(lastErr, &se) && se.retryAfter > d {
		d = se.retryAfter
	}
	if d > c.cfg.RetryDelayMax {
		d = c.cfg.RetryDelayMax
	}
	return d
}

type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
