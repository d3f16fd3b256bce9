package models

import "time"

// LeagueAverages are the mean goals per match scored by home and away sides.
type LeagueAverages struct {
	Home    float64 `json:"home"`
	Away    float64 `json:"away"`
	Matches int     `json:"matches"`
}

// RoleStrength holds coefficients for one venue role (home or away).
// A coefficient of 1.0 means league-average strength.
type RoleStrength struct {
	Attack        float64 `json:"attack"`
	Defense       float64 `json:"defense"`
	Matches       int     `json:"matches"`
	LowConfidence bool    `json:"low_confidence"`
}

// Available reports whether the role was estimated from at least one match.
func (r RoleStrength) Available() bool {
	return r.Matches > 0
}

// TeamStrength is recomputed every cycle and replaced wholesale.
type TeamStrength struct {
	TeamID     string       `json:"team_id"`
	LeagueID   string       `json:"league_id"`
	Home       RoleStrength `json:"home"`
	Away       RoleStrength `json:"away"`
	ComputedAt time.Time    `json:"computed_at"`
}
