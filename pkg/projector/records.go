package projector

// Draft phase labels by sequence number.
const (
	PhaseBan1  = "ban_phase_1"  // 1-6
	PhasePick1 = "pick_phase_1" // 7-12
	PhaseBan2  = "ban_phase_2"  // 13-16
	PhasePick2 = "pick_phase_2" // 17-20
)

// SeriesRecord is one row of series.csv.
type SeriesRecord struct {
	ID            string
	TournamentID  *string
	BlueTeamID    *string
	RedTeamID     *string
	Format        *string
	MatchDate     *string
	Started       *bool
	Finished      *bool
	SchemaVersion string
}

// GameRecord is one row of games.csv.
type GameRecord struct {
	ID              string
	SeriesID        string
	GameNumber      *int64
	WinnerTeamID    *string
	DurationSeconds *int64
	PatchVersion    *string
}

// DraftActionRecord is one row of draft_actions.csv.
type DraftActionRecord struct {
	GameID         string
	SeriesID       string
	SequenceNumber int64
	Phase          string
	ActionType     string
	TeamID         *string
	ChampionID     *string
	ChampionName   *string
}

// PlayerGameStatRecord is one row of player_game_stats.csv.
type PlayerGameStatRecord struct {
	GameID            string
	SeriesID          string
	PlayerID          string
	PlayerName        string
	TeamID            string
	TeamSide          string
	TeamWon           *bool
	ChampionID        *string
	ChampionName      *string
	Role              string
	Kills             int64
	Deaths            int64
	Assists           int64
	KDARatio          float64
	KillParticipation *float64
	DamageDealt       *int64

	// GoldEarned is not served by the series-state API; the column stays null.
	GoldEarned *int64

	ExperiencePoints *int64
	VisionScore      *float64
	FirstKill        *bool
	TeamFirstKill    *bool
}

// TeamRecord is one row of teams.csv.
type TeamRecord struct {
	ID   string
	Name string
}

// PlayerRecord is one row of players.csv. Team is the last team the player
// was seen with, in run input order.
type PlayerRecord struct {
	ID       string
	Name     string
	TeamID   string
	TeamName string
}

// ChampionRecord is one row of champions.csv.
type ChampionRecord struct {
	ID   string
	Name string
}

// IssueKind classifies a data-integrity problem.
type IssueKind string

const (
	IssueDraftGap           IssueKind = "draft_sequence_gap"
	IssueDraftDuplicate     IssueKind = "draft_sequence_duplicate"
	IssueDraftOutOfRange    IssueKind = "draft_sequence_out_of_range"
	IssueMissingTeamSide    IssueKind = "missing_team_side"
	IssueMalformedPayload   IssueKind = "malformed_payload"
	IssueMissingSeriesState IssueKind = "missing_series_state"
)

// Issue is one data-integrity problem. The affected records are excluded.
type Issue struct {
	SeriesID string
	GameID   string
	Kind     IssueKind
	Detail   string
}

// Result is the full projection of a run.
type Result struct {
	Series       []SeriesRecord
	Games        []GameRecord
	DraftActions []DraftActionRecord
	PlayerStats  []PlayerGameStatRecord
	Teams        []TeamRecord
	Players      []PlayerRecord
	Champions    []ChampionRecord
	Issues       []Issue
}
