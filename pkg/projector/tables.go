package projector

import (
	"github.com/Sternrassler/grid-series-fetcher/pkg/export"
)

// Table names, in export order.
const (
	TableSeries          = "series"
	TableGames           = "games"
	TableDraftActions    = "draft_actions"
	TablePlayerGameStats = "player_game_stats"
	TableTeams           = "teams"
	TablePlayers         = "players"
	TableChampions       = "champions"
	TableIssues          = "integrity_issues"
)

func str(name string) export.Column { return export.Column{Name: name, Type: export.TypeString} }
func num(name string) export.Column { return export.Column{Name: name, Type: export.TypeInt} }
func dec(name string) export.Column { return export.Column{Name: name, Type: export.TypeFloat} }
func flag(name string) export.Column { return export.Column{Name: name, Type: export.TypeBool} }

var (
	seriesColumns = []export.Column{
		str("id"), str("tournament_id"), str("blue_team_id"), str("red_team_id"), str("format"),
		str("match_date"), flag("started"), flag("finished"), str("schema_version"),
	}
	gameColumns = []export.Column{
		str("id"), str("series_id"), num("game_number"), str("winner_team_id"),
		num("duration_seconds"), str("patch_version"),
	}
	draftColumns = []export.Column{
		str("game_id"), str("series_id"), num("sequence_number"), str("phase"), str("action_type"),
		str("team_id"), str("champion_id"), str("champion_name"),
	}
	playerStatColumns = []export.Column{
		str("game_id"), str("series_id"), str("player_id"), str("player_name"), str("team_id"),
		str("team_side"), flag("team_won"), str("champion_id"), str("champion_name"), str("role"),
		num("kills"), num("deaths"), num("assists"), dec("kda_ratio"), dec("kill_participation"),
		num("damage_dealt"), num("gold_earned"), num("experience_points"), dec("vision_score"),
		flag("first_kill"), flag("team_first_kill"),
	}
	teamColumns     = []export.Column{str("id"), str("name")}
	playerColumns   = []export.Column{str("id"), str("name"), str("team_id"), str("team_name")}
	championColumns = []export.Column{str("id"), str("name")}
	issueColumns    = []export.Column{str("series_id"), str("game_id"), str("kind"), str("detail")}
)

func optID(s string) export.Value {
	if s == "" {
		return export.Null()
	}
	return export.Str(s)
}

// Tables returns every table of the result in export order. Empty tables
// still carry their columns.
func (r Result) Tables() []export.Table {
	series := export.Table{Name: TableSeries, Columns: seriesColumns}
	for _, s := range r.Series {
		series.Rows = append(series.Rows, []export.Value{
			export.Str(s.ID), export.OptStr(s.TournamentID), export.OptStr(s.BlueTeamID),
			export.OptStr(s.RedTeamID), export.OptStr(s.Format), export.OptStr(s.MatchDate),
			export.OptBool(s.Started), export.OptBool(s.Finished), export.Str(s.SchemaVersion),
		})
	}

	games := export.Table{Name: TableGames, Columns: gameColumns}
	for _, g := range r.Games {
		games.Rows = append(games.Rows, []export.Value{
			export.Str(g.ID), export.Str(g.SeriesID), export.OptInt(g.GameNumber),
			export.OptStr(g.WinnerTeamID), export.OptInt(g.DurationSeconds), export.OptStr(g.PatchVersion),
		})
	}

	draft := export.Table{Name: TableDraftActions, Columns: draftColumns}
	for _, d := range r.DraftActions {
		draft.Rows = append(draft.Rows, []export.Value{
			export.Str(d.GameID), export.Str(d.SeriesID), export.Int(d.SequenceNumber),
			export.Str(d.Phase), export.Str(d.ActionType), export.OptStr(d.TeamID),
			export.OptStr(d.ChampionID), export.OptStr(d.ChampionName),
		})
	}

	stats := export.Table{Name: TablePlayerGameStats, Columns: playerStatColumns}
	for _, p := range r.PlayerStats {
		stats.Rows = append(stats.Rows, []export.Value{
			export.Str(p.GameID), export.Str(p.SeriesID), export.Str(p.PlayerID), export.Str(p.PlayerName),
			export.Str(p.TeamID), export.Str(p.TeamSide), export.OptBool(p.TeamWon),
			export.OptStr(p.ChampionID), export.OptStr(p.ChampionName), export.Str(p.Role),
			export.Int(p.Kills), export.Int(p.Deaths), export.Int(p.Assists),
			export.Float(p.KDARatio), export.OptFloat(p.KillParticipation),
			export.OptInt(p.DamageDealt), export.OptInt(p.GoldEarned), export.OptInt(p.ExperiencePoints),
			export.OptFloat(p.VisionScore), export.OptBool(p.FirstKill), export.OptBool(p.TeamFirstKill),
		})
	}

	teams := export.Table{Name: TableTeams, Columns: teamColumns}
	for _, t := range r.Teams {
		teams.Rows = append(teams.Rows, []export.Value{export.Str(t.ID), export.Str(t.Name)})
	}

	players := export.Table{Name: TablePlayers, Columns: playerColumns}
	for _, p := range r.Players {
		players.Rows = append(players.Rows, []export.Value{
			export.Str(p.ID), export.Str(p.Name), optID(p.TeamID), export.Str(p.TeamName),
		})
	}

	champions := export.Table{Name: TableChampions, Columns: championColumns}
	for _, c := range r.Champions {
		champions.Rows = append(champions.Rows, []export.Value{export.Str(c.ID), export.Str(c.Name)})
	}

	issues := export.Table{Name: TableIssues, Columns: issueColumns}
	for _, i := range r.Issues {
		issues.Rows = append(issues.Rows, []export.Value{
			export.Str(i.SeriesID), optID(i.GameID), export.Str(string(i.Kind)), export.Str(i.Detail),
		})
	}

	return []export.Table{series, games, draft, stats, teams, players, champions, issues}
}
