// Package projector turns stored series-state payloads into flat records.
//
// Project is a pure function of its input: the same payloads in the same
// order always produce the same Result. Data-integrity problems are reported
// as Issues and the affected records are left out.
package projector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sternrassler/grid-series-fetcher/pkg/checkpoint"
	"github.com/Sternrassler/grid-series-fetcher/pkg/client"
	"github.com/Sternrassler/grid-series-fetcher/pkg/logging"
)

var projectionIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "grid_projection_issues_total",
	Help: "Total number of data-integrity issues found during projection by kind",
}, []string{"kind"})

// Payload is one stored raw response.
type Payload struct {
	SeriesID string
	Raw      []byte
}

// FromStore projects every stored payload of runID in input order.
func FromStore(ctx context.Context, store checkpoint.Store, runID string) (Result, error) {
	var payloads []Payload
	err := store.ForEachPayload(ctx, runID, func(seriesID string, raw []byte) error {
		payloads = append(payloads, Payload{SeriesID: seriesID, Raw: raw})
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("read payloads: %w", err)
	}

	result := Project(payloads)

	logger := logging.NewLogger("projector")
	for _, issue := range result.Issues {
		projectionIssuesTotal.WithLabelValues(string(issue.Kind)).Inc()
		logger.Warn().
			Str("series_id", issue.SeriesID).
			Str("game_id", issue.GameID).
			Str("kind", string(issue.Kind)).
			Msg(issue.Detail)
	}
	logger.Info().
		Int("payloads", len(payloads)).
		Int("series", len(result.Series)).
		Int("games", len(result.Games)).
		Int("draft_actions", len(result.DraftActions)).
		Int("player_game_stats", len(result.PlayerStats)).
		Int("issues", len(result.Issues)).
		Msg("Projection complete")

	return result, nil
}

// Project converts payloads into records.
func Project(payloads []Payload) Result {
	p := &projection{
		teams:     make(map[string]TeamRecord),
		players:   make(map[string]PlayerRecord),
		champions: make(map[string]ChampionRecord),
	}
	for _, payload := range payloads {
		p.series(payload)
	}
	return p.finish()
}

type projection struct {
	result    Result
	teams     map[string]TeamRecord
	players   map[string]PlayerRecord
	champions map[string]ChampionRecord
}

func (p *projection) issue(seriesID, gameID string, kind IssueKind, format string, args ...any) {
	p.result.Issues = append(p.result.Issues, Issue{
		SeriesID: seriesID,
		GameID:   gameID,
		Kind:     kind,
		Detail:   fmt.Sprintf(format, args...),
	})
}

func (p *projection) series(payload Payload) {
	env, err := decode(payload.Raw)
	if err != nil {
		p.issue(payload.SeriesID, "", IssueMalformedPayload, "payload does not decode: %v", err)
		return
	}
	if env.Data == nil || env.Data.SeriesState == nil {
		p.issue(payload.SeriesID, "", IssueMissingSeriesState, "payload has no seriesState")
		return
	}
	s := env.Data.SeriesState

	version := client.DefaultSchemaVersion
	if s.Version != nil && *s.Version != "" {
		version = *s.Version
	}

	for _, t := range s.Teams {
		p.team(t.ID, t.Name)
	}

	rec := SeriesRecord{
		ID:            payload.SeriesID,
		Format:        s.Format,
		MatchDate:     s.StartedAt,
		Started:       s.Started,
		Finished:      s.Finished,
		SchemaVersion: version,
	}
	if first := firstGame(s.Games); first != nil {
		for _, t := range first.Teams {
			switch side(t.Side) {
			case "blue":
				rec.BlueTeamID = ptr(t.ID)
			case "red":
				rec.RedTeamID = ptr(t.ID)
			}
		}
	}
	p.result.Series = append(p.result.Series, rec)

	for i := range s.Games {
		p.game(payload.SeriesID, &s.Games[i])
	}
}

// firstGame returns the game with sequence number 1.
func firstGame(games []game) *game {
	for i := range games {
		if n := games[i].SequenceNumber; n != nil && *n == 1 {
			return &games[i]
		}
	}
	return nil
}

func (p *projection) game(seriesID string, g *game) {
	rec := GameRecord{
		ID:         g.ID,
		SeriesID:   seriesID,
		GameNumber: g.SequenceNumber.ptr(),
	}
	for _, t := range g.Teams {
		if t.Won != nil && *t.Won {
			rec.WinnerTeamID = ptr(t.ID)
		}
	}
	if g.Clock != nil {
		rec.DurationSeconds = g.Clock.CurrentSeconds
	}
	if g.TitleVersion != nil {
		rec.PatchVersion = g.TitleVersion.Name
	}
	p.result.Games = append(p.result.Games, rec)

	p.draft(seriesID, g)

	for i := range g.Teams {
		p.teamStats(seriesID, g.ID, &g.Teams[i])
	}
}

func (p *projection) teamStats(seriesID, gameID string, t *gameTeam) {
	p.team(t.ID, t.Name)

	teamSide := side(t.Side)
	if teamSide != "blue" && teamSide != "red" {
		got := "null"
		if t.Side != nil {
			got = fmt.Sprintf("%q", *t.Side)
		}
		p.issue(seriesID, gameID, IssueMissingTeamSide,
			"team %s has side %s; %d player rows excluded", t.ID, got, len(t.Players))
		return
	}

	var teamKills int64
	if t.Kills != nil {
		teamKills = *t.Kills
	} else {
		for _, pl := range t.Players {
			teamKills += value(pl.Kills)
		}
	}

	for _, pl := range t.Players {
		kills, deaths, assists := value(pl.Kills), value(pl.Deaths), value(pl.KillAssistsGiven)

		rec := PlayerGameStatRecord{
			GameID:           gameID,
			SeriesID:         seriesID,
			PlayerID:         pl.ID,
			PlayerName:       pl.Name,
			TeamID:           t.ID,
			TeamSide:         teamSide,
			TeamWon:          t.Won,
			Kills:            kills,
			Deaths:           deaths,
			Assists:          assists,
			KDARatio:         KDA(kills, deaths, assists),
			DamageDealt:      pl.DamageDealt,
			ExperiencePoints: pl.ExperiencePoints,
			FirstKill:        pl.FirstKill,
			TeamFirstKill:    t.FirstKill,
		}
		rec.KillParticipation = KillParticipation(kills, assists, teamKills)
		if pl.VisionScore != nil {
			rec.VisionScore = ptr(round2(*pl.VisionScore))
		}

		var champion string
		if pl.Character != nil && pl.Character.ID != "" {
			rec.ChampionID = ptr(pl.Character.ID)
			rec.ChampionName = ptr(pl.Character.Name)
			champion = pl.Character.Name
			p.champion(pl.Character.ID, pl.Character.Name)
		}
		rec.Role = InferRole(champion)
		if len(pl.Roles) > 0 && pl.Roles[0].ID != "" {
			rec.Role = pl.Roles[0].ID
		}

		p.players[pl.ID] = PlayerRecord{ID: pl.ID, Name: pl.Name, TeamID: t.ID, TeamName: t.Name}
		p.result.PlayerStats = append(p.result.PlayerStats, rec)
	}
}

func (p *projection) team(id, name string) {
	if id == "" {
		return
	}
	if prev, ok := p.teams[id]; ok && name == "" {
		name = prev.Name
	}
	p.teams[id] = TeamRecord{ID: id, Name: name}
}

func (p *projection) champion(id, name string) {
	if id == "" {
		return
	}
	p.champions[id] = ChampionRecord{ID: id, Name: name}
}

func (p *projection) finish() Result {
	r := p.result

	r.Teams = sortedValues(p.teams, func(t TeamRecord) string { return t.ID })
	r.Players = sortedValues(p.players, func(pl PlayerRecord) string { return pl.ID })
	r.Champions = sortedValues(p.champions, func(c ChampionRecord) string { return c.ID })
	return r
}

func sortedValues[T any](m map[string]T, key func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}

// KDA is (kills + assists) / max(deaths, 1), rounded to two decimals.
func KDA(kills, deaths, assists int64) float64 {
	return round2(float64(kills+assists) / float64(max(deaths, 1)))
}

// KillParticipation is (kills + assists) / team kills, rounded to two
// decimals. It is nil when the team has no kills.
func KillParticipation(kills, assists, teamKills int64) *float64 {
	if teamKills <= 0 {
		return nil
	}
	return ptr(round2(float64(kills+assists) / float64(teamKills)))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func side(s *string) string {
	if s == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*s))
}

func value(n *int64) int64 {
	if n == nil {
		return 0
	}
	return *n
}

func ptr[T any](v T) *T {
	return &v
}
