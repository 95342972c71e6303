package projector

import (
	"bytes"
	"strconv"

	"github.com/bytedance/sonic"
)

// Decoded shape of a full series-state response. Pointer fields are absent in
// older schema versions or not yet populated for live series.

type envelope struct {
	Data *struct {
		SeriesState *seriesState `json:"seriesState"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type seriesState struct {
	ID        string       `json:"id"`
	Version   *string      `json:"version"`
	Format    *string      `json:"format"`
	Started   *bool        `json:"started"`
	Finished  *bool        `json:"finished"`
	StartedAt *string      `json:"startedAt"`
	Teams     []seriesTeam `json:"teams"`
	Games     []game       `json:"games"`
}

type seriesTeam struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Won   *bool  `json:"won"`
	Score *int64 `json:"score"`
}

type game struct {
	ID             string   `json:"id"`
	SequenceNumber *flexInt `json:"sequenceNumber"`
	Started        *bool    `json:"started"`
	Finished       *bool    `json:"finished"`
	Clock          *struct {
		CurrentSeconds *int64 `json:"currentSeconds"`
	} `json:"clock"`
	TitleVersion *struct {
		Name *string `json:"name"`
	} `json:"titleVersion"`
	DraftActions []draftAction `json:"draftActions"`
	Teams        []gameTeam    `json:"teams"`
}

type draftAction struct {
	ID             string   `json:"id"`
	SequenceNumber *flexInt `json:"sequenceNumber"`
	Type           string   `json:"type"`
	Drafter        *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	} `json:"drafter"`
	Draftable *struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"draftable"`
}

type gameTeam struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Side      *string  `json:"side"`
	Won       *bool    `json:"won"`
	Kills     *int64   `json:"kills"`
	FirstKill *bool    `json:"firstKill"`
	Players   []player `json:"players"`
}

type player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Character *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"character"`
	Roles []struct {
		ID string `json:"id"`
	} `json:"roles"`
	Kills            *int64   `json:"kills"`
	Deaths           *int64   `json:"deaths"`
	KillAssistsGiven *int64   `json:"killAssistsGiven"`
	FirstKill        *bool    `json:"firstKill"`
	DamageDealt      *int64   `json:"damageDealt"`
	ExperiencePoints *int64   `json:"experiencePoints"`
	VisionScore      *float64 `json:"visionScore"`
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

func (f *flexInt) ptr() *int64 {
	if f == nil {
		return nil
	}
	n := int64(*f)
	return &n
}

func decode(raw []byte) (*envelope, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
